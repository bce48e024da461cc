package clog

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// attrSet holds the attributes collected while a request is handled. They
// are appended, in insertion order, to every record logged with the request
// context.
type attrSet struct {
	mu     sync.RWMutex
	keys   []string
	values map[string]any
}

type attrSetKey struct{}

func ContextWithSlog(ctx context.Context) context.Context {
	if _, ok := ctx.Value(attrSetKey{}).(*attrSet); ok {
		return ctx
	}
	return context.WithValue(ctx, attrSetKey{}, &attrSet{values: make(map[string]any)})
}

func fromContext(ctx context.Context) *attrSet {
	s, _ := ctx.Value(attrSetKey{}).(*attrSet)
	return s
}

func (s *attrSet) set(key string, value any) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// AddAttribute is a no-op when ctx was not prepared by ContextWithSlog.
func AddAttribute(ctx context.Context, key string, value any) {
	s := fromContext(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value)
}

// AddAttributes adds attributes in key order.
func AddAttributes(ctx context.Context, attributes map[string]any) {
	s := fromContext(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range slices.Sorted(maps.Keys(attributes)) {
		s.set(k, attributes[k])
	}
}

func GetAttribute[T any](ctx context.Context, key string) T {
	var zero T
	s := fromContext(ctx)
	if s == nil {
		return zero
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key].(T)
	if !ok {
		return zero
	}
	return v
}

func GetAttributes(ctx context.Context) []slog.Attr {
	s := fromContext(ctx)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs := make([]slog.Attr, 0, len(s.keys))
	for _, k := range s.keys {
		attrs = append(attrs, slog.Any(k, s.values[k]))
	}
	return attrs
}

const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"
)

func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

func GetError(ctx context.Context) error {
	return GetAttribute[error](ctx, ErrorAttributeKey)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}

func GetStack(ctx context.Context) string {
	return GetAttribute[string](ctx, StackAttributeKey)
}
