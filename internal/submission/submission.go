// Package submission describes the work product attached when a task or step
// is completed: an uploaded document or a Google Sheets link.
package submission

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/auditflow/pkg/storage"
)

type Type string

const (
	TypeDocument  Type = "document"
	TypeSheetLink Type = "sheet_link"
)

const MaxDocumentSize = 10 << 20

var (
	ErrInvalidSubmission = errors.New("invalid submission")

	allowedExtensions = map[string]struct{}{".pdf": {}, ".doc": {}, ".docx": {}}
	sheetURLPattern   = regexp.MustCompile(`^https://docs\.google\.com/spreadsheets/d/[a-zA-Z0-9_-]+`)
	unsafeNameChars   = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

type Submission struct {
	Type         Type      `json:"type"`
	DocumentPath string    `json:"document_path,omitempty"`
	DocumentName string    `json:"document_name,omitempty"`
	SheetURL     string    `json:"sheet_url,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Value is the string recorded in the audit trail.
func (s *Submission) Value() string {
	if s == nil {
		return ""
	}
	if s.Type == TypeSheetLink {
		return s.SheetURL
	}
	return s.DocumentName
}

func ValidateSheetURL(url string) error {
	if !sheetURLPattern.MatchString(strings.TrimSpace(url)) {
		return fmt.Errorf("%w: %q is not a Google Sheets url", ErrInvalidSubmission, url)
	}
	return nil
}

func ValidateDocument(name string, size int) error {
	if _, ok := allowedExtensions[strings.ToLower(path.Ext(name))]; !ok {
		return fmt.Errorf("%w: only pdf, doc and docx files are accepted", ErrInvalidSubmission)
	}
	if size == 0 {
		return fmt.Errorf("%w: empty document", ErrInvalidSubmission)
	}
	if size > MaxDocumentSize {
		return fmt.Errorf("%w: document exceeds %d bytes", ErrInvalidSubmission, MaxDocumentSize)
	}
	return nil
}

// SecureName strips directory components and unsafe characters.
func SecureName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeNameChars.ReplaceAllString(base, "_")
	return strings.Trim(base, "._")
}

// DocumentStore keeps uploaded documents in a storage backend, keyed by
// ticket id.
type DocumentStore struct {
	storage storage.Storage
}

func NewDocumentStore(s storage.Storage) *DocumentStore {
	return &DocumentStore{storage: s}
}

const documentsPrefix = "documents"

// SaveDocument validates and stores a document, returning the submission to
// attach. order is the step order, 0 for the task itself. Every upload gets
// its own object, {ticketID}_{order}_{ulid}_{name}, so a later upload never
// replaces bytes an earlier submission points at.
func (d *DocumentStore) SaveDocument(ctx context.Context, ticketID string, order int, name string, data []byte, now time.Time) (*Submission, error) {
	safe := SecureName(name)
	if err := ValidateDocument(safe, len(data)); err != nil {
		return nil, err
	}
	p := fmt.Sprintf("%s/%s_%d_%s_%s", documentsPrefix, ticketID, order, ulid.Make(), safe)
	if err := d.storage.Write(ctx, p, data); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	return &Submission{
		Type:         TypeDocument,
		DocumentPath: p,
		DocumentName: safe,
		SubmittedAt:  now,
	}, nil
}

// DeleteDocument removes one stored document. A missing object is not an
// error.
func (d *DocumentStore) DeleteDocument(ctx context.Context, s *Submission) error {
	if s == nil || s.Type != TypeDocument || s.DocumentPath == "" {
		return nil
	}
	if err := d.storage.Delete(ctx, s.DocumentPath); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete document %s: %w", s.DocumentPath, err)
	}
	return nil
}

func (d *DocumentStore) ReadDocument(ctx context.Context, s *Submission) ([]byte, error) {
	if s == nil || s.Type != TypeDocument || s.DocumentPath == "" {
		return nil, fmt.Errorf("no document attached: %w", storage.ErrNotFound)
	}
	return d.storage.Read(ctx, s.DocumentPath)
}

func SheetLink(url string, now time.Time) (*Submission, error) {
	url = strings.TrimSpace(url)
	if err := ValidateSheetURL(url); err != nil {
		return nil, err
	}
	return &Submission{Type: TypeSheetLink, SheetURL: url, SubmittedAt: now}, nil
}

// DeleteDocuments removes every document stored for the ticket and returns
// how many were removed.
func (d *DocumentStore) DeleteDocuments(ctx context.Context, ticketID string) (int, error) {
	paths, err := d.storage.List(ctx, fmt.Sprintf("%s/%s_", documentsPrefix, ticketID))
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}
	n := 0
	for _, p := range paths {
		if err := d.storage.Delete(ctx, p); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return n, fmt.Errorf("failed to delete document %s: %w", p, err)
		}
		n++
	}
	return n, nil
}
