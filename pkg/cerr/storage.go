package cerr

import (
	"errors"
	"fmt"

	"github.com/kazz187/auditflow/pkg/storage"
)

// WrapStorageError maps a storage failure on target to a coded error.
// Missing objects become NotFound and rejected paths InvalidArgument.
func WrapStorageError(op, target string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	case errors.Is(err, storage.ErrInvalidPath):
		return NewError(InvalidArgument, fmt.Sprintf("invalid %s path", target), err)
	default:
		return NewError(Internal, "server error", fmt.Errorf("failed to %s %s: %w", op, target, err))
	}
}

func WrapStorageReadError(target string, err error) error {
	return WrapStorageError("read", target, err)
}
