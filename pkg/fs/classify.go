package fs

import (
	"context"
	"os"

	"github.com/sidkik/remotesync/pkg/errors"
)

// Classify maps an error returned by a backend onto the error taxonomy:
// FileNotFound, PermissionDenied, or IOError for anything else. Context
// cancellation is passed through untouched.
func Classify(op, path string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.IsNotFound(err), errors.IsPermissionDenied(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case os.IsNotExist(err), errors.Is(err, os.ErrNotExist):
		return errors.FileNotFound{Path: path}
	case os.IsPermission(err), errors.Is(err, os.ErrPermission):
		return errors.PermissionDenied{Path: path}
	}

	if ioErr, ok := err.(errors.IOError); ok {
		return ioErr
	}
	return errors.IOError{Op: op, Path: path, Err: err}
}
