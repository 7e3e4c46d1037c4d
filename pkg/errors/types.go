package errors

import (
	"fmt"
)

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// PermissionDenied represents when a path exists but the backend refused
// access to it.
type PermissionDenied struct {
	Path string
}

func (err PermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: %q", err.Path)
}

// IOError is a transport or disk failure while operating on Path.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (err IOError) Error() string {
	return fmt.Sprintf("%s %q: %s", err.Op, err.Path, err.Err)
}

func (err IOError) Unwrap() error {
	return err.Err
}

// ConfigInvalid is a malformed configuration value. Callers usually treat it
// as a warning.
type ConfigInvalid struct {
	Field  string
	Reason string
}

func (err ConfigInvalid) Error() string {
	return fmt.Sprintf("invalid %s: %s", err.Field, err.Reason)
}

// IsNotFound returns whether err, or any error it wraps, is a FileNotFound.
func IsNotFound(err error) bool {
	var notFound FileNotFound
	return As(err, &notFound)
}

// IsPermissionDenied returns whether err, or any error it wraps, is a
// PermissionDenied.
func IsPermissionDenied(err error) bool {
	var denied PermissionDenied
	return As(err, &denied)
}
