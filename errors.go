// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package bmffmeta

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrBrotliCompressed is returned when writing metadata into a JPEG XL file
	// that already stores the same kind of metadata in a compressed (brob) box.
	ErrBrotliCompressed = errors.New("file contains brotli compressed metadata that can not be read; writing would lose data")

	errTimedOut = errors.New("timed out")
)

// InvalidFormatError is returned when the container is structurally invalid
// (truncated, missing mandatory boxes, unsupported box versions etc.).
type InvalidFormatError struct {
	Err error
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("bmffmeta: %v", e.Err)
}

func (e *InvalidFormatError) Unwrap() error {
	return e.Err
}

// IsInvalidFormat reports whether err is or wraps an *InvalidFormatError.
func IsInvalidFormat(err error) bool {
	var e *InvalidFormatError
	return errors.As(err, &e)
}

func newInvalidFormatError(err error) error {
	if err == nil {
		return nil
	}
	if IsInvalidFormat(err) {
		return err
	}
	return &InvalidFormatError{Err: err}
}

func newInvalidFormatErrorf(format string, args ...any) error {
	return &InvalidFormatError{Err: fmt.Errorf(format, args...)}
}

// isInvalidFormatErrorCandidate reports whether err is a low level read error
// caused by malformed input rather than by the underlying byte source.
func isInvalidFormatErrorCandidate(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, errShortRead)
}

// wrapReadErr adds context to a read error.
// Truncation errors become InvalidFormatErrors, other I/O errors are kept as is.
func wrapReadErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	err = fmt.Errorf(format+": %w", append(args, err)...)
	if isInvalidFormatErrorCandidate(err) {
		return newInvalidFormatError(err)
	}
	return err
}

// finalizeErr is deferred by the exported entry points.
// It converts a recovered panic into an error; malformed input must never
// crash the caller.
func finalizeErr(err error, recovered any) error {
	if recovered != nil && err == nil {
		if errp, ok := recovered.(error); ok {
			err = errp
		} else {
			err = fmt.Errorf("unknown panic: %v", recovered)
		}
	}
	if err == nil {
		return nil
	}
	if isInvalidFormatErrorCandidate(err) {
		err = newInvalidFormatError(err)
	}
	return err
}
