// Package checkpoint decorates errors with the file and line where they passed
// a checkpoint, which results in something similar to a stacktrace.
// Every error added to a checkpoint can be checked by errors.Is and retrieved
// by errors.As.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

// From wraps err by a new checkpoint which records the caller.
// It returns nil if err is nil.
func From(err error) error {
	if err == nil || passThrough(err) {
		return err
	}
	return at(2, err, nil)
}

// Wrap records the caller together with err which describes what went wrong
// at this point, and prev which caused it:
//  var ErrReadCluster = errors.New("could not read cluster")
//
//  func readCluster() error {
//  	err := device.ReadSectors(lba, buf, count)
//  	return checkpoint.Wrap(err, ErrReadCluster)
//  }
// errors.Is matches both ErrReadCluster and the device error.
// Wrap returns nil if prev is nil, so it can wrap unconditionally.
func Wrap(prev, err error) error {
	if prev == nil || passThrough(prev) {
		return prev
	}
	return at(2, err, prev)
}

// Errorf is like Wrap but builds the describing error from a format. The
// format may use %w to keep a sentinel error matchable.
func Errorf(prev error, format string, args ...interface{}) error {
	if prev == nil || passThrough(prev) {
		return prev
	}
	return at(2, fmt.Errorf(format, args...), prev)
}

// passThrough reports errors which callers compare with == and therefore
// must never be wrapped. See https://github.com/golang/go/issues/39155
func passThrough(err error) bool {
	return err == io.EOF
}

func at(skip int, err, prev error) error {
	_, file, line, ok := runtime.Caller(skip)
	return &checkpoint{
		err:      err,
		prev:     prev,
		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

type checkpoint struct {
	err  error
	prev error

	callerOk bool
	file     string
	line     int
}

func (e *checkpoint) location() string {
	if e.callerOk {
		return fmt.Sprintf("%s:%d", e.file, e.line)
	}
	return "unknown"
}

func (e *checkpoint) Error() string {
	msg := fmt.Sprintf("File: %s\n\t%v", e.location(), e.err)
	if e.prev == nil {
		return msg
	}

	// Previous errors which are no checkpoints get their own indented block.
	prev := e.prev.Error()
	if _, ok := e.prev.(*checkpoint); !ok {
		prev = "File: unknown\n\t" + strings.ReplaceAll(prev, "\n", "\n\t")
	}
	return msg + "\n" + prev
}

func (e *checkpoint) Unwrap() error {
	return e.prev
}

func (e *checkpoint) Is(target error) bool {
	return errors.Is(e.err, target)
}

func (e *checkpoint) As(target interface{}) bool {
	return errors.As(e.err, target)
}
