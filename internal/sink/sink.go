// Package sink provides the append-only text destinations reports are
// written to: numbered data files on an afero filesystem and the console.
package sink

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/sweeney/field-logger/internal/errors"
)

// Appender accepts whole records. fn renders one record into the writer;
// the record is only visible once Append returns nil.
type Appender interface {
	Append(ctx context.Context, fn func(io.Writer) error) error
}

// File appends to a single file. The file is opened and closed on every
// Append so a removed card or rotated file is noticed on the next record.
type File struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewFile returns an Appender for path on fs. The file is created on the
// first Append.
func NewFile(fs afero.Fs, path string) *File {
	return &File{fs: fs, path: path}
}

// Path returns the file name.
func (f *File) Path() string {
	return f.path
}

// Append opens the file, renders the record through a buffer and always
// flushes and closes before returning.
func (f *File) Append(ctx context.Context, fn func(io.Writer) error) (err error) {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(errors.ErrSinkUnavailable, ctx.Err())
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	h, err := f.fs.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errFactory.Wrap(errors.ErrSinkUnavailable, err)
	}
	defer func() {
		if cerr := h.Close(); cerr != nil && err == nil {
			err = errFactory.Wrap(errors.ErrSinkUnavailable, cerr)
		}
	}()

	bw := bufio.NewWriter(h)
	werr := fn(bw)
	ferr := bw.Flush()
	if werr != nil {
		if errors.HasCode(werr, errors.ErrSinkUnavailable) {
			return werr
		}
		return errFactory.Wrap(errors.ErrSinkUnavailable, werr)
	}
	if ferr != nil {
		return errFactory.Wrap(errors.ErrSinkUnavailable, ferr)
	}
	return nil
}

// Console writes records straight to w, serialised.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns an Appender on w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Append renders one record to the console writer.
func (c *Console) Append(ctx context.Context, fn func(io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return errors.New().Wrap(errors.ErrSinkUnavailable, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.w)
}

// Discard drops every record. It stands in for disabled outputs.
type Discard struct{}

// Append discards the record.
func (Discard) Append(context.Context, func(io.Writer) error) error {
	return nil
}
