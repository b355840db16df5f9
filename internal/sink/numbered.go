package sink

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/sweeney/field-logger/internal/errors"
)

// MaxFileNumber bounds the two-digit file counter.
const MaxFileNumber = 99

// Preamble is written at the top of every new numbered file.
type Preamble struct {
	Software string
	Session  uuid.UUID
	// Created is nil when no wall clock is available.
	Created *time.Time
}

// OpenNumbered creates the first unused file dir/<code><prefix>NN<suffix>
// for NN from 00 to 99 and writes the preamble into it.
func OpenNumbered(fs afero.Fs, dir, code, prefix, suffix string, p Preamble) (*File, error) {
	errFactory := errors.New()

	for n := 0; n <= MaxFileNumber; n++ {
		path := filepath.Join(dir, fmt.Sprintf("%s%s%02d%s", code, prefix, n, suffix))
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrSinkUnavailable, err)
		}
		if exists {
			continue
		}

		if err := afero.WriteFile(fs, path, []byte(p.render(path)), 0o644); err != nil {
			return nil, errFactory.Wrap(errors.ErrSinkUnavailable, err)
		}
		return NewFile(fs, path), nil
	}

	return nil, errFactory.WithData(errors.ErrSinkUnavailable, struct {
		Dir    string
		Prefix string
	}{dir, code + prefix})
}

func (p Preamble) render(path string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Field Logger File: %s\n", path)
	fmt.Fprintf(&sb, "Field Logger Software: %s\n", p.Software)
	fmt.Fprintf(&sb, "Field Logger Session: %s\n", p.Session)
	if p.Created != nil {
		fmt.Fprintf(&sb, "Field Logger Date file created: %s\n", p.Created.Format("1/2/2006"))
		fmt.Fprintf(&sb, "Field Logger time file created: %s\n", p.Created.Format("15:04:05"))
	} else {
		sb.WriteString("Field Logger Date file created: no RTC available\n")
	}
	sb.WriteString("-------------------------------------------------------------\n\n")
	return sb.String()
}

// SessionDir creates the directory that holds this run's files: d<YYMMDD>
// from the wall clock, or d<folder> when there is none. When the directory
// cannot be made the root is returned together with the error.
func SessionDir(fs afero.Fs, root string, wall *time.Time, folder string) (string, error) {
	name := "d" + folder
	if wall != nil {
		name = "d" + wall.Format("060102")
	}
	dir := filepath.Join(root, name)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return root, errors.New().Wrap(errors.ErrSinkUnavailable, err)
	}
	return dir, nil
}
