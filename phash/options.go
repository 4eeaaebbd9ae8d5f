package phash

import (
	"io"
	"log/slog"

	"github.com/hupe1980/readstore/internal/fs"
)

type options struct {
	logger *slog.Logger
	fs     fs.FileSystem
}

// Option configures a Table.
type Option func(*options)

// WithLogger sets the logger used for growth and lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFileSystem sets the file system holding the image.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		fs:     fs.Default,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
