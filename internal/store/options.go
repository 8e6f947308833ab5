package store

import (
	"os"
	"time"
)

// OptionFunc configures a Store.
type OptionFunc func(*options)

type options struct {
	defaultTitle string
	fileMode     os.FileMode
	dirMode      os.FileMode
	now          func() time.Time
}

func defaultOptions() options {
	return options{
		defaultTitle: "Untitled Capture",
		fileMode:     0600,
		dirMode:      0700,
		now:          time.Now,
	}
}

// WithDefaultTitle sets the title given to captures created without one.
func WithDefaultTitle(title string) OptionFunc {
	return func(o *options) {
		if title != "" {
			o.defaultTitle = title
		}
	}
}

// WithFileMode sets the permission bits of files the store creates.
func WithFileMode(mode os.FileMode) OptionFunc {
	return func(o *options) {
		o.fileMode = mode
	}
}

// WithDirMode sets the permission bits of the store root when created.
func WithDirMode(mode os.FileMode) OptionFunc {
	return func(o *options) {
		o.dirMode = mode
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) OptionFunc {
	return func(o *options) {
		o.now = now
	}
}
