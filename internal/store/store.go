// Package store implements core.MessageStore on SQLite and in memory.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Parley/internal/core"
)

var (
	// ErrMessageNotFound indicates the message does not exist.
	ErrMessageNotFound = core.ErrMessageNotFound
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown store driver")
)

// Open returns the store selected by driver ("sqlite" or "memory").
func Open(driver, path string) (core.MessageStore, error) {
	switch driver {
	case "", "sqlite":
		return OpenSQLite(path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
