// Package samplestore caches interleaved waveform sample buffers under
// deterministic claim-check ids so filtered and raw data are never fetched
// or filtered twice.
package samplestore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Retrieve when no samples exist for an id.
	ErrNotFound = errors.New("samplestore: not found")
	// ErrEmptyID rejects blank ids.
	ErrEmptyID = errors.New("samplestore: empty id")

	errStoreClosed = errors.New("samplestore: store is closed")
)

// Store is the claim-check sample cache.
// Store is idempotent: storing an id that already exists is a no-op.
type Store interface {
	Has(id string) bool
	Store(id string, samples []float64) error
	Retrieve(id string) ([]float64, error)
	Clear() error
	Stats() Stats
	Close() error
}

// Stats reports the size of a store.
type Stats struct {
	Entries int64
	Bytes   int64
}

const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
)

// Options selects and tunes a backend.
type Options struct {
	Backend        string
	Path           string
	CacheSizeBytes int64
}

// Purpose: Open the backend named in opts.
// Key aspects: Empty backend means memory; unknown names are rejected.
// Upstream: main startup.
// Downstream: NewMemory, OpenPebble.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendPebble:
		return OpenPebble(opts.Path, PebbleOptions{CacheSizeBytes: opts.CacheSizeBytes})
	default:
		return nil, fmt.Errorf("samplestore: unknown backend %q", opts.Backend)
	}
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
