package samplestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"fkreview/metrics"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/dustin/go-humanize"
)

const (
	samplePrefix = "s|"
	metaCountKey = "meta|count"
	metaBytesKey = "meta|bytes"
)

const (
	defaultCacheSizeBytes  = int64(64 << 20) // 64MB block cache for hot waveforms
	defaultBloomFilterBits = 10
	defaultWriteQueueDepth = 64
)

var errInvalidMeta = errors.New("samplestore: invalid metadata")

// PebbleOptions tunes the persistent backend. Zero fields take defaults.
type PebbleOptions struct {
	CacheSizeBytes        int64
	BloomFilterBitsPerKey int
	WriteQueueDepth       int
}

// Pebble persists sample buffers so a restarted session can reuse filtered
// waveforms. Values are little-endian float64 so round trips are bit-exact.
type Pebble struct {
	db     *pebble.DB
	cache  *pebble.Cache
	writes chan writeRequest
	done   chan struct{}

	mu      sync.RWMutex // closed; held shared by readers of db
	closed  bool
	entries atomic.Int64
	bytes   atomic.Int64
}

type writeKind int

const (
	writeStore writeKind = iota
	writeClear
)

type writeRequest struct {
	kind    writeKind
	id      string
	samples []float64
	resp    chan error
}

func sanitizePebbleOptions(opts PebbleOptions) PebbleOptions {
	if opts.CacheSizeBytes <= 0 {
		opts.CacheSizeBytes = defaultCacheSizeBytes
	}
	if opts.BloomFilterBitsPerKey <= 0 {
		opts.BloomFilterBitsPerKey = defaultBloomFilterBits
	}
	if opts.WriteQueueDepth <= 0 {
		opts.WriteQueueDepth = defaultWriteQueueDepth
	}
	return opts
}

// Purpose: Open or create the Pebble sample store at path.
// Key aspects: Bloom filters on every level; single writer goroutine.
// Upstream: Open.
// Downstream: pebble.Open, writeLoop.
func OpenPebble(path string, opts PebbleOptions) (*Pebble, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("samplestore: pebble path is empty")
	}
	opts = sanitizePebbleOptions(opts)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("samplestore: ensure directory: %w", err)
	}

	pebbleOpts := &pebble.Options{
		Cache: pebble.NewCache(opts.CacheSizeBytes),
	}
	level := pebble.LevelOptions{
		FilterPolicy: bloom.FilterPolicy(opts.BloomFilterBitsPerKey),
		FilterType:   pebble.TableFilter,
	}
	pebbleOpts.Levels = make([]pebble.LevelOptions, 7)
	for i := range pebbleOpts.Levels {
		pebbleOpts.Levels[i] = level
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		pebbleOpts.Cache.Unref()
		return nil, fmt.Errorf("samplestore: open: %w", err)
	}
	s := &Pebble{
		db:     db,
		cache:  pebbleOpts.Cache,
		writes: make(chan writeRequest, opts.WriteQueueDepth),
		done:   make(chan struct{}),
	}
	count, err := readMeta(db, metaCountKey)
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		_ = db.Close()
		pebbleOpts.Cache.Unref()
		return nil, err
	}
	size, err := readMeta(db, metaBytesKey)
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		_ = db.Close()
		pebbleOpts.Cache.Unref()
		return nil, err
	}
	s.entries.Store(count)
	s.bytes.Store(size)
	s.publish()
	log.Printf("SampleStore: pebble %s opened (%d waveforms, %s)", path, count, humanize.Bytes(uint64(size)))
	go s.writeLoop()
	return s, nil
}

func (s *Pebble) Has(id string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.db == nil {
		return false
	}
	_, closer, err := s.db.Get(sampleKey(id))
	if err != nil {
		return false
	}
	_ = closer.Close()
	return true
}

// Purpose: Persist samples under id unless already present.
// Key aspects: Routed through the single writer so the existence check and
// the write cannot race.
// Upstream: worker filter op, session materialization.
// Downstream: writeLoop.
func (s *Pebble) Store(id string, samples []float64) error {
	if id == "" {
		return ErrEmptyID
	}
	resp := make(chan error, 1)
	if err := s.enqueue(writeRequest{kind: writeStore, id: id, samples: samples, resp: resp}); err != nil {
		return err
	}
	return <-resp
}

func (s *Pebble) Retrieve(id string) ([]float64, error) {
	if s == nil {
		return nil, errStoreClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.db == nil {
		return nil, errStoreClosed
	}
	value, closer, err := s.db.Get(sampleKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			metrics.SampleStoreLookups.WithLabelValues(BackendPebble, "miss").Inc()
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("samplestore: get %s: %w", id, err)
	}
	defer closer.Close()
	samples, err := decodeSamples(value)
	if err != nil {
		return nil, fmt.Errorf("samplestore: decode %s: %w", id, err)
	}
	metrics.SampleStoreLookups.WithLabelValues(BackendPebble, "hit").Inc()
	return samples, nil
}

// Clear deletes every stored waveform.
func (s *Pebble) Clear() error {
	resp := make(chan error, 1)
	if err := s.enqueue(writeRequest{kind: writeClear, resp: resp}); err != nil {
		return err
	}
	return <-resp
}

func (s *Pebble) Stats() Stats {
	return Stats{Entries: s.entries.Load(), Bytes: s.bytes.Load()}
}

// Purpose: Drain the writer and release Pebble resources.
// Key aspects: Safe to call more than once. Reads after Close report a
// closed store instead of touching the released database.
// Upstream: main shutdown, tests.
// Downstream: db.Close, cache.Unref.
func (s *Pebble) Close() error {
	if s == nil {
		return nil
	}
	if !s.closeWriter() {
		return nil
	}
	<-s.done
	// Wait out in-flight readers.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if s.cache != nil {
		s.cache.Unref()
		s.cache = nil
	}
	return err
}

func (s *Pebble) enqueue(req writeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	s.writes <- req
	return nil
}

func (s *Pebble) closeWriter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.writes)
	return true
}

func (s *Pebble) writeLoop() {
	defer close(s.done)
	for req := range s.writes {
		var err error
		switch req.kind {
		case writeStore:
			err = s.applyStore(req.id, req.samples)
		case writeClear:
			err = s.applyClear()
		default:
			err = fmt.Errorf("samplestore: unknown write request")
		}
		if req.resp != nil {
			req.resp <- err
		}
	}
}

func (s *Pebble) applyStore(id string, samples []float64) error {
	key := sampleKey(id)
	if _, closer, err := s.db.Get(key); err == nil {
		_ = closer.Close()
		return nil
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("samplestore: check %s: %w", id, err)
	}
	count := s.entries.Load() + 1
	size := s.bytes.Load() + int64(len(samples)*8)

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(key, encodeSamples(samples), pebble.NoSync); err != nil {
		return fmt.Errorf("samplestore: set %s: %w", id, err)
	}
	if err := batch.Set([]byte(metaCountKey), encodeMeta(count), pebble.NoSync); err != nil {
		return fmt.Errorf("samplestore: set count: %w", err)
	}
	if err := batch.Set([]byte(metaBytesKey), encodeMeta(size), pebble.NoSync); err != nil {
		return fmt.Errorf("samplestore: set bytes: %w", err)
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("samplestore: commit %s: %w", id, err)
	}
	s.entries.Store(count)
	s.bytes.Store(size)
	s.publish()
	return nil
}

func (s *Pebble) applyClear() error {
	lower := []byte(samplePrefix)
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(lower, prefixUpperBound(lower), pebble.NoSync); err != nil {
		return fmt.Errorf("samplestore: clear range: %w", err)
	}
	if err := batch.Set([]byte(metaCountKey), encodeMeta(0), pebble.NoSync); err != nil {
		return fmt.Errorf("samplestore: reset count: %w", err)
	}
	if err := batch.Set([]byte(metaBytesKey), encodeMeta(0), pebble.NoSync); err != nil {
		return fmt.Errorf("samplestore: reset bytes: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("samplestore: commit clear: %w", err)
	}
	s.entries.Store(0)
	s.bytes.Store(0)
	s.publish()
	return nil
}

func (s *Pebble) publish() {
	metrics.SampleStoreEntries.WithLabelValues(BackendPebble).Set(float64(s.entries.Load()))
	metrics.SampleStoreBytes.WithLabelValues(BackendPebble).Set(float64(s.bytes.Load()))
}

func sampleKey(id string) []byte {
	return []byte(samplePrefix + id)
}

func encodeSamples(samples []float64) []byte {
	buf := make([]byte, len(samples)*8)
	for i, v := range samples {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func decodeSamples(raw []byte) ([]float64, error) {
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("samplestore: value length %d is not a multiple of 8", len(raw))
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}

func encodeMeta(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func readMeta(db *pebble.DB, key string) (int64, error) {
	value, closer, err := db.Get([]byte(key))
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(value) != 8 {
		return 0, errInvalidMeta
	}
	return int64(binary.BigEndian.Uint64(value)), nil
}

func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
