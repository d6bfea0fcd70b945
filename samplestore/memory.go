package samplestore

import (
	"sync"
	"sync/atomic"

	"fkreview/metrics"

	"github.com/zeebo/xxh3"
)

// shardCount must stay a power of two for the mask in shardIndex.
const shardCount = 64

type memoryShard struct {
	mu    sync.RWMutex
	items map[string][]float64
}

// Memory is a sharded in-process sample store.
// Buffers are copied on the way in and out so callers never alias cached data.
type Memory struct {
	shards  [shardCount]memoryShard
	entries atomic.Int64
	bytes   atomic.Int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.shards {
		m.shards[i].items = make(map[string][]float64)
	}
	return m
}

func shardIndex(id string) int {
	return int(xxh3.HashString(id) & (shardCount - 1))
}

func (m *Memory) Has(id string) bool {
	shard := &m.shards[shardIndex(id)]
	shard.mu.RLock()
	_, ok := shard.items[id]
	shard.mu.RUnlock()
	return ok
}

// Purpose: Cache samples under id unless already present.
// Key aspects: Duplicate ids are ignored; the first stored value wins.
// Upstream: worker filter/design ops, session materialization.
// Downstream: shard map, metrics gauges.
func (m *Memory) Store(id string, samples []float64) error {
	if id == "" {
		return ErrEmptyID
	}
	shard := &m.shards[shardIndex(id)]
	shard.mu.Lock()
	if _, ok := shard.items[id]; ok {
		shard.mu.Unlock()
		return nil
	}
	shard.items[id] = append([]float64(nil), samples...)
	shard.mu.Unlock()

	m.entries.Add(1)
	m.bytes.Add(int64(len(samples) * 8))
	m.publish()
	return nil
}

func (m *Memory) Retrieve(id string) ([]float64, error) {
	shard := &m.shards[shardIndex(id)]
	shard.mu.RLock()
	samples, ok := shard.items[id]
	var out []float64
	if ok {
		out = append([]float64(nil), samples...)
	}
	shard.mu.RUnlock()
	if !ok {
		metrics.SampleStoreLookups.WithLabelValues(BackendMemory, "miss").Inc()
		return nil, notFound(id)
	}
	metrics.SampleStoreLookups.WithLabelValues(BackendMemory, "hit").Inc()
	return out, nil
}

// Clear drops every cached buffer.
func (m *Memory) Clear() error {
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		shard.items = make(map[string][]float64)
		shard.mu.Unlock()
	}
	m.entries.Store(0)
	m.bytes.Store(0)
	m.publish()
	return nil
}

func (m *Memory) Stats() Stats {
	return Stats{Entries: m.entries.Load(), Bytes: m.bytes.Load()}
}

func (m *Memory) Close() error {
	return m.Clear()
}

func (m *Memory) publish() {
	metrics.SampleStoreEntries.WithLabelValues(BackendMemory).Set(float64(m.entries.Load()))
	metrics.SampleStoreBytes.WithLabelValues(BackendMemory).Set(float64(m.bytes.Load()))
}
