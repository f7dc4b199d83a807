package kafka

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

type partitionKey struct {
	topic     string
	partition int
}

// offsetTracker turns out-of-order completions from the worker pool into
// in-order commits. Committing offset n tells the broker everything up to n
// is done, so it may only move past offsets that really are.
type offsetTracker struct {
	mu       sync.Mutex
	inflight map[partitionKey][]int64
	finished map[partitionKey]map[int64]bool

	commitMu  sync.Mutex
	committed map[partitionKey]int64
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{
		inflight:  map[partitionKey][]int64{},
		finished:  map[partitionKey]map[int64]bool{},
		committed: map[partitionKey]int64{},
	}
}

// track registers a fetched message. Fetches arrive in offset order per
// partition.
func (t *offsetTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := partitionKey{m.Topic, m.Partition}
	t.inflight[k] = append(t.inflight[k], m.Offset)
}

// done marks m finished and returns the highest message of its partition
// whose predecessors are all finished, if that moved.
func (t *offsetTracker) done(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := partitionKey{m.Topic, m.Partition}
	if t.finished[k] == nil {
		t.finished[k] = map[int64]bool{}
	}
	t.finished[k][m.Offset] = true

	pending := t.inflight[k]
	last := int64(-1)
	for len(pending) > 0 && t.finished[k][pending[0]] {
		last = pending[0]
		delete(t.finished[k], last)
		pending = pending[1:]
	}
	t.inflight[k] = pending
	if last < 0 {
		return kafka.Message{}, false
	}
	return kafka.Message{Topic: m.Topic, Partition: m.Partition, Offset: last}, true
}

// advance records m as committed unless a later offset already was. Callers
// hold commitMu.
func (t *offsetTracker) advance(m kafka.Message) bool {
	k := partitionKey{m.Topic, m.Partition}
	if prev, ok := t.committed[k]; ok && prev >= m.Offset {
		return false
	}
	t.committed[k] = m.Offset
	return true
}
