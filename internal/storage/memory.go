package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryKV keeps every region in process memory. Used by tests and dev runs.
type MemoryKV struct {
	mu     sync.RWMutex
	data   map[Region]map[string][]byte
	closed bool
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[Region]map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, region Region, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	value, ok := m.data[region][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *MemoryKV) Scan(_ context.Context, region Region, prefix string, fn func(key string, value []byte) (bool, error)) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]string, 0, len(m.data[region]))
	values := make(map[string][]byte)
	for key, value := range m.data[region] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
			values[key] = append([]byte(nil), value...)
		}
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, key := range keys {
		more, err := fn(key, values[key])
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (m *MemoryKV) Apply(_ context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, w := range writes {
		region := m.data[w.Region]
		if region == nil {
			region = make(map[string][]byte)
			m.data[w.Region] = region
		}
		if w.Delete {
			delete(region, w.Key)
			continue
		}
		region[w.Key] = append([]byte(nil), w.Value...)
	}
	return nil
}

func (m *MemoryKV) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
