package sourceconfig

import (
	"context"
	"sync"
)

// MemoryKV is an in-process KV backed by sync.Map. Keys are independent, so
// writers on different keys never block each other.
type MemoryKV struct {
	values sync.Map
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{}
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.values.Load(key)
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

// Set implements KV.
func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.values.Store(key, value)
	return nil
}
