package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkalashnik/openwrite/pkg/ports"
	"github.com/dkalashnik/openwrite/pkg/state"
)

// ErrUnavailable means the local store cannot be used. Sessions keep working in memory.
var ErrUnavailable = errors.New("local record store unavailable")

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// DeviceStores opens one RecordStore per device (chat).
type DeviceStores interface {
	ForDevice(deviceID string) (ports.RecordStore, error)
	Close() error
}

// Open returns the DeviceStores for backend rooted at path.
func Open(backend, path string) (DeviceStores, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMemory:
		return &memoryStores{stores: make(map[string]*MemoryStore)}, nil
	case BackendFile:
		return &fileStores{root: path}, nil
	case BackendSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown record store backend '%s'", backend)
	}
}

// MemoryStore keeps records for a single device in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[state.RecordKey]state.PersistedRecord
}

var _ ports.RecordStore = (*MemoryStore)(nil)
var _ ports.RecordPruner = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[state.RecordKey]state.PersistedRecord)}
}

func (m *MemoryStore) Get(_ context.Context, key state.RecordKey) (state.PersistedRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key state.RecordKey, record state.PersistedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = record
	return nil
}

func (m *MemoryStore) Prune(_ context.Context, keepDay string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key := range m.records {
		if key.Day != keepDay {
			delete(m.records, key)
			removed++
		}
	}
	return removed, nil
}

type memoryStores struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

func (m *memoryStores) ForDevice(deviceID string) (ports.RecordStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	store, ok := m.stores[deviceID]
	if !ok {
		store = NewMemoryStore()
		m.stores[deviceID] = store
	}
	return store, nil
}

func (m *memoryStores) Close() error {
	return nil
}
