package records

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dkalashnik/openwrite/pkg/ports"
	"github.com/dkalashnik/openwrite/pkg/state"
)

// FileStore keeps one JSON document per device, mapping "day|promptId" to a record.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ ports.RecordStore = (*FileStore)(nil)
var _ ports.RecordPruner = (*FileStore)(nil)

type fileDocument struct {
	Records map[string]state.PersistedRecord `json:"records"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(_ context.Context, key state.RecordKey) (state.PersistedRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return state.PersistedRecord{}, false, err
	}
	rec, ok := doc.Records[key.String()]
	return rec, ok, nil
}

func (s *FileStore) Set(_ context.Context, key state.RecordKey, record state.PersistedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Records[key.String()] = record
	return s.save(doc)
}

func (s *FileStore) Prune(_ context.Context, keepDay string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return 0, err
	}
	removed := 0
	for k := range doc.Records {
		if !strings.HasPrefix(k, keepDay+"|") {
			delete(doc.Records, k)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(doc)
}

func (s *FileStore) load() (fileDocument, error) {
	doc := fileDocument{Records: make(map[string]state.PersistedRecord)}
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("%w: read %s: %v", ErrUnavailable, s.path, err)
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return doc, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, s.path, err)
	}
	if doc.Records == nil {
		doc.Records = make(map[string]state.PersistedRecord)
	}
	return doc, nil
}

func (s *FileStore) save(doc fileDocument) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: create dir: %v", ErrUnavailable, err)
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", ErrUnavailable, tmp, err)
	}
	return nil
}

type fileStores struct {
	root   string
	mu     sync.Mutex
	stores map[string]*FileStore
}

func (f *fileStores) ForDevice(deviceID string) (ports.RecordStore, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stores == nil {
		f.stores = make(map[string]*FileStore)
	}
	store, ok := f.stores[deviceID]
	if !ok {
		store = NewFileStore(filepath.Join(f.root, "device-"+deviceID+".json"))
		f.stores[deviceID] = store
	}
	return store, nil
}

func (f *fileStores) Close() error {
	return nil
}
