package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"chara-go/internal/chara"
)

var _ chara.Vault = (*MemoryVault)(nil)

type memItem struct {
	data    []byte
	version int64
}

// MemoryVault keeps snapshot content and metadata in maps. It backs the
// "memory" vault type and tests. Safe for concurrent use.
type MemoryVault struct {
	name string

	mu       sync.RWMutex
	content  map[string][]byte   // checksum -> bytes
	metadata map[string]*memItem // "hostID/name" -> item
}

func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		content:  map[string][]byte{},
		metadata: map[string]*memItem{},
	}
}

// readSized reads all of r and checks it produced exactly size bytes.
func readSized(r io.Reader, size int64) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return data, nil
}

// PutContent keeps the first copy stored under checksum.
func (m *MemoryVault) PutContent(checksum string, r io.Reader, size int64) error {
	data, err := readSized(r, size)
	if err != nil {
		return fmt.Errorf("storing content %s: %w", checksum, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.content[checksum]; !ok {
		m.content[checksum] = data
	}
	return nil
}

func (m *MemoryVault) GetContent(checksum string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[checksum]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("content not found: %s", checksum)
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (m *MemoryVault) HasContent(checksum string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[checksum]
	return ok, nil
}

// ContentCount returns the number of distinct content items stored.
func (m *MemoryVault) ContentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

func (m *MemoryVault) PutMetadata(hostID string, name string, r io.Reader, size int64, version int64) error {
	data, err := readSized(r, size)
	if err != nil {
		return fmt.Errorf("storing metadata %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[hostID+"/"+name] = &memItem{data: data, version: version}
	return nil
}

func (m *MemoryVault) GetMetadata(hostID string, name string, w io.Writer) error {
	m.mu.RLock()
	item, ok := m.metadata[hostID+"/"+name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("metadata %q not found for host: %s", name, hostID)
	}
	_, err := io.Copy(w, bytes.NewReader(item.data))
	return err
}

func (m *MemoryVault) GetMetadataVersion(hostID string, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if item, ok := m.metadata[hostID+"/"+name]; ok {
		return item.version, nil
	}
	return 0, nil
}

func (m *MemoryVault) ValidateSetup() error { return nil }
