package storage

import (
	"sort"
	"sync"

	"github.com/oxygenesis/enrollment/internal/domain"
)

type rec struct {
	mu     sync.Mutex
	unit   *domain.Unit
	signer domain.Signer
}

type Memory struct {
	mu   sync.RWMutex
	data map[string]*rec
}

func NewMemory() *Memory { return &Memory{data: make(map[string]*rec)} }

func (m *Memory) Create(unit *domain.Unit, signer domain.Signer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[unit.Fingerprint]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *unit
	m.data[unit.Fingerprint] = &rec{unit: &cp, signer: signer}
	return nil
}

func (m *Memory) Get(fingerprint string) (*domain.Unit, domain.Signer, error) {
	m.mu.RLock()
	r, ok := m.data[fingerprint]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	r.mu.Lock()
	cp := *(r.unit)
	r.mu.Unlock()
	return &cp, r.signer, nil
}

// List returns copies sorted by name, then fingerprint.
func (m *Memory) List() ([]*domain.Unit, error) {
	m.mu.RLock()
	out := make([]*domain.Unit, 0, len(m.data))
	for _, r := range m.data {
		r.mu.Lock()
		cp := *(r.unit)
		r.mu.Unlock()
		out = append(out, &cp)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out, nil
}

// Update runs fn on a working copy under the unit lock. Changes are
// committed only when fn succeeds.
func (m *Memory) Update(fingerprint string, fn func(u *domain.Unit, signer domain.Signer) error) error {
	m.mu.RLock()
	r, ok := m.data[fingerprint]
	m.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *(r.unit)
	if err := fn(&cp, r.signer); err != nil {
		return err
	}
	r.unit = &cp
	return nil
}
