package vaultstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Key is the fixed storage key holding the active vault.
const Key = "vault"

type Phase string

const (
	PhaseUnprovisioned Phase = "unprovisioned"
	PhaseVaultCreated  Phase = "vault_created"
	PhaseFunded        Phase = "funded"
	PhaseScheduled     Phase = "scheduled"
)

// VaultState is the workflow state. Only the addresses are persisted; the
// phase is derived again on load.
type VaultState struct {
	VaultAddress     *common.Address `json:"vaultAddress,omitempty"`
	FundTokenAddress common.Address  `json:"fundTokenAddress"`
	Phase            Phase           `json:"phase"`
}

// record is the persisted form of VaultState.
type record struct {
	VaultAddress     string    `json:"vaultAddress"`
	FundTokenAddress string    `json:"fundTokenAddress,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toRecord(state VaultState) record {
	rec := record{UpdatedAt: time.Now().UTC()}
	if state.VaultAddress != nil {
		rec.VaultAddress = state.VaultAddress.Hex()
	}
	if state.FundTokenAddress != (common.Address{}) {
		rec.FundTokenAddress = state.FundTokenAddress.Hex()
	}
	return rec
}

func (r record) state() *VaultState {
	if r.VaultAddress == "" {
		return nil
	}
	vault := common.HexToAddress(r.VaultAddress)
	st := &VaultState{VaultAddress: &vault, Phase: PhaseVaultCreated}
	if r.FundTokenAddress != "" {
		st.FundTokenAddress = common.HexToAddress(r.FundTokenAddress)
	}
	return st
}

// Store persists the active vault. Load returns nil when nothing is stored.
type Store interface {
	Load(ctx context.Context) (*VaultState, error)
	Save(ctx context.Context, state VaultState) error
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]record),
	}
}

func (m *MemoryStore) Load(_ context.Context) (*VaultState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[Key]
	if !ok {
		return nil, nil
	}
	return rec.state(), nil
}

func (m *MemoryStore) Save(_ context.Context, state VaultState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[Key] = toRecord(state)
	return nil
}

// FileStore persists the vault to a JSON file, one file per session.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]record
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}

func (f *FileStore) Load(_ context.Context) (*VaultState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.data[Key]
	if !ok {
		return nil, nil
	}
	return rec.state(), nil
}

func (f *FileStore) Save(_ context.Context, state VaultState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[Key] = toRecord(state)
	return f.persist()
}
