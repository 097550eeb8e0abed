package vaultstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if st, _ := store.Load(ctx); st != nil {
		t.Fatalf("expected nil for empty store")
	}

	vault := common.HexToAddress("0xabc")
	token := common.HexToAddress("0x0000000000000000000000000000000000000def")
	if err := store.Save(ctx, VaultState{VaultAddress: &vault, FundTokenAddress: token, Phase: PhaseFunded}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, _ := store.Load(ctx)
	if got == nil || got.VaultAddress == nil || *got.VaultAddress != vault {
		t.Fatalf("unexpected state: %+v", got)
	}
	if got.FundTokenAddress != token {
		t.Fatalf("expected fund token %s, got %s", token.Hex(), got.FundTokenAddress.Hex())
	}
	if got.Phase != PhaseVaultCreated {
		t.Fatalf("expected restored phase %s, got %s", PhaseVaultCreated, got.Phase)
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session", "vault.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	vault := common.HexToAddress("0x1230000000000000000000000000000000000123")
	if err := store.Save(ctx, VaultState{VaultAddress: &vault}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	store2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}

	got, _ := store2.Load(ctx)
	if got == nil || *got.VaultAddress != vault {
		t.Fatalf("unexpected state: %+v", got)
	}
}

func TestFileStoreReadsHandWrittenKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	if err := os.WriteFile(path, []byte(`{"vault":{"vaultAddress":"0xABC"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || *got.VaultAddress != common.HexToAddress("0xABC") {
		t.Fatalf("unexpected state: %+v", got)
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileStore(path); err == nil {
		t.Fatalf("expected error for corrupt file")
	}
}
