package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsDeployments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployments.json")
	body := `{"chainId":31337,"contracts":{"VestingFactory":"0x00000000000000000000000000000000000000f1","FundToken":"0x00000000000000000000000000000000000000e1"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write deployments: %v", err)
	}

	t.Setenv("DEPLOYMENTS_PATH", path)
	t.Setenv("VAULT_STORE", "memory")
	t.Setenv("HMAC_CLOCK_SKEW", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Factory.Address != "0x00000000000000000000000000000000000000f1" {
		t.Fatalf("unexpected factory %q", cfg.Factory.Address)
	}
	if cfg.Deployment.ChainID != 31337 {
		t.Fatalf("unexpected chain id %d", cfg.Deployment.ChainID)
	}
	if cfg.Service.HMACClockSkew != 30*time.Second {
		t.Fatalf("unexpected skew %s", cfg.Service.HMACClockSkew)
	}
	if cfg.Factory.EventSignature != "CreateVestingContract(address,address)" {
		t.Fatalf("unexpected default signature %q", cfg.Factory.EventSignature)
	}
	if cfg.Service.HTTPPort != 3000 {
		t.Fatalf("unexpected port %d", cfg.Service.HTTPPort)
	}
}

func TestLoadFactoryOverride(t *testing.T) {
	t.Setenv("DEPLOYMENTS_PATH", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("FACTORY_ADDRESS", "0x00000000000000000000000000000000000000f2")
	t.Setenv("FACTORY_EVENT_SIGNATURE", "CreateVestingContract(address,uint256)")
	t.Setenv("VAULT_STORE", "file")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Factory.EventSignature != "CreateVestingContract(address,uint256)" {
		t.Fatalf("unexpected signature %q", cfg.Factory.EventSignature)
	}
	if cfg.Store.Path == "" {
		t.Fatalf("expected default store path")
	}
}

func TestValidateRejects(t *testing.T) {
	base := AppConfig{
		Factory: FactoryConfig{Address: "0x00000000000000000000000000000000000000f1", EventSignature: "X(address)"},
		Store:   StoreConfig{Backend: "memory"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}

	bad := base
	bad.Factory.Address = "0x12"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected invalid factory address")
	}

	bad = base
	bad.Store.Backend = "postgres"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected missing dsn error")
	}

	bad = base
	bad.Store.Backend = "redis"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
