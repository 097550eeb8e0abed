package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID   int64  `json:"chainId"`
	Deployer  string `json:"deployer"`
	Contracts struct {
		VestingFactory string `json:"VestingFactory"`
		FundToken      string `json:"FundToken"`
	} `json:"contracts"`
}

// AppConfig ties together the deployment file and environment settings.
type AppConfig struct {
	DeploymentsPath string `env:"DEPLOYMENTS_PATH" envDefault:"../deployments.json"`

	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
	Store      StoreConfig
	Factory    FactoryConfig
}

type ServiceConfig struct {
	HTTPPort          int           `env:"API_HTTP_PORT" envDefault:"3000"`
	HMACSecret        string        `env:"HMAC_SECRET"`
	HMACClockSkew     time.Duration `env:"HMAC_CLOCK_SKEW" envDefault:"60s"`
	RecoveryPath      string        `env:"RECOVERY_PATH"`
	DecimalsCacheSize int           `env:"DECIMALS_CACHE_SIZE" envDefault:"128"`
}

type ChainConfig struct {
	RPCURL       string        `env:"CHAIN_RPC_URL"`
	PrivateKey   string        `env:"CHAIN_PRIVATE_KEY"`
	PollInterval time.Duration `env:"CHAIN_POLL_INTERVAL" envDefault:"2s"`
}

type StoreConfig struct {
	Backend     string `env:"VAULT_STORE" envDefault:"file"`
	Path        string `env:"VAULT_STORE_PATH"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	Session     string `env:"VAULT_SESSION" envDefault:"default"`
}

type FactoryConfig struct {
	// Address overrides deployments.json.
	Address        string `env:"FACTORY_ADDRESS"`
	ABIPath        string `env:"FACTORY_ABI_PATH"`
	EventSignature string `env:"FACTORY_EVENT_SIGNATURE" envDefault:"CreateVestingContract(address,address)"`
	EventArgIndex  int    `env:"FACTORY_EVENT_ARG_INDEX" envDefault:"0"`
}

// Load aggregates configuration from .env, the environment and disk.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("[CONFIG] .env file not found, relying on environment variables")
	}

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Factory.Address == "" {
		deployCfg, err := loadDeployments(cfg.DeploymentsPath)
		if err != nil {
			return nil, fmt.Errorf("load deployments: %w", err)
		}
		cfg.Deployment = *deployCfg
		cfg.Factory.Address = deployCfg.Contracts.VestingFactory
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(os.TempDir(), "vtvl-"+cfg.Store.Session+".json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the service cannot start without.
func (c *AppConfig) Validate() error {
	if !common.IsHexAddress(c.Factory.Address) {
		return fmt.Errorf("factory address %q is not a valid address", c.Factory.Address)
	}
	if c.Factory.EventSignature == "" {
		return errors.New("factory event signature is required")
	}
	if c.Factory.EventArgIndex < 0 {
		return errors.New("factory event arg index must not be negative")
	}
	switch c.Store.Backend {
	case "memory", "file":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown vault store %q", c.Store.Backend)
	}
	return nil
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
