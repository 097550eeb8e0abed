package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const defaultPollInterval = 2 * time.Second

// EthClient submits transactions through a JSON-RPC node with a keyed signer.
type EthClient struct {
	client       *ethclient.Client
	chainID      *big.Int
	transacts    *bind.TransactOpts
	from         common.Address
	pollInterval time.Duration
}

type EthClientConfig struct {
	RPCURL        string
	PrivateKeyHex string
	PollInterval  time.Duration
}

// NewEthClient dials the node. Without a private key the client is read-only
// and every Submit fails with ErrNoSigner.
func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	c := &EthClient{
		client:       cli,
		chainID:      chainID,
		pollInterval: poll,
	}

	if cfg.PrivateKeyHex == "" {
		log.Printf("[CHAIN] no private key configured, client is read-only")
		return c, nil
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		cli.Close()
		return nil, err
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate
	txOpts.GasPrice = nil
	txOpts.Nonce = nil

	c.transacts = txOpts
	c.from = txOpts.From
	return c, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) From() common.Address { return c.from }

func (c *EthClient) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *EthClient) Submit(ctx context.Context, contract common.Address, descriptor abi.ABI, method string, args ...interface{}) (*types.Transaction, error) {
	if c.transacts == nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmission, ErrNoSigner)
	}

	bound := bind.NewBoundContract(contract, descriptor, c.client, c.client, c.client)

	opts := *c.transacts
	opts.Context = ctx

	tx, err := bound.Transact(&opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSubmission, method, err)
	}

	log.Printf("[CHAIN] submitted %s to %s tx=%s", method, contract.Hex(), tx.Hash().Hex())
	return tx, nil
}

// Wait polls until the transaction is mined or ctx is cancelled. It has no
// deadline of its own.
func (c *EthClient) Wait(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, fmt.Errorf("%w: tx %s reverted in block %s", ErrConfirmation, tx.Hash().Hex(), receipt.BlockNumber)
			}
			log.Printf("[CHAIN] confirmed tx=%s block=%s", tx.Hash().Hex(), receipt.BlockNumber)
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: receipt %s: %w", ErrConfirmation, tx.Hash().Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrConfirmation, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *EthClient) Call(ctx context.Context, contract common.Address, descriptor abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	bound := bind.NewBoundContract(contract, descriptor, c.client, c.client, c.client)

	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx, From: c.from}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, contract.Hex(), err)
	}
	return out, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

func (c *EthClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
