package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	"vtvl/internal/chain"
	"vtvl/internal/contracts"
	"vtvl/internal/events"
	"vtvl/internal/schedule"
	"vtvl/internal/vaultstore"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

var (
	ErrBusy        = errors.New("another submission is in flight")
	ErrVaultExists = errors.New("a vault already exists for this session")
	ErrNoVault     = errors.New("no vault has been created")
	ErrNoFundToken = errors.New("fund token address is unknown")

	// ErrNotPersisted means the vault exists on-chain but could not be saved.
	ErrNotPersisted = errors.New("vault state not persisted")
)

const (
	DefaultCreatedEvent = "CreateVestingContract(address,address)"
	defaultCacheSize    = 128
)

type Config struct {
	Factory   common.Address
	Contracts contracts.Set
	// CreatedEvent and CreatedArgIndex locate the new vault address in the
	// factory receipt; factory versions disagree on the event shape.
	CreatedEvent      string
	CreatedArgIndex   int
	DecimalsCacheSize int
}

// TxResult identifies a confirmed transaction.
type TxResult struct {
	TxHash      common.Hash `json:"txHash"`
	BlockNumber uint64      `json:"blockNumber"`
}

type CreateVaultResult struct {
	TxResult
	VaultAddress common.Address `json:"vaultAddress"`
}

type Balance struct {
	Account  common.Address  `json:"account"`
	Raw      *big.Int        `json:"raw"`
	Amount   decimal.Decimal `json:"amount"`
	Decimals uint8           `json:"decimals"`
}

// Workflow sequences the vault provisioning transactions. Only one transition
// may be in flight at a time; overlapping calls fail with ErrBusy before
// touching the chain.
type Workflow struct {
	chain chain.Client
	store vaultstore.Store
	cfg   Config

	busy atomic.Bool

	mu    sync.RWMutex
	state vaultstore.VaultState

	decimals *lru.Cache[common.Address, uint8]
}

// New restores any persisted vault. A stored address is trusted as-is and
// not checked against the chain.
func New(ctx context.Context, client chain.Client, store vaultstore.Store, cfg Config) (*Workflow, error) {
	if cfg.CreatedEvent == "" {
		cfg.CreatedEvent = DefaultCreatedEvent
	}
	size := cfg.DecimalsCacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[common.Address, uint8](size)
	if err != nil {
		return nil, fmt.Errorf("decimals cache: %w", err)
	}

	w := &Workflow{
		chain:    client,
		store:    store,
		cfg:      cfg,
		state:    vaultstore.VaultState{Phase: vaultstore.PhaseUnprovisioned},
		decimals: cache,
	}

	restored, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore vault: %w", err)
	}
	if restored != nil && restored.VaultAddress != nil {
		restored.Phase = vaultstore.PhaseVaultCreated
		w.state = *restored
		log.Printf("[WORKFLOW] restored vault %s", restored.VaultAddress.Hex())
	}
	return w, nil
}

// State returns a copy of the current workflow state.
func (w *Workflow) State() vaultstore.VaultState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := w.state
	if st.VaultAddress != nil {
		addr := *st.VaultAddress
		st.VaultAddress = &addr
	}
	return st
}

func (w *Workflow) setPhase(from []vaultstore.Phase, to vaultstore.Phase) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range from {
		if w.state.Phase == p {
			w.state.Phase = to
			return
		}
	}
}

func (w *Workflow) acquire() error {
	if !w.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

func (w *Workflow) release() {
	w.busy.Store(false)
}

// Busy reports whether a transition is in flight.
func (w *Workflow) Busy() bool {
	return w.busy.Load()
}

// CreateVault deploys a vesting contract for fundToken through the factory
// and persists its address. When the receipt lacks the expected event the
// deployment already happened on-chain; the returned result still carries
// the transaction hash for manual recovery.
func (w *Workflow) CreateVault(ctx context.Context, fundToken string) (CreateVaultResult, error) {
	if err := w.acquire(); err != nil {
		return CreateVaultResult{}, err
	}
	defer w.release()

	token, err := schedule.ValidateAddress("fundTokenAddress", fundToken)
	if err != nil {
		return CreateVaultResult{}, err
	}
	if st := w.State(); st.VaultAddress != nil {
		return CreateVaultResult{}, fmt.Errorf("%w: %s", ErrVaultExists, st.VaultAddress.Hex())
	}

	receipt, err := w.transact(ctx, w.cfg.Factory, w.cfg.Contracts.Factory, "createVestingContract", token)
	res := CreateVaultResult{TxResult: txResult(receipt)}
	if err != nil {
		return res, err
	}

	raw, err := events.Extract(w.cfg.Contracts.Factory, receipt, w.cfg.CreatedEvent, w.cfg.CreatedArgIndex)
	if err != nil {
		log.Printf("[WORKFLOW] vault deployed in tx %s but address unknown: %v", res.TxHash.Hex(), err)
		return res, err
	}
	vault, err := events.AddressArg(raw)
	if err != nil {
		return res, fmt.Errorf("%w: %w", events.ErrEventNotFound, err)
	}
	res.VaultAddress = vault

	next := vaultstore.VaultState{
		VaultAddress:     &vault,
		FundTokenAddress: token,
		Phase:            vaultstore.PhaseVaultCreated,
	}
	w.mu.Lock()
	w.state = next
	w.mu.Unlock()

	if err := w.store.Save(ctx, next); err != nil {
		log.Printf("[WORKFLOW] vault %s created in tx %s but not persisted: %v", vault.Hex(), res.TxHash.Hex(), err)
		return res, fmt.Errorf("%w: vault %s: %w", ErrNotPersisted, vault.Hex(), err)
	}
	log.Printf("[WORKFLOW] vault %s created for token %s", vault.Hex(), token.Hex())
	return res, nil
}

// Approve grants spender an allowance on the fund token. tokenAddress may be
// empty once a vault records its token.
func (w *Workflow) Approve(ctx context.Context, tokenAddress, spender, amount string) (TxResult, error) {
	if err := w.acquire(); err != nil {
		return TxResult{}, err
	}
	defer w.release()

	token, err := w.resolveToken(tokenAddress)
	if err != nil {
		return TxResult{}, err
	}
	to, err := schedule.ValidateAddress("spender", spender)
	if err != nil {
		return TxResult{}, err
	}
	value, err := schedule.ParsePositiveAmount("amount", amount)
	if err != nil {
		return TxResult{}, err
	}

	scaled, err := w.scale(ctx, token, "amount", value)
	if err != nil {
		return TxResult{}, err
	}

	receipt, err := w.transact(ctx, token, w.cfg.Contracts.Token, "approve", to, scaled)
	return txResult(receipt), err
}

// Fund transfers amount of the fund token from the signer to the vault.
func (w *Workflow) Fund(ctx context.Context, vestingAddress, amount string) (TxResult, error) {
	if err := w.acquire(); err != nil {
		return TxResult{}, err
	}
	defer w.release()

	vault, err := w.resolveVault(vestingAddress)
	if err != nil {
		return TxResult{}, err
	}
	value, err := schedule.ParsePositiveAmount("amount", amount)
	if err != nil {
		return TxResult{}, err
	}
	token, err := w.resolveToken("")
	if err != nil {
		return TxResult{}, err
	}

	scaled, err := w.scale(ctx, token, "amount", value)
	if err != nil {
		return TxResult{}, err
	}

	receipt, err := w.transact(ctx, token, w.cfg.Contracts.Token, "transfer", vault, scaled)
	if err != nil {
		return txResult(receipt), err
	}
	w.setPhase([]vaultstore.Phase{vaultstore.PhaseVaultCreated}, vaultstore.PhaseFunded)
	return txResult(receipt), nil
}

// CreateSchedule registers a claim on the vault once the vault holds enough
// tokens to cover it. Failures leave the vault state untouched.
func (w *Workflow) CreateSchedule(ctx context.Context, vestingAddress string, s schedule.Schedule) (TxResult, error) {
	if err := w.acquire(); err != nil {
		return TxResult{}, err
	}
	defer w.release()

	vault, err := w.resolveVault(vestingAddress)
	if err != nil {
		return TxResult{}, err
	}
	timing, err := schedule.Validate(s)
	if err != nil {
		return TxResult{}, err
	}
	recipient, err := schedule.ValidateAddress("recipient", s.Recipient)
	if err != nil {
		return TxResult{}, err
	}
	required, err := schedule.RequiredFunding(s)
	if err != nil {
		return TxResult{}, err
	}
	token, err := w.resolveToken("")
	if err != nil {
		return TxResult{}, err
	}

	decimals, err := w.tokenDecimals(ctx, token)
	if err != nil {
		return TxResult{}, err
	}
	amounts, err := scaleAmounts(s, decimals)
	if err != nil {
		return TxResult{}, err
	}
	requiredBase, err := schedule.ToBaseUnits("requiredFunding", required, decimals)
	if err != nil {
		return TxResult{}, err
	}

	balance, err := w.balanceOf(ctx, token, vault)
	if err != nil {
		return TxResult{}, err
	}
	if err := schedule.CheckSufficientBalance(balance, requiredBase); err != nil {
		return TxResult{}, err
	}

	receipt, err := w.transact(ctx, vault, w.cfg.Contracts.Vesting, "createClaim",
		recipient,
		big.NewInt(timing.StartTime),
		big.NewInt(timing.EndTime),
		big.NewInt(schedule.CliffDuration),
		big.NewInt(timing.ReleaseInterval),
		amounts.linear,
		amounts.cliff,
		amounts.fractional,
	)
	if err != nil {
		return txResult(receipt), err
	}
	w.setPhase([]vaultstore.Phase{vaultstore.PhaseVaultCreated, vaultstore.PhaseFunded}, vaultstore.PhaseScheduled)
	return txResult(receipt), nil
}

// Balance reads the fund token balance of the vault straight from the chain.
func (w *Workflow) Balance(ctx context.Context, vestingAddress string) (Balance, error) {
	vault, err := w.resolveVault(vestingAddress)
	if err != nil {
		return Balance{}, err
	}
	token, err := w.resolveToken("")
	if err != nil {
		return Balance{}, err
	}
	decimals, err := w.tokenDecimals(ctx, token)
	if err != nil {
		return Balance{}, err
	}
	raw, err := w.balanceOf(ctx, token, vault)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Account:  vault,
		Raw:      raw,
		Amount:   schedule.FromBaseUnits(raw, decimals),
		Decimals: decimals,
	}, nil
}

// transact submits one transaction and waits for its receipt. The receipt is
// returned even on revert so callers can report the hash.
func (w *Workflow) transact(ctx context.Context, contract common.Address, descriptor abi.ABI, method string, args ...interface{}) (*types.Receipt, error) {
	tx, err := w.chain.Submit(ctx, contract, descriptor, method, args...)
	if err != nil {
		log.Printf("[WORKFLOW] %s submission failed: %v", method, err)
		return nil, err
	}
	receipt, err := w.chain.Wait(ctx, tx)
	if err != nil {
		log.Printf("[WORKFLOW] %s tx %s failed: %v", method, tx.Hash().Hex(), err)
		if receipt == nil {
			receipt = &types.Receipt{TxHash: tx.Hash()}
		}
		return receipt, err
	}
	return receipt, nil
}

func txResult(receipt *types.Receipt) TxResult {
	if receipt == nil {
		return TxResult{}
	}
	res := TxResult{TxHash: receipt.TxHash}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return res
}

func (w *Workflow) resolveVault(raw string) (common.Address, error) {
	st := w.State()
	if st.VaultAddress == nil {
		return common.Address{}, ErrNoVault
	}
	if raw == "" {
		return *st.VaultAddress, nil
	}
	return schedule.ValidateAddress("vestingAddress", raw)
}

func (w *Workflow) resolveToken(raw string) (common.Address, error) {
	if raw != "" {
		return schedule.ValidateAddress("tokenAddress", raw)
	}
	st := w.State()
	if st.FundTokenAddress == (common.Address{}) {
		return common.Address{}, ErrNoFundToken
	}
	return st.FundTokenAddress, nil
}

func (w *Workflow) scale(ctx context.Context, token common.Address, field string, value decimal.Decimal) (*big.Int, error) {
	decimals, err := w.tokenDecimals(ctx, token)
	if err != nil {
		return nil, err
	}
	return schedule.ToBaseUnits(field, value, decimals)
}

// tokenDecimals caches decimals() per token; the value never changes on-chain.
func (w *Workflow) tokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	if d, ok := w.decimals.Get(token); ok {
		return d, nil
	}
	out, err := w.chain.Call(ctx, token, w.cfg.Contracts.Token, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("decimals of %s: empty result", token.Hex())
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals of %s: unexpected type %T", token.Hex(), out[0])
	}
	w.decimals.Add(token, d)
	return d, nil
}

func (w *Workflow) balanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	out, err := w.chain.Call(ctx, token, w.cfg.Contracts.Token, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("balanceOf %s: empty result", account.Hex())
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf %s: unexpected type %T", account.Hex(), out[0])
	}
	return bal, nil
}

type claimAmounts struct {
	linear     *big.Int
	cliff      *big.Int
	fractional *big.Int
}

func scaleAmounts(s schedule.Schedule, decimals uint8) (claimAmounts, error) {
	linear, err := schedule.ParseAmount("linearAmount", s.LinearAmount)
	if err != nil {
		return claimAmounts{}, err
	}
	cliff, err := schedule.ParseAmount("cliffAmount", s.CliffAmount)
	if err != nil {
		return claimAmounts{}, err
	}
	fractional := decimal.Zero
	if strings.TrimSpace(s.FractionalAmount) != "" {
		if fractional, err = schedule.ParseAmount("fractionalAmount", s.FractionalAmount); err != nil {
			return claimAmounts{}, err
		}
	}

	var out claimAmounts
	if out.linear, err = schedule.ToBaseUnits("linearAmount", linear, decimals); err != nil {
		return claimAmounts{}, err
	}
	if out.cliff, err = schedule.ToBaseUnits("cliffAmount", cliff, decimals); err != nil {
		return claimAmounts{}, err
	}
	if out.fractional, err = schedule.ToBaseUnits("fractionalAmount", fractional, decimals); err != nil {
		return claimAmounts{}, err
	}
	return out, nil
}
