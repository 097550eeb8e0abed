package chain

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Submission records one call accepted by FakeClient.
type Submission struct {
	Contract common.Address
	Method   string
	Args     []interface{}
	TxHash   common.Hash
}

// FakeClient is an in-memory chain for tests and local development. Token
// transfers credit Balances, and factory calls emit CreateVestingContract with
// a deterministic contract address.
type FakeClient struct {
	mu sync.Mutex

	Signer   common.Address
	Decimals uint8

	// SubmitErr and WaitErr force failures on the next calls.
	SubmitErr error
	WaitErr   error
	// Revert makes Wait report a failed receipt status.
	Revert bool
	// OmitEvents drops emitted logs from receipts.
	OmitEvents bool
	// Hold, when set, blocks Wait until it is closed.
	Hold chan struct{}

	nonce       uint64
	balances    map[common.Address]*big.Int
	receipts    map[common.Hash]*types.Receipt
	submissions []Submission
	calls       map[string]int
}

func NewFakeClient(signer common.Address) *FakeClient {
	return &FakeClient{
		Signer:   signer,
		Decimals: 18,
		balances: make(map[common.Address]*big.Int),
		receipts: make(map[common.Hash]*types.Receipt),
		calls:    make(map[string]int),
	}
}

func (f *FakeClient) From() common.Address { return f.Signer }

func (f *FakeClient) Submit(_ context.Context, contract common.Address, descriptor abi.ABI, method string, args ...interface{}) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Signer == (common.Address{}) {
		return nil, fmt.Errorf("%w: %w", ErrSubmission, ErrNoSigner)
	}
	if f.SubmitErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSubmission, method, f.SubmitErr)
	}

	data, err := descriptor.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSubmission, method, err)
	}

	to := contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    f.nonce,
		To:       &to,
		Gas:      21000,
		GasPrice: big.NewInt(1),
		Data:     data,
	})
	blockNumber := new(big.Int).SetUint64(f.nonce + 1)

	var logs []*types.Log
	if !f.Revert {
		logs, err = f.apply(contract, descriptor, method, args)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrSubmission, method, err)
		}
	}
	for i, l := range logs {
		l.TxHash = tx.Hash()
		l.BlockNumber = blockNumber.Uint64()
		l.Index = uint(i)
	}
	if f.OmitEvents {
		logs = nil
	}

	status := types.ReceiptStatusSuccessful
	if f.Revert {
		status = types.ReceiptStatusFailed
	}
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: blockNumber,
		Logs:        logs,
	}
	f.submissions = append(f.submissions, Submission{
		Contract: contract,
		Method:   method,
		Args:     args,
		TxHash:   tx.Hash(),
	})
	f.nonce++
	return tx, nil
}

// apply mutates the fake ledger for the methods the workflow uses and returns
// the logs the real contracts would emit.
func (f *FakeClient) apply(contract common.Address, descriptor abi.ABI, method string, args []interface{}) ([]*types.Log, error) {
	switch method {
	case "transfer":
		to := args[0].(common.Address)
		amount := args[1].(*big.Int)
		f.credit(to, amount)
	case "createVestingContract":
		ev, ok := descriptor.Events["CreateVestingContract"]
		if !ok {
			return nil, nil
		}
		created := crypto.CreateAddress(contract, f.nonce)
		l, err := BuildLog(contract, ev, f.eventValues(ev, created)...)
		if err != nil {
			return nil, err
		}
		return []*types.Log{l}, nil
	}
	return nil, nil
}

// eventValues fills the event inputs: the first address is the created
// contract, later addresses are the signer and everything else is zero.
func (f *FakeClient) eventValues(ev abi.Event, created common.Address) []interface{} {
	values := make([]interface{}, len(ev.Inputs))
	placed := false
	for i, input := range ev.Inputs {
		switch {
		case input.Type.T == abi.AddressTy && !placed:
			values[i] = created
			placed = true
		case input.Type.T == abi.AddressTy:
			values[i] = f.Signer
		case input.Type.GetType() == reflect.TypeOf(&big.Int{}):
			values[i] = new(big.Int)
		default:
			values[i] = reflect.Zero(input.Type.GetType()).Interface()
		}
	}
	return values
}

func (f *FakeClient) credit(account common.Address, amount *big.Int) {
	cur, ok := f.balances[account]
	if !ok {
		cur = new(big.Int)
	}
	f.balances[account] = new(big.Int).Add(cur, amount)
}

func (f *FakeClient) Wait(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if f.Hold != nil {
		<-f.Hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.WaitErr != nil {
		return nil, fmt.Errorf("%w: receipt %s: %w", ErrConfirmation, tx.Hash().Hex(), f.WaitErr)
	}
	receipt, ok := f.receipts[tx.Hash()]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tx %s", ErrConfirmation, tx.Hash().Hex())
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("%w: tx %s reverted", ErrConfirmation, tx.Hash().Hex())
	}
	return receipt, nil
}

func (f *FakeClient) Call(_ context.Context, contract common.Address, _ abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[method]++
	switch method {
	case "balanceOf":
		account := args[0].(common.Address)
		bal, ok := f.balances[account]
		if !ok {
			return []interface{}{new(big.Int)}, nil
		}
		return []interface{}{new(big.Int).Set(bal)}, nil
	case "decimals":
		return []interface{}{f.Decimals}, nil
	}
	return nil, fmt.Errorf("call %s on %s: not supported by fake", method, contract.Hex())
}

func (f *FakeClient) Ping(context.Context) error { return nil }

// SetBalance overrides the token balance reported for account.
func (f *FakeClient) SetBalance(account common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[account] = new(big.Int).Set(amount)
}

func (f *FakeClient) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Submission, len(f.submissions))
	copy(out, f.submissions)
	return out
}

func (f *FakeClient) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// BuildLog encodes values as an emission of ev from contract, splitting indexed
// arguments into topics.
func BuildLog(contract common.Address, ev abi.Event, values ...interface{}) (*types.Log, error) {
	if len(values) < len(ev.Inputs) {
		return nil, fmt.Errorf("event %s needs %d values, got %d", ev.Name, len(ev.Inputs), len(values))
	}

	topics := []common.Hash{ev.ID}
	var plain []interface{}
	for i, input := range ev.Inputs {
		if !input.Indexed {
			plain = append(plain, values[i])
			continue
		}
		addr, ok := values[i].(common.Address)
		if !ok {
			return nil, fmt.Errorf("indexed %s: only address topics are supported", input.Name)
		}
		topics = append(topics, common.BytesToHash(addr.Bytes()))
	}

	data, err := ev.Inputs.NonIndexed().Pack(plain...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", ev.Name, err)
	}
	return &types.Log{Address: contract, Topics: topics, Data: data}, nil
}
