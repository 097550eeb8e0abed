package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrSubmission marks failures raised before a transaction was broadcast.
	ErrSubmission = errors.New("submission failed")
	// ErrConfirmation marks failures raised after broadcast: on-chain revert or
	// a transport failure while waiting for the receipt.
	ErrConfirmation = errors.New("confirmation failed")
	// ErrNoSigner is returned (wrapped in ErrSubmission) when the client is read-only.
	ErrNoSigner = errors.New("no signer connected")
)

// Client abstracts the on-chain interaction. Submit broadcasts exactly one
// transaction per call and never retries; retrying is the caller's decision.
type Client interface {
	Submit(ctx context.Context, contract common.Address, descriptor abi.ABI, method string, args ...interface{}) (*types.Transaction, error)
	Wait(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	Call(ctx context.Context, contract common.Address, descriptor abi.ABI, method string, args ...interface{}) ([]interface{}, error)
	From() common.Address
}

// HealthChecker is implemented by clients that can report RPC liveness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
