package events

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrEventNotFound means the receipt carries no log for the requested event,
	// usually a mismatch between the configured ABI and the deployed contract.
	ErrEventNotFound = errors.New("event not found")
	ErrArgIndex      = errors.New("event argument index out of range")
)

// DecodedEvent is a log decoded against a contract descriptor. Args follow
// the declaration order of the event inputs.
type DecodedEvent struct {
	Name string
	Args []interface{}
}

// Topic returns the keccak-256 topic hash of an event signature such as
// "CreateVestingContract(address,address)".
func Topic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(strings.Join(strings.Fields(signature), "")))
}

// Extract decodes the first log in receipt whose topics contain the hash of
// signature and returns its argument at argIndex. Logs of other events are
// skipped before any decoding is attempted.
func Extract(descriptor abi.ABI, receipt *types.Receipt, signature string, argIndex int) (interface{}, error) {
	if receipt == nil {
		return nil, fmt.Errorf("%w: %s: nil receipt", ErrEventNotFound, signature)
	}

	topic := Topic(signature)
	for _, l := range receipt.Logs {
		if l == nil || !hasTopic(l, topic) {
			continue
		}
		decoded, err := Decode(descriptor, l, topic)
		if err != nil {
			return nil, err
		}
		if argIndex < 0 || argIndex >= len(decoded.Args) {
			return nil, fmt.Errorf("%w: %s has %d args, wanted index %d", ErrArgIndex, decoded.Name, len(decoded.Args), argIndex)
		}
		return decoded.Args[argIndex], nil
	}
	return nil, fmt.Errorf("%w: %s in tx %s", ErrEventNotFound, signature, receipt.TxHash.Hex())
}

func hasTopic(l *types.Log, topic common.Hash) bool {
	for _, t := range l.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// Decode unpacks l as the event identified by topic. Indexed arguments are
// read from the remaining topics, the rest from the log data.
func Decode(descriptor abi.ABI, l *types.Log, topic common.Hash) (DecodedEvent, error) {
	ev, err := descriptor.EventByID(topic)
	if err != nil {
		return DecodedEvent{}, fmt.Errorf("%w: descriptor has no event for topic %s", ErrEventNotFound, topic.Hex())
	}

	plain, err := ev.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return DecodedEvent{}, fmt.Errorf("unpack %s data: %w", ev.Name, err)
	}

	// Argument names may be empty or clash, so key indexed values by position.
	var indexed abi.Arguments
	for i, input := range ev.Inputs {
		if input.Indexed {
			input.Name = fmt.Sprintf("arg%d", i)
			indexed = append(indexed, input)
		}
	}
	topicValues := make(map[string]interface{}, len(indexed))
	if len(indexed) > 0 {
		if len(l.Topics) != len(indexed)+1 {
			return DecodedEvent{}, fmt.Errorf("%s: expected %d topics, got %d", ev.Name, len(indexed)+1, len(l.Topics))
		}
		if err := abi.ParseTopicsIntoMap(topicValues, indexed, l.Topics[1:]); err != nil {
			return DecodedEvent{}, fmt.Errorf("parse %s topics: %w", ev.Name, err)
		}
	}

	args := make([]interface{}, 0, len(ev.Inputs))
	next := 0
	for i, input := range ev.Inputs {
		if input.Indexed {
			args = append(args, topicValues[fmt.Sprintf("arg%d", i)])
			continue
		}
		args = append(args, plain[next])
		next++
	}

	return DecodedEvent{Name: ev.Name, Args: args}, nil
}

// AddressArg converts a decoded argument into an address.
func AddressArg(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case common.Hash:
		return common.BytesToAddress(v.Bytes()), nil
	case [32]byte:
		return common.BytesToAddress(v[:]), nil
	default:
		return common.Address{}, fmt.Errorf("argument of type %T is not an address", value)
	}
}
