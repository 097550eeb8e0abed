package contracts

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ERC20ABI covers the token surface the workflow touches.
const ERC20ABI = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint8"}]},
  {"type":"event","name":"Transfer","anonymous":false,
   "inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"Approval","anonymous":false,
   "inputs":[{"name":"owner","type":"address","indexed":true},{"name":"spender","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

// FactoryABI is the default factory shape, emitting CreateVestingContract(address,address).
const FactoryABI = `[
  {"type":"function","name":"createVestingContract","stateMutability":"nonpayable",
   "inputs":[{"name":"tokenAddress","type":"address"}],
   "outputs":[]},
  {"type":"event","name":"CreateVestingContract","anonymous":false,
   "inputs":[{"name":"vestingAddress","type":"address","indexed":false},{"name":"deployer","type":"address","indexed":false}]}
]`

// VestingABI is the subset of the vesting contract used to register claims.
const VestingABI = `[
  {"type":"function","name":"createClaim","stateMutability":"nonpayable",
   "inputs":[
     {"name":"_recipient","type":"address"},
     {"name":"_startTimestamp","type":"uint256"},
     {"name":"_endTimestamp","type":"uint256"},
     {"name":"_cliffReleaseDuration","type":"uint256"},
     {"name":"_releaseIntervalSecs","type":"uint256"},
     {"name":"_linearVestAmount","type":"uint256"},
     {"name":"_cliffAmount","type":"uint256"},
     {"name":"_fractionalAmount","type":"uint256"}],
   "outputs":[]},
  {"type":"event","name":"ClaimCreated","anonymous":false,
   "inputs":[{"name":"_recipient","type":"address","indexed":true},{"name":"_linearVestAmount","type":"uint256","indexed":false}]}
]`

// Set groups the parsed descriptors used by the workflow.
type Set struct {
	Token   abi.ABI
	Factory abi.ABI
	Vesting abi.ABI
}

// Parse parses a JSON ABI descriptor.
func Parse(raw string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}

// LoadFile reads and parses an ABI descriptor from disk.
func LoadFile(path string) (abi.ABI, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi %s: %w", path, err)
	}
	return Parse(string(raw))
}

// Load returns the embedded descriptors, replacing the factory ABI when
// factoryPath is set. Factory deployments differ in their event shape.
func Load(factoryPath string) (Set, error) {
	token, err := Parse(ERC20ABI)
	if err != nil {
		return Set{}, err
	}
	vesting, err := Parse(VestingABI)
	if err != nil {
		return Set{}, err
	}

	var factory abi.ABI
	if factoryPath != "" {
		factory, err = LoadFile(factoryPath)
	} else {
		factory, err = Parse(FactoryABI)
	}
	if err != nil {
		return Set{}, err
	}

	return Set{Token: token, Factory: factory, Vesting: vesting}, nil
}
