package schedule

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CliffDuration is the fixed cliff, in seconds, attached to every claim.
const CliffDuration int64 = 30 * 24 * 60 * 60

// Schedule is the user's vesting input for one recipient. Amounts are decimal
// strings in display units; FractionalAmount is optional.
type Schedule struct {
	Recipient        string
	StartDate        time.Time
	EndDate          time.Time
	ReleaseFrequency int64
	LinearAmount     string
	CliffAmount      string
	FractionalAmount string
}

// Timing holds the on-chain time parameters derived from a Schedule, in unix seconds.
type Timing struct {
	StartTime       int64
	EndTime         int64
	ReleaseInterval int64
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type InsufficientFundsError struct {
	Balance  *big.Int
	Required *big.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, required %s", e.Balance, e.Required)
}

// DeriveTiming converts millisecond dates to whole seconds and splits the
// vesting window into ReleaseFrequency intervals.
func DeriveTiming(s Schedule) (Timing, error) {
	if s.ReleaseFrequency <= 0 {
		return Timing{}, &ValidationError{Field: "releaseFrequency", Reason: "must be at least 1"}
	}

	start := floorDiv(s.StartDate.UnixMilli(), 1000)
	end := floorDiv(s.EndDate.UnixMilli(), 1000)
	if end <= start {
		return Timing{}, &ValidationError{Field: "endDate", Reason: "must be later than startDate"}
	}

	return Timing{
		StartTime:       start,
		EndTime:         end,
		ReleaseInterval: (end - start) / s.ReleaseFrequency,
	}, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// RequiredFunding is the token amount, in display units, the vault must hold
// before the claim can be created.
func RequiredFunding(s Schedule) (decimal.Decimal, error) {
	linear, err := ParseAmount("linearAmount", s.LinearAmount)
	if err != nil {
		return decimal.Zero, err
	}
	cliff, err := ParseAmount("cliffAmount", s.CliffAmount)
	if err != nil {
		return decimal.Zero, err
	}
	return linear.Add(cliff), nil
}

// ParseAmount parses a non-negative decimal string.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, &ValidationError{Field: field, Reason: "is required"}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: field, Reason: "is not a decimal number"}
	}
	if d.IsNegative() {
		return decimal.Zero, &ValidationError{Field: field, Reason: "must not be negative"}
	}
	if err := checkMagnitude(field, d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// maxAmountDigits is the digit count of the largest uint256.
const maxAmountDigits = 78

// checkMagnitude bounds the exponent and digit count before any scaling, so
// inputs like "1e99999999" never reach big.Int arithmetic.
func checkMagnitude(field string, d decimal.Decimal) error {
	exp := int(d.Exponent())
	if exp > maxAmountDigits || exp < -maxAmountDigits ||
		d.NumDigits() > maxAmountDigits || d.NumDigits()+exp > maxAmountDigits {
		return &ValidationError{Field: field, Reason: "is out of range"}
	}
	return nil
}

// ParsePositiveAmount parses a decimal string that must be greater than zero.
func ParsePositiveAmount(field, raw string) (decimal.Decimal, error) {
	d, err := ParseAmount(field, raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, &ValidationError{Field: field, Reason: "must be greater than zero"}
	}
	return d, nil
}

// ToBaseUnits scales a display amount by the token decimals. Amounts with more
// fractional digits than the token supports are rejected.
func ToBaseUnits(field string, amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	if err := checkMagnitude(field, amount); err != nil {
		return nil, err
	}
	scaled := amount.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, &ValidationError{Field: field, Reason: fmt.Sprintf("has more than %d decimal places", decimals)}
	}
	out := scaled.BigInt()
	if out.BitLen() > 256 {
		return nil, &ValidationError{Field: field, Reason: "does not fit in uint256"}
	}
	return out, nil
}

// FromBaseUnits converts a base-unit amount back into display units.
func FromBaseUnits(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

func CheckSufficientBalance(balance, required *big.Int) error {
	if balance == nil {
		balance = new(big.Int)
	}
	if new(big.Int).Sub(balance, required).Sign() < 0 {
		return &InsufficientFundsError{Balance: balance, Required: required}
	}
	return nil
}

// ValidateAddress checks that raw is a 20-byte hex address. The 0x prefix is
// optional.
func ValidateAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, &ValidationError{Field: field, Reason: "is required"}
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, &ValidationError{Field: field, Reason: "is not a valid address"}
	}
	return common.HexToAddress(raw), nil
}

// Validate runs every input check and returns the derived timing.
func Validate(s Schedule) (Timing, error) {
	if _, err := ValidateAddress("recipient", s.Recipient); err != nil {
		return Timing{}, err
	}
	if _, err := RequiredFunding(s); err != nil {
		return Timing{}, err
	}
	if strings.TrimSpace(s.FractionalAmount) != "" {
		if _, err := ParseAmount("fractionalAmount", s.FractionalAmount); err != nil {
			return Timing{}, err
		}
	}
	return DeriveTiming(s)
}
