package schedule

import (
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSchedule() Schedule {
	return Schedule{
		Recipient:        "0x1230000000000000000000000000000000000123",
		StartDate:        time.UnixMilli(1_700_000_000_500),
		EndDate:          time.UnixMilli(1_700_086_400_999),
		ReleaseFrequency: 4,
		LinearAmount:     "100",
		CliffAmount:      "1",
	}
}

func TestDeriveTiming(t *testing.T) {
	timing, err := DeriveTiming(validSchedule())
	require.NoError(t, err)

	assert.Equal(t, int64(1_700_000_000), timing.StartTime)
	assert.Equal(t, int64(1_700_086_400), timing.EndTime)
	assert.Equal(t, int64(86_400/4), timing.ReleaseInterval)
}

func TestDeriveTimingIntervalNonNegative(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	for _, span := range []time.Duration{time.Second, 7 * time.Second, time.Hour, 365 * 24 * time.Hour} {
		for _, freq := range []int64{1, 2, 3, 12, 1000} {
			s := validSchedule()
			s.StartDate = base
			s.EndDate = base.Add(span)
			s.ReleaseFrequency = freq

			timing, err := DeriveTiming(s)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, timing.ReleaseInterval, int64(0))
			assert.Equal(t, int64(span/time.Second)/freq, timing.ReleaseInterval)
		}
	}
}

func TestDeriveTimingRejects(t *testing.T) {
	cases := map[string]func(*Schedule){
		"zero frequency":     func(s *Schedule) { s.ReleaseFrequency = 0 },
		"negative frequency": func(s *Schedule) { s.ReleaseFrequency = -3 },
		"end before start":   func(s *Schedule) { s.EndDate = s.StartDate.Add(-time.Hour) },
		"same second": func(s *Schedule) {
			s.StartDate = time.UnixMilli(1_700_000_000_100)
			s.EndDate = time.UnixMilli(1_700_000_000_900)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := validSchedule()
			mutate(&s)
			_, err := DeriveTiming(s)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
		})
	}
}

func TestRequiredFunding(t *testing.T) {
	total, err := RequiredFunding(validSchedule())
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(101)), "got %s", total)

	scaled, err := ToBaseUnits("required", total, 18)
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("101000000000000000000", 10)
	assert.Equal(t, 0, want.Cmp(scaled))
}

func TestRequiredFundingRejectsMissingAmounts(t *testing.T) {
	s := validSchedule()
	s.CliffAmount = ""
	_, err := RequiredFunding(s)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "cliffAmount", verr.Field)

	s = validSchedule()
	s.LinearAmount = "-5"
	_, err = RequiredFunding(s)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "linearAmount", verr.Field)
}

func TestToBaseUnits(t *testing.T) {
	got, err := ToBaseUnits("amount", decimal.RequireFromString("1.5"), 6)
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), got.Int64())

	_, err = ToBaseUnits("amount", decimal.RequireFromString("0.0000001"), 6)
	assert.Error(t, err)

	back := FromBaseUnits(big.NewInt(1_500_000), 6)
	assert.True(t, back.Equal(decimal.RequireFromString("1.5")))
}

func TestCheckSufficientBalance(t *testing.T) {
	err := CheckSufficientBalance(big.NewInt(50), big.NewInt(101))
	var ierr *InsufficientFundsError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, int64(101), ierr.Required.Int64())

	assert.NoError(t, CheckSufficientBalance(big.NewInt(200), big.NewInt(101)))
	assert.NoError(t, CheckSufficientBalance(big.NewInt(101), big.NewInt(101)))
}

func TestValidate(t *testing.T) {
	_, err := Validate(validSchedule())
	require.NoError(t, err)

	s := validSchedule()
	s.Recipient = ""
	_, err = Validate(s)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "recipient", verr.Field)

	s = validSchedule()
	s.Recipient = "0xnot-an-address"
	_, err = Validate(s)
	require.True(t, errors.As(err, &verr))

	s = validSchedule()
	s.FractionalAmount = "abc"
	_, err = Validate(s)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "fractionalAmount", verr.Field)
}

func TestParsePositiveAmount(t *testing.T) {
	_, err := ParsePositiveAmount("amount", "0")
	assert.Error(t, err)

	d, err := ParsePositiveAmount("amount", " 2.25 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("2.25")))
}

func TestParseAmountRejectsHugeExponents(t *testing.T) {
	for _, raw := range []string{"1e99999999", "1e-99999999", "1e79", "9" + strings.Repeat("0", 78)} {
		start := time.Now()
		_, err := ParsePositiveAmount("amount", raw)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "%s: got %v", raw, err)
		assert.Equal(t, "amount", verr.Field)
		assert.Less(t, time.Since(start), time.Second, raw)
	}

	d, err := ParsePositiveAmount("amount", "1e2")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(100)))
}

func TestToBaseUnitsRejectsOutOfRange(t *testing.T) {
	_, err := ToBaseUnits("amount", decimal.New(1, 99999999), 18)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	// 1e70 fits the digit bound but not uint256 once scaled by 18 decimals.
	_, err = ToBaseUnits("amount", decimal.New(1, 70), 18)
	require.True(t, errors.As(err, &verr))
}

func TestValidateAddressPrefixOptional(t *testing.T) {
	withPrefix, err := ValidateAddress("recipient", "0x1230000000000000000000000000000000000123")
	require.NoError(t, err)
	bare, err := ValidateAddress("recipient", "1230000000000000000000000000000000000123")
	require.NoError(t, err)
	assert.Equal(t, withPrefix, bare)

	_, err = ValidateAddress("recipient", "0x123")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
}
