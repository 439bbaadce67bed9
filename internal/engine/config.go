package engine

import (
	"errors"
	"fmt"
	"time"

	"PredLedger/internal/cohort"
	"PredLedger/internal/ledger"
	"PredLedger/internal/money"
	"PredLedger/internal/settle"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownMethod = errors.New("unknown cost basis method")
	ErrUnknownMode   = errors.New("unknown realization mode")
)

// Config selects the accounting semantics of a computation. A config is
// validated once at facade entry; past that point no event processing can
// fail on configuration. The zero value is not valid; start from
// DefaultConfig.
type Config struct {
	CostBasisMethod  ledger.Method
	RealizationMode  settle.Mode
	IncludeTransfers bool

	// TimeBudget bounds a single wallet computation; zero means unbounded.
	TimeBudget time.Duration

	// Epsilon is the reconciliation tolerance; zero selects the default.
	Epsilon decimal.Decimal

	Cohort cohort.Params
}

// DefaultConfig returns the conservative defaults: average cost,
// asymmetric realization, transfers excluded.
func DefaultConfig() Config {
	return Config{
		CostBasisMethod: ledger.MethodAverage,
		RealizationMode: settle.ModeAsymmetric,
		Epsilon:         money.DefaultEpsilon,
		Cohort:          cohort.DefaultParams,
	}
}

// NewConfig builds a validated Config from the string forms used in env
// configuration. Unknown names fail with sentinel-wrapped errors so
// callers can errors.Is against ErrUnknownMethod / ErrUnknownMode.
func NewConfig(method, mode string, includeTransfers bool) (Config, error) {
	m, ok := ledger.ParseMethod(method)
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	rm, ok := settle.ParseMode(mode)
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	cfg := DefaultConfig()
	cfg.CostBasisMethod = m
	cfg.RealizationMode = rm
	cfg.IncludeTransfers = includeTransfers
	return cfg, nil
}

// Validate rejects configs that would silently misaccount.
func (c Config) Validate() error {
	switch c.CostBasisMethod {
	case ledger.MethodAverage, ledger.MethodFIFO:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMethod, int32(c.CostBasisMethod))
	}

	switch c.RealizationMode {
	case settle.ModeAsymmetric, settle.ModeSymmetric:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMode, int32(c.RealizationMode))
	}

	if c.TimeBudget < 0 {
		return fmt.Errorf("time budget must not be negative, got %s", c.TimeBudget)
	}
	if c.Epsilon.IsNegative() {
		return fmt.Errorf("epsilon must not be negative, got %s", c.Epsilon)
	}
	if err := cohort.ValidateParams(&c.Cohort); err != nil {
		return fmt.Errorf("cohort params: %w", err)
	}
	return nil
}
