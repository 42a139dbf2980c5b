package protocol

import (
	"math/big"

	"github.com/rawblock/sentinel-engine/internal/features/aggregator"
)

// Context is the resolved protocol/operation identity of one transaction,
// plus the bounds-check outcome and the risk adjustment derived from it.
type Context struct {
	Protocol          Protocol
	Operation         Operation
	IsKnownProtocol   bool
	IsKnownOperation  bool
	WithinBounds      bool
	BoundViolations   []string
	RiskAdjustment    float64 // in [-0.5, +0.5]
}

// IdentifyProtocol resolves a recipient address (lowercase hex,
// 0x-prefixed) to a known protocol, or Unknown when unrecognized or when
// toAddress is empty (contract-creation transactions have no recipient).
func IdentifyProtocol(toAddress string) Protocol {
	if toAddress == "" {
		return Unknown
	}
	if p, ok := addresses[toLower(toAddress)]; ok {
		return p
	}
	return Unknown
}

// IdentifyOperation resolves a 4-byte selector (lowercase hex,
// 0x-prefixed, 10 characters) to a known operation, or Unknown.
func IdentifyOperation(selector string) Operation {
	if len(selector) < 10 {
		return OpUnknown
	}
	if op, ok := selectors[toLower(selector[:10])]; ok {
		return op
	}
	return OpUnknown
}

func toLower(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'A' && c <= 'Z' {
			out[i] = c + ('a' - 'A')
		}
	}
	return string(out)
}

// CheckBounds validates the observed transaction shape against the
// operation's normal-operating bounds. enableBoundsCheck=false disables
// the check entirely (treated as within bounds, no violations) per the
// engine's enable_bounds_check configuration flag.
func CheckBounds(op Operation, rec aggregator.Record, gasUsed uint64, enableBoundsCheck bool) (bool, []string) {
	if !enableBoundsCheck {
		return true, nil
	}

	bounds, ok := operationBounds[op]
	if !ok {
		return true, nil
	}

	var violations []string

	if bounds.MaxGas > 0 && gasUsed > bounds.MaxGas {
		violations = append(violations, "gas_exceeds_bound")
	}

	if bounds.MaxContracts > 0 && rec.StateVariance.UniqueContracts > bounds.MaxContracts {
		violations = append(violations, "contracts_exceed_bound")
	}

	if bounds.MaxValueUSD > 0 {
		maxDeltaNative := toNativeUnits(rec.StateVariance.MaxDelta)
		valueUSD := maxDeltaNative * etherPriceUSD
		if valueUSD > bounds.MaxValueUSD {
			violations = append(violations, "value_exceeds_bound")
		}
	}

	return len(violations) == 0, violations
}

func toNativeUnits(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	fv := new(big.Float).SetInt(v)
	fv.Quo(fv, big.NewFloat(1e18))
	out, _ := fv.Float64()
	return out
}

// GetContext resolves the full protocol context for a transaction and
// computes its risk adjustment.
func GetContext(rec aggregator.Record, toAddress, selectorHex string, gasUsed uint64, enableBoundsCheck bool) Context {
	proto := IdentifyProtocol(toAddress)
	op := IdentifyOperation(selectorHex)

	isKnownProtocol := proto != Unknown
	isKnownOperation := op != OpUnknown

	withinBounds, violations := CheckBounds(op, rec, gasUsed, enableBoundsCheck)

	adjustment := calculateRiskAdjustment(proto, op, isKnownProtocol, isKnownOperation, withinBounds, rec)

	return Context{
		Protocol:         proto,
		Operation:        op,
		IsKnownProtocol:  isKnownProtocol,
		IsKnownOperation: isKnownOperation,
		WithinBounds:     withinBounds,
		BoundViolations:  violations,
		RiskAdjustment:   adjustment,
	}
}

// calculateRiskAdjustment implements §4.8's additive rule set, clamped to
// [-0.5, +0.5]. The result is later combined with the raw score
// multiplicatively by the signal engine (adjusted = raw + adjustment*raw),
// never added directly to the raw score.
func calculateRiskAdjustment(proto Protocol, op Operation, isKnownProtocol, isKnownOperation, withinBounds bool, rec aggregator.Record) float64 {
	adjustment := 0.0

	switch {
	case isKnownProtocol && isKnownOperation:
		adjustment -= 0.20
		if withinBounds {
			adjustment -= 0.10
		} else {
			adjustment += 0.25
		}
	case !isKnownProtocol && !isKnownOperation:
		// neutral
	default:
		if isKnownProtocol {
			adjustment -= 0.05
		}
		if isKnownOperation {
			adjustment -= 0.05
		}
	}

	if rec.FlashLoan.HasFlashLoan && !exemptFromFlashLoanPenalty[op] {
		adjustment += 0.35
	}

	if isKnownProtocol && safeOperations[op] && withinBounds && !rec.FlashLoan.HasFlashLoan {
		adjustment -= 0.10
	}

	return clip(adjustment, -0.5, 0.5)
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
