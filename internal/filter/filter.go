// Package filter implements the heuristic filter (C7): a fast,
// explainable first-pass scorer that runs ahead of the statistical
// anomaly detector, with two entry points — one driven off pending-tx
// predicates alone, one driven off a full feature record.
package filter

import (
	"math/big"
	"strings"

	"github.com/rawblock/sentinel-engine/internal/features/aggregator"
	"github.com/rawblock/sentinel-engine/internal/trace"
)

// Verdict is the three-way heuristic classification shared by both
// entry points.
type Verdict string

const (
	VerdictSafe       Verdict = "safe"
	VerdictSuspicious Verdict = "suspicious"
	VerdictUnknown    Verdict = "unknown"
)

// Fixed confidences for the pending-transaction decision table.
const (
	pendingSafeConfidence       = 0.90
	pendingSuspiciousConfidence = 0.70
	pendingUnknownConfidence    = 0.50
)

// Fixed confidences for the feature-record decision table; the
// suspicious branch instead saturates via confidence(indicatorCount).
const (
	recordSafeConfidence    = 0.80
	recordUnknownConfidence = 0.50
)

// confidenceBase and confidenceStep implement the literal saturation
// formula min(0.50 + 0.10*indicatorCount, 0.95), used once a feature
// record crosses the >=3-indicator suspicious threshold.
const (
	confidenceBase = 0.50
	confidenceStep = 0.10
	confidenceCap  = 0.95
)

// maxSafeGas is the gas limit below which, combined with a zero value,
// a pending transaction contributes the low_gas_no_value reason.
const maxSafeGas = 100_000

// highGasLimit is the gas limit above which a pending transaction counts
// high_gas_limit as a risk indicator in its own right.
const highGasLimit = 1_000_000

// minSuspiciousValueWei is the native-value transfer size (in wei) at or
// above which a pending transaction counts large_value_transfer: 1 ETH.
var minSuspiciousValueWei = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// largeFlashLoanThresholdWei is the borrowed amount (in wei) above which
// a flash loan counts large_flash_loan: 10^24.
var largeFlashLoanThresholdWei = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

// extremeValueThresholdWei is the max storage-delta (in wei) above which
// a feature record counts extreme_value_movement: 10^22.
var extremeValueThresholdWei = new(big.Int).Exp(big.NewInt(10), big.NewInt(22), nil)

// safeSelectors are function selectors for ordinary, low-risk ERC-20/721
// operations.
var safeSelectors = map[string]bool{
	"0xa9059cbb": true, // transfer(address,uint256)
	"0x23b872dd": true, // transferFrom(address,address,uint256)
	"0x095ea7b3": true, // approve(address,uint256)
	"0x70a08231": true, // balanceOf(address)
	"0x18160ddd": true, // totalSupply()
	"0xdd62ed3e": true, // allowance(address,address)
	"0x313ce567": true, // decimals()
	"0x06fdde03": true, // name()
	"0x95d89b41": true, // symbol()
	"0x40c10f19": true, // mint(address,uint256) - caution, context-dependent
	"0x42842e0e": true, // safeTransferFrom(address,address,uint256)
	"0xb88d4fde": true, // safeTransferFrom(address,address,uint256,bytes)
	"0x6352211e": true, // ownerOf(uint256)
	"0xe985e9c5": true, // isApprovedForAll(address,address)
	"0xa22cb465": true, // setApprovalForAll(address,bool)
}

// suspiciousSelectors are function selectors for flash-loan draws and
// aggressive swaps — not inherently malicious, but worth a second look.
var suspiciousSelectors = map[string]bool{
	"0x5cffe9de": true, // flashLoan
	"0xab9c4b5d": true, // flashLoan (Aave v3)
	"0xc1a8a1f5": true, // flash (Uniswap v2)
	"0x490e6cbc": true, // flash (Uniswap v3)
	"0x9c3f1e90": true, // flashLoan (dYdX)
	"0x022c0d9f": true, // swap (Uniswap V2 pair)
	"0x128acb08": true, // swap (Uniswap V3)
	"0x7c025200": true, // swap (1inch)
	"0x12aa3caf": true, // swap (1inch v5)
	"0xe449022e": true, // uniswapV3Swap
	"0x0502b1c5": true, // unoswap
	"0xb6f9de95": true, // swapExactETHForTokensSupportingFeeOnTransferTokens
	"0x791ac947": true, // swapExactTokensForETHSupportingFeeOnTransferTokens
}

// whitelistedContracts are well-known, low-risk counterparties, keyed by
// lowercase hex address.
var whitelistedContracts = map[string]bool{
	"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": true, // WETH
	"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": true, // USDC
	"0xdac17f958d2ee523a2206206994597c13d831ec7": true, // USDT
	"0x6b175474e89094c44da98b954eedeac495271d0f": true, // DAI
	"0x7d2768de32b0b80b7a3454c06bdac94a69ddc7a9": true, // Aave V2
	"0x87870bca3f3fd6335c3f4ce8392d69350b4fa4e2": true, // Aave V3
	"0x7a250d5630b4cf539739df2c5dacb4c659f2488d": true, // Uniswap V2 Router
	"0xe592427a0aece92de3edee1f18e0157c05861564": true, // Uniswap V3 Router
	"0x68b3465833fb72a70ecdf485e0e4c7bd8665fc45": true, // Uniswap Universal Router
	"0xba12222222228d8ba445958a75a0704d566bf2c8": true, // Balancer Vault
	"0xdef1c0ded9bec7f1a1670819833240f027b25eff": true, // 0x Exchange
	"0x1111111254eeb25477b68fb85ed929f73a960582": true, // 1inch V5 Router
}

func hexSelector(sel []byte) string {
	if len(sel) != 4 {
		return ""
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 10)
	out[0], out[1] = '0', 'x'
	for i, b := range sel {
		out[2+i*2] = hexdigits[b>>4]
		out[2+i*2+1] = hexdigits[b&0xf]
	}
	return string(out)
}

// Result is the heuristic filter's output: the three-way verdict plus
// the reason/indicator labels that drove it, consumed verbatim by the
// signal engine's indicator-list composition.
type Result struct {
	Verdict       Verdict
	Confidence    float64
	Reasons       []string
	Indicators    []string
	ShouldAnalyze bool
	Flagged       bool // Verdict != VerdictSafe
}

func result(verdict Verdict, confidence float64, reasons, indicators []string, shouldAnalyze bool) Result {
	return Result{
		Verdict:       verdict,
		Confidence:    confidence,
		Reasons:       reasons,
		Indicators:    indicators,
		ShouldAnalyze: shouldAnalyze,
		Flagged:       verdict != VerdictSafe,
	}
}

func confidence(indicatorCount int) float64 {
	c := confidenceBase + confidenceStep*float64(indicatorCount)
	if c > confidenceCap {
		return confidenceCap
	}
	return c
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// EvaluatePending applies the pending-transaction decision table: cheap,
// predicate-only checks available before simulation. The simple-transfer
// fast path is handled upstream by the caller.
func EvaluatePending(p *trace.PendingTransaction) Result {
	var reasons, indicators []string

	if p.Gas < maxSafeGas && isZero(p.Value) {
		reasons = append(reasons, "low_gas_no_value")
	}

	if p.To != nil && whitelistedContracts[strings.ToLower(p.To.Hex())] {
		reasons = append(reasons, "whitelisted_contract")
	}

	if sel := p.Selector(); sel != nil {
		selHex := hexSelector(sel)
		switch {
		case safeSelectors[selHex]:
			reasons = append(reasons, "safe_selector")
		case suspiciousSelectors[selHex]:
			indicators = append(indicators, "suspicious_selector")
		}
	}

	if p.IsContractCreation() {
		indicators = append(indicators, "contract_creation")
	}

	if p.Value != nil && p.Value.Cmp(minSuspiciousValueWei) >= 0 {
		indicators = append(indicators, "large_value_transfer")
	}

	if p.Gas > highGasLimit {
		indicators = append(indicators, "high_gas_limit")
	}

	switch {
	case len(reasons) >= 2 && len(indicators) == 0:
		return result(VerdictSafe, pendingSafeConfidence, reasons, nil, false)
	case len(indicators) >= 2:
		return result(VerdictSuspicious, pendingSuspiciousConfidence, reasons, indicators, true)
	default:
		return result(VerdictUnknown, pendingUnknownConfidence, reasons, indicators, true)
	}
}

// EvaluateRecord applies the feature-record decision table, with a
// known-exploit short-circuit: once bytecode matches the known-bad
// registry, the filter returns SUSPICIOUS at fixed confidence 0.95
// regardless of the rest of the record — but the indicators accumulated
// ahead of the match (flash-loan and state-variance signals) still ride
// along in the returned list.
func EvaluateRecord(rec aggregator.Record) Result {
	var indicators []string

	hasLargeChanges := rec.StateVariance.LargeChanges > 3
	hasManyTransfers := rec.StateVariance.TotalChanges > 10
	hasHighValue := rec.StateVariance.MaxDelta != nil && rec.StateVariance.MaxDelta.Cmp(extremeValueThresholdWei) > 0

	if rec.FlashLoan.HasFlashLoan {
		indicators = append(indicators, "flash_loan_detected")

		if rec.FlashLoan.Nested {
			indicators = append(indicators, "nested_flash_loans")
		}
		if rec.FlashLoan.TotalBorrowed != nil && rec.FlashLoan.TotalBorrowed.Cmp(largeFlashLoanThresholdWei) > 0 {
			indicators = append(indicators, "large_flash_loan")
		}
		if hasLargeChanges || hasManyTransfers || hasHighValue {
			indicators = append(indicators, "flash_loan_with_complex_activity")
		}
	}

	if rec.StateVariance.VarianceRatio > 0.5 {
		indicators = append(indicators, "high_state_variance")
	}
	if hasLargeChanges {
		indicators = append(indicators, "multiple_large_changes")
	}
	if hasHighValue {
		indicators = append(indicators, "extreme_value_movement")
	}

	if rec.Bytecode.MatchesExploit {
		indicators = append(indicators, "matches_known_exploit")
		return result(VerdictSuspicious, confidenceCap, nil, indicators, true)
	}

	if rec.Bytecode.JaccardSimilarity > 0.7 {
		indicators = append(indicators, "high_bytecode_similarity")
	}
	if rec.Bytecode.AgeBlocks < 100 {
		indicators = append(indicators, "new_contract")
	}
	if rec.Bytecode.HasSelfDestruct {
		indicators = append(indicators, "selfdestruct_opcode")
	}
	if rec.CallGraph.DelegateCount > 0 {
		indicators = append(indicators, "uses_delegatecall")
	}
	if rec.CallGraph.Create2Count > 0 {
		indicators = append(indicators, "uses_create2")
	}
	if rec.CallGraph.MaxDepth > 10 {
		indicators = append(indicators, "deep_call_stack")
	}
	if rec.CallGraph.TotalCalls > 50 {
		indicators = append(indicators, "high_call_count")
	}

	switch {
	case len(indicators) == 0:
		return result(VerdictSafe, recordSafeConfidence, []string{"no_risk_indicators"}, nil, false)
	case len(indicators) >= 3:
		return result(VerdictSuspicious, confidence(len(indicators)), nil, indicators, true)
	default:
		return result(VerdictUnknown, recordUnknownConfidence, nil, indicators, true)
	}
}
