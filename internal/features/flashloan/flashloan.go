// Package flashloan implements the flash-loan extractor (C2): detecting
// flash-loan invocations, their providers, borrowed amounts, callbacks,
// nesting, and repayment, from either an executed call tree or a bare
// input payload.
package flashloan

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rawblock/sentinel-engine/internal/trace"
)

// knownSelectors maps a 4-byte function selector (lowercase hex, 0x-prefixed)
// to a human label. Presence in a call's input marks it as a flash-loan
// draw-down call.
var knownSelectors = map[string]string{
	"0x5cffe9de": "flashLoan(address,address,uint256,bytes)",
	"0xab9c4b5d": "flashLoan(aave_v3)",
	"0xe0232b42": "flashLoan(address,uint256,bytes)",
	"0xc1a8a1f5": "flash(uniswap_v2)",
	"0x490e6cbc": "flash(uniswap_v3)",
	"0x9c3f1e90": "flashLoan(uint256,bytes)",
	"0xd9d98ce4": "flashBorrow(address,uint256)",
	"0x35ea6a75": "flashLoan(variant)",
}

// knownProviders maps a well-known flash-loan-capable contract address
// (lowercase hex) to a short provider tag.
var knownProviders = map[string]string{
	"0x7d2768de32b0b80b7a3454c06bdac94a69ddc7a9": "aave_v2",
	"0x87870bca3f3fd6335c3f4ce8392d69350b4fa4e2": "aave_v3",
	"0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc": "uniswap_v2",
	"0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8": "uniswap_v3",
	"0xba12222222228d8ba445958a75a0704d566bf2c8": "balancer",
	"0x1e0447b19bb6ecfdae1e4ae1694b0c3659614e4e": "dydx",
	"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": "weth",
}

// knownCallbackSelectors maps the selector of a flash-loan callback
// function (the one the provider calls back into the borrower) to a label.
var knownCallbackSelectors = map[string]string{
	"0x23e30c8b": "onFlashLoan",
	"0x920f5c84": "executeOperation",
	"0xe9cbafb0": "uniswapV3FlashCallback",
	"0xfa461e33": "uniswapV3SwapCallback",
	"0x84800812": "pancakeV3SwapCallback",
	"0x0b7b594b": "receiveFlashLoan",
}

// knownEventTopics maps a log topic0 (lowercase hex, 32 bytes) to a label.
// The ERC-20 Transfer topic is the real, well-known value; the
// FlashLoan-specific topics are representative placeholders for providers
// that do not ship a canonical cross-protocol event signature.
var knownEventTopics = map[string]string{
	"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef": "erc20_transfer",
	"0x631042c832b07452973831137f2d73e395028b44b250dedc5abb0ee766b27d5": "flashloan_aave",
	"0xbf2ed60bd5b5965d685680c01195c9464e4cd3566656d6d3d1b42881e57d4be": "flashloan_balancer",
	"0x2261efe5aef6fedc1fd1550b25facc9181745623049c7901287030b9ad1a5b7": "flashloan_generic",
}

const transferSelector = "0xa9059cbb"
const transferFromSelector = "0x23b872dd"

// Features is the flash-loan sub-record of the feature record (C2 output).
type Features struct {
	HasFlashLoan      bool
	Count             int
	Providers         []string // deduplicated, sorted
	TotalBorrowed     *big.Int
	HasCallback       bool
	CallbackCount     int
	Nested            bool
	RepaymentDetected bool
}

// ToVector serializes Features into the fixed 8-dimensional ordering
// required by §6 of the feature-vector contract:
// [has_flash_loan, count, provider_count, total_borrowed_native, has_callback, callback_count, nested, repayment].
func (f Features) ToVector() [8]float64 {
	total := 0.0
	if f.TotalBorrowed != nil {
		fv := new(big.Float).SetInt(f.TotalBorrowed)
		fv.Quo(fv, big.NewFloat(1e18))
		total, _ = fv.Float64()
	}
	return [8]float64{
		boolToF(f.HasFlashLoan),
		float64(f.Count),
		float64(len(f.Providers)),
		total,
		boolToF(f.HasCallback),
		float64(f.CallbackCount),
		boolToF(f.Nested),
		boolToF(f.RepaymentDetected),
	}
}

func boolToF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// hexSelector renders a 4-byte selector as lowercase 0x-prefixed hex.
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

// decodeAmount parses the 32-byte big-endian word starting at byte offset
// 4 of the input (i.e. immediately after the selector) as an unsigned
// integer. Returns nil (not zero) when the input is too short — callers
// treat a nil amount as "no contribution", never as a malformed error:
// §4.1's "overflow or malformed input yields zero — never fails."
func decodeAmount(input []byte) *big.Int {
	if len(input) < 36 {
		return nil
	}
	return new(big.Int).SetBytes(input[4:36])
}

// decodeLogAmount parses the first 32-byte word of log data as an
// unsigned integer, or returns nil when data is too short.
func decodeLogAmount(data []byte) *big.Int {
	if len(data) < 32 {
		return nil
	}
	return new(big.Int).SetBytes(data[:32])
}

// walkState accumulates observations while walking a call tree.
type walkState struct {
	providers      map[string]bool
	depths         map[int]bool
	amounts        []*big.Int
	callTreeCount  int
	callbackHits   map[string]bool
	repaymentSeen  bool
}

// ExtractFromTrace runs the full, three-signal flash-loan detector against
// an executed trace: call-tree selector/provider matches, callback
// selector matches, and log topic0 matches.
func ExtractFromTrace(t *trace.ExecutedTrace) Features {
	st := &walkState{
		providers:    map[string]bool{},
		depths:       map[int]bool{},
		callbackHits: map[string]bool{},
	}

	if t.CallTree != nil {
		walkNode(t.CallTree, st, map[*trace.CallNode]bool{})
	}

	const transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

	logMatches := 0
	transferLogCount := 0
	for _, lg := range t.Logs {
		topic := hexHash(lg.Topic0())
		if _, ok := knownEventTopics[topic]; ok {
			logMatches++
			if amt := decodeLogAmount(lg.Data); amt != nil {
				st.amounts = append(st.amounts, amt)
			}
		}
		if topic == transferTopic {
			transferLogCount++
		}
	}

	count := st.callTreeCount
	if logMatches > count {
		count = logMatches
	}

	repayment := st.repaymentSeen || transferLogCount >= 2

	providers := make([]string, 0, len(st.providers))
	for p := range st.providers {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	total := big.NewInt(0)
	for _, a := range st.amounts {
		total.Add(total, a)
	}

	return Features{
		HasFlashLoan:      count > 0,
		Count:             count,
		Providers:         providers,
		TotalBorrowed:     total,
		HasCallback:       len(st.callbackHits) > 0,
		CallbackCount:     len(st.callbackHits),
		Nested:            len(st.depths) > 1,
		RepaymentDetected: repayment,
	}
}

func walkNode(n *trace.CallNode, st *walkState, visited map[*trace.CallNode]bool) {
	if n == nil || visited[n] {
		return
	}
	visited[n] = true

	sel := hexSelector(n.Selector())
	toAddr := addrHex(n.To)

	isFlashLoanCall := false
	if _, ok := knownSelectors[sel]; ok {
		isFlashLoanCall = true
	}
	if _, ok := knownProviders[toAddr]; ok {
		isFlashLoanCall = true
		st.providers[knownProviders[toAddr]] = true
	}
	if isFlashLoanCall {
		st.callTreeCount++
		st.depths[n.Depth] = true
		if amt := decodeAmount(n.Input); amt != nil {
			st.amounts = append(st.amounts, amt)
		}
	}

	if _, ok := knownCallbackSelectors[sel]; ok {
		st.callbackHits[sel] = true
	}

	if sel == transferSelector || sel == transferFromSelector {
		st.repaymentSeen = true
	}

	for _, c := range n.Children {
		walkNode(c, st, visited)
	}
}

func addrHex(a common.Address) string {
	return toLowerHex(a.Bytes())
}

func hexHash(h common.Hash) string {
	return toLowerHex(h.Bytes())
}

func toLowerHex(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 2+len(b)*2)
	out[0], out[1] = '0', 'x'
	for i, c := range b {
		out[2+i*2] = hexdigits[c>>4]
		out[2+i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}

// ExtractFromInput runs C2 in input-only mode: no call tree, no logs. Only
// the outer selector can be checked against the known-selector table, and
// the amount can be decoded from the input itself. This is what the
// aggregator uses for a pending transaction (§4.5).
func ExtractFromInput(input []byte) Features {
	if len(input) < 4 {
		return Features{TotalBorrowed: big.NewInt(0)}
	}
	sel := hexSelector(input[:4])
	_, isFlashLoan := knownSelectors[sel]
	if !isFlashLoan {
		return Features{TotalBorrowed: big.NewInt(0)}
	}

	total := big.NewInt(0)
	if amt := decodeAmount(input); amt != nil {
		total = amt
	}

	return Features{
		HasFlashLoan:  true,
		Count:         1,
		Providers:     nil,
		TotalBorrowed: total,
	}
}
