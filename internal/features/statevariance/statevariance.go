// Package statevariance implements the state-variance extractor (C3):
// summarizing the storage-change list of an executed trace by cardinality,
// magnitude, distribution, and zero-transitions, with an ERC-20-log
// fallback when no storage changes were captured.
package statevariance

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rawblock/sentinel-engine/internal/trace"
)

// largeChangeThreshold is the |new-prev| delta, in wei, above which a
// storage write is classified as "large" (10^18 = 1 native unit).
var largeChangeThreshold = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// canonicalBalanceSlots are low-integer storage slots conventionally used
// by simple balance-mapping layouts (slot 0 through slot 5).
var canonicalBalanceSlots = map[common.Hash]bool{}

func init() {
	for i := 0; i <= 5; i++ {
		canonicalBalanceSlots[slotHash(i)] = true
	}
}

func slotHash(n int) common.Hash {
	var h common.Hash
	h[31] = byte(n)
	return h
}

// Features is the state-variance sub-record of the feature record (C3 output).
type Features struct {
	TotalChanges    int
	UniqueContracts int
	UniqueSlots     int
	BalanceChanges  int
	LargeChanges    int
	MaxDelta        *big.Int
	AvgDelta        *big.Int
	VarianceRatio   float64
	ZeroToNonzero   int
	NonzeroToZero   int
}

// ToVector serializes Features into the fixed 10-dimensional ordering
// required by §6:
// [total_changes, unique_contracts, unique_slots, balance_changes, large_changes, max_delta_native, avg_delta_native, variance_ratio, zero_to_nonzero, nonzero_to_zero].
func (f Features) ToVector() [10]float64 {
	return [10]float64{
		float64(f.TotalChanges),
		float64(f.UniqueContracts),
		float64(f.UniqueSlots),
		float64(f.BalanceChanges),
		float64(f.LargeChanges),
		toNativeUnits(f.MaxDelta),
		toNativeUnits(f.AvgDelta),
		f.VarianceRatio,
		float64(f.ZeroToNonzero),
		float64(f.NonzeroToZero),
	}
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

// isBalanceLikeSlot reports whether a 32-byte storage slot is either a
// canonical low-index slot or interprets as an integer below 10 — the two
// conditions §4.2 treats as "balance-like".
func isBalanceLikeSlot(slot common.Hash) bool {
	if canonicalBalanceSlots[slot] {
		return true
	}
	asInt := new(big.Int).SetBytes(slot[:])
	return asInt.Cmp(big.NewInt(10)) < 0
}

// ExtractFromStorageChanges computes the full storage-change statistics
// directly. When changes is empty, callers should instead use
// ExtractFromLogsFallback.
func ExtractFromStorageChanges(changes []trace.StorageChange) Features {
	if len(changes) == 0 {
		return Features{MaxDelta: big.NewInt(0), AvgDelta: big.NewInt(0)}
	}

	addresses := map[common.Address]bool{}
	slotPairs := map[string]bool{}
	balanceChanges := 0
	largeChanges := 0
	zeroToNonzero := 0
	nonzeroToZero := 0

	deltas := make([]*big.Int, 0, len(changes))
	maxDelta := big.NewInt(0)

	for _, c := range changes {
		addresses[c.Address] = true
		slotPairs[addrSlotKey(c.Address, c.Slot)] = true

		if isBalanceLikeSlot(c.Slot) {
			balanceChanges++
		}

		prev := new(big.Int).SetBytes(c.Previous[:])
		next := new(big.Int).SetBytes(c.New[:])
		delta := new(big.Int).Sub(next, prev)
		delta.Abs(delta)
		deltas = append(deltas, delta)

		if delta.Cmp(largeChangeThreshold) >= 0 {
			largeChanges++
		}
		if delta.Cmp(maxDelta) > 0 {
			maxDelta = delta
		}

		prevZero := prev.Sign() == 0
		nextZero := next.Sign() == 0
		if prevZero && !nextZero {
			zeroToNonzero++
		}
		if !prevZero && nextZero {
			nonzeroToZero++
		}
	}

	avgDelta, variance := meanAndCV(deltas)

	return Features{
		TotalChanges:    len(changes),
		UniqueContracts: len(addresses),
		UniqueSlots:     len(slotPairs),
		BalanceChanges:  balanceChanges,
		LargeChanges:    largeChanges,
		MaxDelta:        maxDelta,
		AvgDelta:        avgDelta,
		VarianceRatio:   variance,
		ZeroToNonzero:   zeroToNonzero,
		NonzeroToZero:   nonzeroToZero,
	}
}

// meanAndCV returns the arithmetic mean of deltas and the
// coefficient-of-variation (population stddev / mean), which is defined as
// 0 when fewer than two deltas are present or the mean is zero.
func meanAndCV(deltas []*big.Int) (*big.Int, float64) {
	if len(deltas) == 0 {
		return big.NewInt(0), 0
	}

	sum := big.NewInt(0)
	floats := make([]float64, len(deltas))
	for i, d := range deltas {
		sum.Add(sum, d)
		fv := new(big.Float).SetInt(d)
		floats[i], _ = fv.Float64()
	}
	avg := new(big.Int).Div(sum, big.NewInt(int64(len(deltas))))

	if len(deltas) < 2 {
		return avg, 0
	}

	meanF := 0.0
	for _, v := range floats {
		meanF += v
	}
	meanF /= float64(len(floats))
	if meanF == 0 {
		return avg, 0
	}

	variance := 0.0
	for _, v := range floats {
		d := v - meanF
		variance += d * d
	}
	variance /= float64(len(floats))
	stddev := math.Sqrt(variance)

	return avg, stddev / meanF
}

// ExtractFromLogsFallback summarizes ERC-20 Transfer events when no
// storage-change list was captured for the trace. The fallback is
// semantically coarser than ExtractFromStorageChanges but feeds the same
// named output fields, per §4.2.
func ExtractFromLogsFallback(logs []trace.Log) Features {
	const transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

	addresses := map[common.Address]bool{}
	transferCount := 0
	deltas := make([]*big.Int, 0)
	maxDelta := big.NewInt(0)

	for _, lg := range logs {
		addresses[lg.Address] = true
		if len(lg.Topics) == 0 {
			continue
		}
		if toLowerHex(lg.Topics[0][:]) != transferTopic {
			continue
		}
		transferCount++
		if len(lg.Data) >= 32 {
			amt := new(big.Int).SetBytes(lg.Data[:32])
			deltas = append(deltas, amt)
			if amt.Cmp(maxDelta) > 0 {
				maxDelta = amt
			}
		}
	}

	avgDelta, variance := meanAndCV(deltas)
	largeChanges := 0
	for _, d := range deltas {
		if d.Cmp(largeChangeThreshold) >= 0 {
			largeChanges++
		}
	}

	return Features{
		TotalChanges:    transferCount,
		UniqueContracts: len(addresses),
		UniqueSlots:     0,
		BalanceChanges:  0,
		LargeChanges:    largeChanges,
		MaxDelta:        maxDelta,
		AvgDelta:        avgDelta,
		VarianceRatio:   variance,
		ZeroToNonzero:   0,
		NonzeroToZero:   0,
	}
}

func addrSlotKey(addr common.Address, slot common.Hash) string {
	return toLowerHex(addr[:]) + ":" + toLowerHex(slot[:])
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
