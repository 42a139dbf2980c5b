package statevariance

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rawblock/sentinel-engine/internal/trace"
)

func hashFromInt(n int64) common.Hash {
	var h common.Hash
	b := big.NewInt(n).Bytes()
	copy(h[32-len(b):], b)
	return h
}

func TestExtractFromStorageChanges_Empty(t *testing.T) {
	f := ExtractFromStorageChanges(nil)
	if f.TotalChanges != 0 {
		t.Errorf("expected zero total changes, got %d", f.TotalChanges)
	}
	if f.MaxDelta == nil || f.MaxDelta.Sign() != 0 {
		t.Errorf("expected zero MaxDelta, got %v", f.MaxDelta)
	}
}

func TestExtractFromStorageChanges_BasicCounts(t *testing.T) {
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	changes := []trace.StorageChange{
		{Address: addr, Slot: hashFromInt(0), Previous: hashFromInt(0), New: hashFromInt(5)},   // zero->nonzero, balance-like slot
		{Address: addr, Slot: hashFromInt(1), Previous: hashFromInt(5), New: hashFromInt(0)},   // nonzero->zero
		{Address: addr, Slot: hashFromInt(99), Previous: hashFromInt(1), New: hashFromInt(2)}, // unremarkable
	}

	f := ExtractFromStorageChanges(changes)

	if f.TotalChanges != 3 {
		t.Errorf("expected 3 total changes, got %d", f.TotalChanges)
	}
	if f.UniqueContracts != 1 {
		t.Errorf("expected 1 unique contract, got %d", f.UniqueContracts)
	}
	if f.UniqueSlots != 3 {
		t.Errorf("expected 3 unique slots, got %d", f.UniqueSlots)
	}
	if f.BalanceChanges != 2 {
		t.Errorf("expected 2 balance-like changes (slots 0 and 1), got %d", f.BalanceChanges)
	}
	if f.ZeroToNonzero != 1 {
		t.Errorf("expected 1 zero->nonzero transition, got %d", f.ZeroToNonzero)
	}
	if f.NonzeroToZero != 1 {
		t.Errorf("expected 1 nonzero->zero transition, got %d", f.NonzeroToZero)
	}
}

func TestExtractFromStorageChanges_LargeChangeAndMaxDelta(t *testing.T) {
	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	oneEther := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	var prevSlot, newSlot common.Hash
	oneEther.FillBytes(newSlot[:])

	changes := []trace.StorageChange{
		{Address: addr, Slot: hashFromInt(50), Previous: prevSlot, New: newSlot},
	}

	f := ExtractFromStorageChanges(changes)
	if f.LargeChanges != 1 {
		t.Errorf("expected 1 large change at exactly the 1-native-unit threshold, got %d", f.LargeChanges)
	}
	if f.MaxDelta.Cmp(oneEther) != 0 {
		t.Errorf("expected max delta %s, got %s", oneEther, f.MaxDelta)
	}
}

func TestExtractFromLogsFallback_TransferEvents(t *testing.T) {
	addr := common.HexToAddress("0x4444444444444444444444444444444444444444")
	transferTopic := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	otherTopic := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")

	data := make([]byte, 32)
	big.NewInt(1000).FillBytes(data)

	logs := []trace.Log{
		{Address: addr, Topics: []common.Hash{transferTopic}, Data: data},
		{Address: addr, Topics: []common.Hash{otherTopic}, Data: data},
		{Address: addr, Topics: nil},
	}

	f := ExtractFromLogsFallback(logs)
	if f.TotalChanges != 1 {
		t.Errorf("expected 1 transfer event counted, got %d", f.TotalChanges)
	}
	if f.UniqueContracts != 1 {
		t.Errorf("expected 1 unique contract, got %d", f.UniqueContracts)
	}
	if f.MaxDelta.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("expected max delta 1000, got %s", f.MaxDelta)
	}
}

func TestToVector_Order(t *testing.T) {
	f := Features{
		TotalChanges:    4,
		UniqueContracts: 2,
		UniqueSlots:     3,
		BalanceChanges:  1,
		LargeChanges:    1,
		MaxDelta:        new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		AvgDelta:        new(big.Int).Div(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), big.NewInt(2)),
		VarianceRatio:   0.5,
		ZeroToNonzero:   1,
		NonzeroToZero:   0,
	}
	v := f.ToVector()
	want := [10]float64{4, 2, 3, 1, 1, 1.0, 0.5, 0.5, 1, 0}
	if v != want {
		t.Errorf("ToVector() = %v, want %v", v, want)
	}
}
