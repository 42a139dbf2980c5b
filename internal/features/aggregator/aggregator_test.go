package aggregator

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rawblock/sentinel-engine/internal/features/bytecode"
	"github.com/rawblock/sentinel-engine/internal/features/callgraph"
	"github.com/rawblock/sentinel-engine/internal/features/flashloan"
	"github.com/rawblock/sentinel-engine/internal/features/statevariance"
	"github.com/rawblock/sentinel-engine/internal/trace"
)

func TestToVector_ConcatenationOrderAndLength(t *testing.T) {
	rec := Record{
		FlashLoan:     flashloan.Features{HasFlashLoan: true},
		StateVariance: statevariance.Features{TotalChanges: 7},
		Bytecode:      bytecode.Features{Length: 5},
		CallGraph:     callgraph.Features{TotalCalls: 9},
	}
	v := rec.ToVector()
	if len(v) != VectorSize {
		t.Fatalf("expected vector length %d, got %d", VectorSize, len(v))
	}
	if VectorSize != 43 {
		t.Fatalf("expected fixed vector size 43, got %d", VectorSize)
	}
	// Each component's first field lands at its block offset: 0, 8, 18, 29.
	if v[0] != 1 || v[8] != 7 || v[18] != 5 || v[29] != 9 {
		t.Errorf("expected block starts 1/7/5/9 at offsets 0/8/18/29, got %v/%v/%v/%v", v[0], v[8], v[18], v[29])
	}
}

func TestFromPending_SimpleTransfer(t *testing.T) {
	to := common.HexToAddress("0x5555555555555555555555555555555555555555")
	p := &trace.PendingTransaction{To: &to, Value: big.NewInt(100)}

	rec := FromPending(p, nil)
	if rec.Bytecode.IsContract {
		t.Error("expected empty bytecode record for a plain value transfer")
	}
	if rec.FlashLoan.HasFlashLoan {
		t.Error("did not expect a flash loan signature on an empty-input transfer")
	}
}

func TestFromPending_ContractCreation(t *testing.T) {
	input := []byte{0x60, 0x00, 0x60, 0x01, 0xf3}
	p := &trace.PendingTransaction{To: nil, Input: input}

	rec := FromPending(p, nil)
	if !rec.Bytecode.IsContract {
		t.Error("expected the init-code path to produce a bytecode record for contract creation")
	}
}

type stubChain struct {
	code []byte
	err  error
}

func (s *stubChain) GetCode(ctx context.Context, address common.Address, blockNumber *uint64) ([]byte, error) {
	return s.code, s.err
}

func (s *stubChain) CurrentBlock(ctx context.Context) (uint64, error) {
	return 1000, nil
}

func TestFromTrace_NilChainDegradesToEmptyBytecode(t *testing.T) {
	to := common.HexToAddress("0x6666666666666666666666666666666666666666")
	tr := &trace.ExecutedTrace{To: &to, BlockNumber: 10}

	rec := FromTrace(context.Background(), tr, nil, nil)
	if rec.Bytecode.IsContract {
		t.Error("expected empty bytecode record when chain handle is nil")
	}
}

func TestFromTrace_ResolvesDeployedCode(t *testing.T) {
	to := common.HexToAddress("0x7777777777777777777777777777777777777777")
	tr := &trace.ExecutedTrace{To: &to, BlockNumber: 10}
	chain := &stubChain{code: []byte{0x60, 0x00, 0xf3}}

	rec := FromTrace(context.Background(), tr, chain, nil)
	if !rec.Bytecode.IsContract {
		t.Error("expected bytecode record to reflect deployed code returned by the chain handle")
	}
}

func TestFromTrace_LogsFallbackWhenNoStorageChanges(t *testing.T) {
	to := common.HexToAddress("0x8888888888888888888888888888888888888888")
	transferTopic := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	data := make([]byte, 32)
	big.NewInt(42).FillBytes(data)

	tr := &trace.ExecutedTrace{
		To:   &to,
		Logs: []trace.Log{{Address: to, Topics: []common.Hash{transferTopic}, Data: data}},
	}

	rec := FromTrace(context.Background(), tr, nil, nil)
	if rec.StateVariance.TotalChanges != 1 {
		t.Errorf("expected the log-derived fallback to count 1 transfer, got %d", rec.StateVariance.TotalChanges)
	}
}
