package flashloan

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rawblock/sentinel-engine/internal/trace"
)

func selectorInput(sel string, amount *big.Int) []byte {
	b := make([]byte, 4)
	hexToBytes(sel, b)
	out := append([]byte{}, b...)
	word := make([]byte, 32)
	if amount != nil {
		amount.FillBytes(word)
	}
	return append(out, word...)
}

func hexToBytes(s string, dst []byte) {
	s = s[2:] // drop 0x
	for i := 0; i < len(dst); i++ {
		hi := hexNibble(s[i*2])
		lo := hexNibble(s[i*2+1])
		dst[i] = hi<<4 | lo
	}
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func TestExtractFromInput_KnownSelector(t *testing.T) {
	input := selectorInput("0x5cffe9de", big.NewInt(1_000_000))
	f := ExtractFromInput(input)

	if !f.HasFlashLoan {
		t.Fatal("expected HasFlashLoan true for known flash-loan selector")
	}
	if f.Count != 1 {
		t.Errorf("expected count 1, got %d", f.Count)
	}
	if f.TotalBorrowed.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("expected total borrowed 1000000, got %s", f.TotalBorrowed.String())
	}
}

func TestExtractFromInput_UnknownSelector(t *testing.T) {
	input := selectorInput("0xdeadbeef", big.NewInt(500))
	f := ExtractFromInput(input)

	if f.HasFlashLoan {
		t.Fatal("expected HasFlashLoan false for unrecognized selector")
	}
	if f.TotalBorrowed == nil || f.TotalBorrowed.Sign() != 0 {
		t.Errorf("expected zero total borrowed, got %v", f.TotalBorrowed)
	}
}

func TestExtractFromInput_ShortInput(t *testing.T) {
	f := ExtractFromInput([]byte{0x01, 0x02})
	if f.HasFlashLoan {
		t.Fatal("expected HasFlashLoan false for input shorter than a selector")
	}
}

func TestExtractFromTrace_SingleProviderWithRepayment(t *testing.T) {
	providerAddr := common.HexToAddress("0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc") // uniswap_v2
	borrower := common.HexToAddress("0x1111111111111111111111111111111111111111")

	flashInput := selectorInput("0xc1a8a1f5", big.NewInt(42))
	repayInput := selectorInput("0xa9059cbb", nil)

	root := &trace.CallNode{
		Kind:  trace.CallKindCall,
		From:  borrower,
		To:    providerAddr,
		Input: flashInput,
		Depth: 0,
		Children: []*trace.CallNode{
			{
				Kind:  trace.CallKindCall,
				From:  providerAddr,
				To:    borrower,
				Input: repayInput,
				Depth: 1,
			},
		},
	}

	tr := &trace.ExecutedTrace{CallTree: root}
	f := ExtractFromTrace(tr)

	if !f.HasFlashLoan {
		t.Fatal("expected HasFlashLoan true")
	}
	if len(f.Providers) != 1 || f.Providers[0] != "uniswap_v2" {
		t.Errorf("expected provider [uniswap_v2], got %v", f.Providers)
	}
	if !f.RepaymentDetected {
		t.Error("expected repayment detected from transfer() call")
	}
	if f.Nested {
		t.Error("did not expect nested flash loan for single-depth draw-down")
	}
}

func TestExtractFromTrace_NestedAtMultipleDepths(t *testing.T) {
	providerAddr := common.HexToAddress("0xba12222222228d8ba445958a75a0704d566bf2c8") // balancer
	flashInput := selectorInput("0x9c3f1e90", big.NewInt(10))

	inner := &trace.CallNode{Kind: trace.CallKindCall, To: providerAddr, Input: flashInput, Depth: 2}
	outer := &trace.CallNode{Kind: trace.CallKindCall, To: providerAddr, Input: flashInput, Depth: 0, Children: []*trace.CallNode{inner}}

	tr := &trace.ExecutedTrace{CallTree: outer}
	f := ExtractFromTrace(tr)

	if !f.Nested {
		t.Error("expected Nested true when the same flash-loan provider is drawn at two distinct depths")
	}
	if f.Count != 2 {
		t.Errorf("expected count 2, got %d", f.Count)
	}
}

func TestExtractFromTrace_NoFlashLoan(t *testing.T) {
	tr := &trace.ExecutedTrace{CallTree: &trace.CallNode{Kind: trace.CallKindCall, Depth: 0}}
	f := ExtractFromTrace(tr)
	if f.HasFlashLoan {
		t.Fatal("expected HasFlashLoan false for a plain call tree")
	}
}

func TestToVector_Order(t *testing.T) {
	f := Features{
		HasFlashLoan:      true,
		Count:             3,
		Providers:         []string{"aave_v2", "balancer"},
		TotalBorrowed:     new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		HasCallback:       true,
		CallbackCount:     1,
		Nested:            true,
		RepaymentDetected: false,
	}
	v := f.ToVector()

	want := [8]float64{1, 3, 2, 2, 1, 1, 1, 0}
	if v != want {
		t.Errorf("ToVector() = %v, want %v", v, want)
	}
}
