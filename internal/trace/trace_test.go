package trace

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestCallNode_Selector(t *testing.T) {
	n := &CallNode{Input: []byte{0xa9, 0x05, 0x9c, 0xbb, 0x01, 0x02}}
	sel := n.Selector()
	if len(sel) != 4 || sel[0] != 0xa9 {
		t.Errorf("expected 4-byte selector starting with 0xa9, got %x", sel)
	}

	short := &CallNode{Input: []byte{0x01, 0x02}}
	if short.Selector() != nil {
		t.Error("expected nil selector for input shorter than 4 bytes")
	}

	var nilNode *CallNode
	if nilNode.Selector() != nil {
		t.Error("expected nil selector on a nil node")
	}
}

func TestLog_Topic0(t *testing.T) {
	transferTopic := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	l := Log{Topics: []common.Hash{transferTopic}}
	if l.Topic0() != transferTopic {
		t.Errorf("expected Topic0 to return the first topic, got %s", l.Topic0().Hex())
	}

	anonymous := Log{}
	if anonymous.Topic0() != (common.Hash{}) {
		t.Error("expected the zero hash for an anonymous log")
	}
}

func TestExecutedTrace_IsContractCreationAndSelector(t *testing.T) {
	creation := &ExecutedTrace{To: nil, Input: []byte{0x60, 0x60, 0x60, 0x40, 0x52}}
	if !creation.IsContractCreation() {
		t.Error("expected IsContractCreation to be true when To is nil")
	}
	if sel := creation.Selector(); len(sel) != 4 {
		t.Errorf("expected a 4-byte selector, got %x", sel)
	}

	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	call := &ExecutedTrace{To: &addr, Input: []byte{0x01, 0x02}}
	if call.IsContractCreation() {
		t.Error("expected IsContractCreation to be false when To is set")
	}
	if call.Selector() != nil {
		t.Error("expected nil selector for input shorter than 4 bytes")
	}
}

func TestPendingTransaction_Classification(t *testing.T) {
	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")

	transfer := &PendingTransaction{To: &addr}
	if !transfer.IsSimpleTransfer() {
		t.Error("expected a recipient with no calldata to be a simple transfer")
	}
	if transfer.IsContractInteraction() || transfer.IsContractCreation() {
		t.Error("a simple transfer should not also classify as interaction or creation")
	}

	interaction := &PendingTransaction{To: &addr, Input: []byte{0xa9, 0x05, 0x9c, 0xbb}}
	if !interaction.IsContractInteraction() {
		t.Error("expected a recipient with calldata to be a contract interaction")
	}
	if interaction.IsSimpleTransfer() || interaction.IsContractCreation() {
		t.Error("a contract interaction should not also classify as transfer or creation")
	}

	creation := &PendingTransaction{To: nil, Input: []byte{0x60, 0x60, 0x60, 0x40}}
	if !creation.IsContractCreation() {
		t.Error("expected nil recipient with init code to be a contract creation")
	}
	if creation.IsSimpleTransfer() || creation.IsContractInteraction() {
		t.Error("a contract creation should not also classify as transfer or interaction")
	}

	empty := &PendingTransaction{To: nil}
	if empty.IsContractCreation() {
		t.Error("expected nil recipient with no input to not classify as contract creation")
	}

	if creation.Selector() == nil {
		t.Error("expected a selector for a 4+ byte input")
	}
	if transfer.Selector() != nil {
		t.Error("expected nil selector for empty input")
	}
}
