// Package trace defines the value types that carry a transaction through
// the scoring pipeline: pending transactions (pre-execution) and executed
// traces (post-simulation), plus their shared call-tree and storage-change
// shapes.
package trace

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallKind enumerates the EVM call/contract-lifecycle opcodes that can
// appear as a node in a call tree.
type CallKind string

const (
	CallKindCall         CallKind = "CALL"
	CallKindStaticCall   CallKind = "STATICCALL"
	CallKindDelegateCall CallKind = "DELEGATECALL"
	CallKindCallCode     CallKind = "CALLCODE"
	CallKindCreate       CallKind = "CREATE"
	CallKindCreate2      CallKind = "CREATE2"
	CallKindSelfDestruct CallKind = "SELFDESTRUCT"
)

// ExternalCallKinds are the message-call kinds (CALL, STATICCALL,
// DELEGATECALL, CALLCODE) that count as external calls; the contract
// lifecycle kinds CREATE, CREATE2 and SELFDESTRUCT are not in the set.
var ExternalCallKinds = map[CallKind]bool{
	CallKindCall:         true,
	CallKindStaticCall:   true,
	CallKindDelegateCall: true,
	CallKindCallCode:     true,
}

// CallNode is one node of the rooted call tree produced by executing a
// transaction. Depth of the root is 0. Children are ordered as observed.
type CallNode struct {
	Kind     CallKind
	From     common.Address
	To       common.Address
	Value    *big.Int
	Gas      uint64
	GasUsed  uint64
	Input    []byte
	Output   []byte
	Depth    int
	Reverted bool
	Children []*CallNode
}

// Selector returns the first four bytes of Input, or nil when shorter.
func (n *CallNode) Selector() []byte {
	if n == nil || len(n.Input) < 4 {
		return nil
	}
	return n.Input[:4]
}

// StorageChange is one write observed against a contract's storage during
// execution.
type StorageChange struct {
	Address  common.Address
	Slot     common.Hash
	Previous common.Hash
	New      common.Hash
}

// Log is one EVM log entry (an emitted event).
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// Topic0 returns the event signature topic, or the zero hash when the log
// is anonymous (no topics).
func (l Log) Topic0() common.Hash {
	if len(l.Topics) == 0 {
		return common.Hash{}
	}
	return l.Topics[0]
}

// ExecutedTrace is a fully-executed, post-simulation transaction: every
// field the feature extractors can observe after the fact.
type ExecutedTrace struct {
	TxHash         common.Hash
	BlockNumber    uint64
	From           common.Address
	To             *common.Address // nil for a contract-creation trace
	Value          *big.Int
	GasUsed        uint64
	GasPrice       *big.Int
	Input          []byte
	Success        bool
	Logs           []Log
	CallTree       *CallNode // nil when no call-tree instrumentation was available
	StorageChanges []StorageChange
	OpcodeCounts   map[string]int
	ContractsCalled       []common.Address
	ContractsCreated      []common.Address
	ContractsSelfDestruct []common.Address
}

// IsContractCreation reports whether this trace deployed a new contract.
func (t *ExecutedTrace) IsContractCreation() bool {
	return t.To == nil
}

// Selector returns the first four bytes of the outer call's input, or nil.
func (t *ExecutedTrace) Selector() []byte {
	if len(t.Input) < 4 {
		return nil
	}
	return t.Input[:4]
}

// PendingTransaction is a not-yet-executed transaction as observed on the
// mempool or at a transaction gateway, prior to simulation.
type PendingTransaction struct {
	Hash                 common.Hash
	From                 common.Address
	To                   *common.Address
	Value                *big.Int
	Gas                  uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int // optional, EIP-1559
	MaxPriorityFeePerGas *big.Int // optional, EIP-1559
	Input                []byte
	Nonce                uint64
	ChainID              *big.Int // optional
}

// IsSimpleTransfer reports whether the tx has a recipient and no calldata —
// a plain native-value transfer.
func (p *PendingTransaction) IsSimpleTransfer() bool {
	return p.To != nil && len(p.Input) == 0
}

// IsContractInteraction reports whether the tx calls an existing contract
// with non-empty calldata.
func (p *PendingTransaction) IsContractInteraction() bool {
	return p.To != nil && len(p.Input) > 0
}

// IsContractCreation reports whether the tx has no recipient and carries
// non-empty init code.
func (p *PendingTransaction) IsContractCreation() bool {
	return p.To == nil && len(p.Input) > 0
}

// Selector returns the first four bytes of Input, or nil when shorter.
func (p *PendingTransaction) Selector() []byte {
	if len(p.Input) < 4 {
		return nil
	}
	return p.Input[:4]
}
