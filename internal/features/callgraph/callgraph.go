// Package callgraph implements the call-graph extractor (C5): walking the
// executed call tree to summarize call counts, depth, kind distribution,
// value transfers, gas usage, and reverts, and to assign a single coarse
// pattern tag per trace.
package callgraph

import (
	"math/big"

	"github.com/rawblock/sentinel-engine/internal/trace"
)

// maxWalkDepth caps the DFS depth so a maliciously deep or cyclic call
// tree cannot blow the stack; nodes beyond this depth are not visited.
const maxWalkDepth = 1024

// Features is the call-graph sub-record of the feature record (C5 output).
type Features struct {
	TotalCalls        int
	MaxDepth          int
	CallCount         int
	StaticCallCount   int
	DelegateCount     int
	CallCodeCount     int // not part of the vector; kept for explanations
	CreateCount       int
	Create2Count      int
	SelfDestructCount int
	InternalCalls     int
	ExternalCalls     int
	UniqueCallTypes   int
	ValueTransfers    int
	GasSupplied       uint64
	GasUsed           uint64
	GasRatio          float64
	RevertCount       int
	PatternTag        string
}

// ToVector serializes Features into the fixed 14-dimensional ordering
// required by §6:
// [total_calls, call_depth, delegatecall, staticcall, create, create2,
//  selfdestruct, call, internal_calls, external_calls, unique_call_types,
//  value_transfers, gas_ratio, revert_count].
func (f Features) ToVector() [14]float64 {
	return [14]float64{
		float64(f.TotalCalls),
		float64(f.MaxDepth),
		float64(f.DelegateCount),
		float64(f.StaticCallCount),
		float64(f.CreateCount),
		float64(f.Create2Count),
		float64(f.SelfDestructCount),
		float64(f.CallCount),
		float64(f.InternalCalls),
		float64(f.ExternalCalls),
		float64(f.UniqueCallTypes),
		float64(f.ValueTransfers),
		f.GasRatio,
		float64(f.RevertCount),
	}
}

// walkState accumulates observations during the single DFS pass.
type walkState struct {
	total             int
	maxDepth          int
	callCount         int
	staticCallCount   int
	delegateCount     int
	callCodeCount     int
	createCount       int
	create2Count      int
	selfDestructCount int
	internalCalls     int
	externalCalls     int
	valueTransfers    int
	gasSupplied       uint64
	gasUsed           uint64
	revertCount       int
	hasDelegate       bool
	hasSelfDestruct   bool
	hasCreate2        bool
	maxSameKindFanout int
	kindsSeen         map[trace.CallKind]bool
}

// ExtractFromTree performs a single cycle-guarded, depth-capped DFS over
// root and computes every Features field plus the pattern tag. A nil root
// yields the zero Features with PatternTag "standard".
func ExtractFromTree(root *trace.CallNode) Features {
	if root == nil {
		return Features{PatternTag: "standard"}
	}

	st := &walkState{kindsSeen: map[trace.CallKind]bool{}}
	visited := map[*trace.CallNode]bool{}
	walk(root, 0, st, visited)

	gasRatio := 0.0
	if st.gasSupplied > 0 {
		gasRatio = float64(st.gasUsed) / float64(st.gasSupplied)
	}

	f := Features{
		TotalCalls:        st.total,
		MaxDepth:          st.maxDepth,
		CallCount:         st.callCount,
		StaticCallCount:   st.staticCallCount,
		DelegateCount:     st.delegateCount,
		CallCodeCount:     st.callCodeCount,
		CreateCount:       st.createCount,
		Create2Count:      st.create2Count,
		SelfDestructCount: st.selfDestructCount,
		InternalCalls:     st.internalCalls,
		ExternalCalls:     st.externalCalls,
		UniqueCallTypes:   len(st.kindsSeen),
		ValueTransfers:    st.valueTransfers,
		GasSupplied:       st.gasSupplied,
		GasUsed:           st.gasUsed,
		GasRatio:          gasRatio,
		RevertCount:       st.revertCount,
	}
	f.PatternTag = classify(f, st)
	return f
}

func walk(n *trace.CallNode, depth int, st *walkState, visited map[*trace.CallNode]bool) {
	if n == nil || visited[n] || depth > maxWalkDepth {
		return
	}
	visited[n] = true

	st.total++
	if depth > st.maxDepth {
		st.maxDepth = depth
	}
	st.kindsSeen[n.Kind] = true

	switch n.Kind {
	case trace.CallKindCall:
		st.callCount++
	case trace.CallKindStaticCall:
		st.staticCallCount++
	case trace.CallKindDelegateCall:
		st.delegateCount++
		st.hasDelegate = true
	case trace.CallKindCallCode:
		st.callCodeCount++
	case trace.CallKindCreate:
		st.createCount++
	case trace.CallKindCreate2:
		st.create2Count++
		st.hasCreate2 = true
	case trace.CallKindSelfDestruct:
		st.selfDestructCount++
		st.hasSelfDestruct = true
	}

	if trace.ExternalCallKinds[n.Kind] {
		st.externalCalls++
	} else {
		st.internalCalls++
	}

	if n.Value != nil && n.Value.Sign() > 0 {
		st.valueTransfers++
	}

	st.gasSupplied += n.Gas
	st.gasUsed += n.GasUsed

	if n.Reverted {
		st.revertCount++
	}

	if len(n.Children) > st.maxSameKindFanout {
		st.maxSameKindFanout = len(n.Children)
	}

	for _, c := range n.Children {
		walk(c, depth+1, st, visited)
	}
}

// batchCallFanoutThreshold is the minimum child count of a single node that
// qualifies a tree as a "batch" pattern; multiTransferThreshold is the
// minimum number of value-carrying calls anywhere in the tree that
// qualifies it as a "multi-transfer" pattern.
const (
	batchCallFanoutThreshold = 5
	multiTransferThreshold   = 3
	deepRecursionThreshold   = 8
	complexMulticallCalls    = 10
)

// classify assigns exactly one pattern tag by the fixed, first-match-wins
// cascade: destructive, metamorphic, proxy_chain, complex_multicall,
// deep_recursion, multi_transfer, batch_calls, standard.
func classify(f Features, st *walkState) string {
	switch {
	case st.hasSelfDestruct:
		return "destructive"
	case st.hasCreate2 && st.hasDelegate:
		return "metamorphic"
	case st.delegateCount >= 2:
		return "proxy_chain"
	case st.total >= complexMulticallCalls:
		return "complex_multicall"
	case st.maxDepth >= deepRecursionThreshold:
		return "deep_recursion"
	case st.valueTransfers >= multiTransferThreshold:
		return "multi_transfer"
	case st.maxSameKindFanout >= batchCallFanoutThreshold:
		return "batch_calls"
	default:
		return "standard"
	}
}

// ExtractFromLogsFallback is the coarse fallback used when no call tree
// was captured for the trace: it treats every log as one external call and
// cannot observe depth, gas, kind, or reverts, so those fields are zero.
func ExtractFromLogsFallback(logs []trace.Log) Features {
	f := Features{
		TotalCalls:    len(logs),
		ExternalCalls: len(logs),
		PatternTag:    "standard",
	}
	if len(logs) >= complexMulticallCalls {
		f.PatternTag = "complex_multicall"
	}
	return f
}

// ExtractFromPending produces a minimal, coarse record from pending-tx
// predicates alone: no call tree exists before execution, so only the
// single outer "call" is known.
func ExtractFromPending(isContractInteraction bool, value *big.Int) Features {
	if !isContractInteraction {
		return Features{PatternTag: "standard"}
	}
	f := Features{
		TotalCalls:    1,
		CallCount:     1,
		ExternalCalls: 1,
		PatternTag:    "standard",
	}
	if value != nil && value.Sign() > 0 {
		f.ValueTransfers = 1
	}
	return f
}
