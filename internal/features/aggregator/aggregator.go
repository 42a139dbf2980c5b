// Package aggregator implements the feature aggregator (C6): dispatching
// to the flash-loan, state-variance, bytecode, and call-graph extractors
// and assembling their outputs into the single fixed-order 43-dimensional
// feature vector that the scoring stages consume.
package aggregator

import (
	"context"

	"github.com/rawblock/sentinel-engine/internal/features/bytecode"
	"github.com/rawblock/sentinel-engine/internal/features/callgraph"
	"github.com/rawblock/sentinel-engine/internal/features/flashloan"
	"github.com/rawblock/sentinel-engine/internal/features/statevariance"
	"github.com/rawblock/sentinel-engine/internal/trace"
)

// VectorSize is the fixed length of the serialized feature vector:
// 8 (flash-loan) + 10 (state-variance) + 11 (bytecode) + 14 (call-graph).
const VectorSize = 8 + 10 + 11 + 14

// Record is the structured, per-component feature record (C6 output). Its
// ToVector method is the one public contract the rest of the pipeline
// relies on — the component ordering within Record is free to evolve, but
// the serialized vector ordering is not (§6: "public contract — reorder is
// a breaking change").
type Record struct {
	FlashLoan     flashloan.Features
	StateVariance statevariance.Features
	Bytecode      bytecode.Features
	CallGraph     callgraph.Features
}

// ToVector concatenates the four component vectors in the fixed order
// flashloan(8) + statevariance(10) + bytecode(11) + callgraph(14).
func (r Record) ToVector() [VectorSize]float64 {
	var out [VectorSize]float64
	i := 0

	fl := r.FlashLoan.ToVector()
	for _, v := range fl {
		out[i] = v
		i++
	}

	sv := r.StateVariance.ToVector()
	for _, v := range sv {
		out[i] = v
		i++
	}

	bc := r.Bytecode.ToVector()
	for _, v := range bc {
		out[i] = v
		i++
	}

	cg := r.CallGraph.ToVector()
	for _, v := range cg {
		out[i] = v
		i++
	}

	return out
}

// ChainHandle is the narrow interface the aggregator needs to resolve
// deployed bytecode and contract age for an executed trace's recipient.
type ChainHandle interface {
	bytecode.ChainHandle
}

// FromTrace builds the full feature record for an already-executed trace.
// A contract-creation trace takes the bytecode sub-record from the creation
// input; otherwise, when chain is nil, the code fetch fails or the recipient
// has no code, the bytecode sub-record is empty. The state-variance
// extractor falls back to its log-derived approximation when the trace
// carries no storage-change list, and the call-graph extractor does the same
// when the trace carries no call tree.
func FromTrace(ctx context.Context, t *trace.ExecutedTrace, chain ChainHandle, registry *bytecode.KnownExploitRegistry) Record {
	flFeatures := flashloan.ExtractFromTrace(t)

	var svFeatures statevariance.Features
	if len(t.StorageChanges) > 0 {
		svFeatures = statevariance.ExtractFromStorageChanges(t.StorageChanges)
	} else {
		svFeatures = statevariance.ExtractFromLogsFallback(t.Logs)
	}

	var bcFeatures bytecode.Features
	switch {
	case t.IsContractCreation():
		bcFeatures = bytecode.ExtractFromCreationInput(t.Input, registry)
	case chain == nil:
		bcFeatures = bytecode.Empty()
	default:
		code, err := chain.GetCode(ctx, *t.To, &t.BlockNumber)
		if err != nil || len(code) == 0 {
			bcFeatures = bytecode.Empty()
		} else {
			bcFeatures = bytecode.ExtractFromDeployedCode(ctx, code, *t.To, chain, registry)
		}
	}

	var cgFeatures callgraph.Features
	if t.CallTree != nil {
		cgFeatures = callgraph.ExtractFromTree(t.CallTree)
	} else {
		cgFeatures = callgraph.ExtractFromLogsFallback(t.Logs)
	}

	return Record{
		FlashLoan:     flFeatures,
		StateVariance: svFeatures,
		Bytecode:      bcFeatures,
		CallGraph:     cgFeatures,
	}
}

// FromPending builds a best-effort feature record for a not-yet-executed
// transaction, per §4.5: flash-loan and call-graph extraction fall back to
// their input/predicate-only modes, state-variance is entirely unknown
// (zero record, since no storage changes exist yet), and the bytecode
// extractor only runs when the transaction is itself a contract creation
// (its own init code is the only code available pre-execution).
func FromPending(p *trace.PendingTransaction, registry *bytecode.KnownExploitRegistry) Record {
	flFeatures := flashloan.ExtractFromInput(p.Input)

	svFeatures := statevariance.Features{}

	var bcFeatures bytecode.Features
	if p.IsContractCreation() {
		bcFeatures = bytecode.ExtractFromCreationInput(p.Input, registry)
	} else {
		bcFeatures = bytecode.Empty()
	}

	cgFeatures := callgraph.ExtractFromPending(p.IsContractInteraction(), p.Value)

	return Record{
		FlashLoan:     flFeatures,
		StateVariance: svFeatures,
		Bytecode:      bcFeatures,
		CallGraph:     cgFeatures,
	}
}
