// Package bytecode implements the bytecode extractor (C4): deployed-code
// length, proxy-pattern detection, dangerous-opcode presence, contract age,
// similarity to a known-bad registry, and unique-opcode cardinality via a
// PUSH-immediate-aware decoder.
package bytecode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
)

// ChainHandle is the narrow read interface the bytecode extractor needs
// from a live chain — code retrieval and the current block height. Both
// methods may fail; the extractor degrades to an empty/zero value on
// error rather than surfacing it (§7: "chain handle failure... the
// bytecode record degrades to empty").
type ChainHandle interface {
	GetCode(ctx context.Context, address common.Address, blockNumber *uint64) ([]byte, error)
	CurrentBlock(ctx context.Context) (uint64, error)
}

// proxyStorageSlotSignatures are the well-known EIP-1967/1822/Transparent
// implementation-slot hashes. Their presence as a literal byte pattern
// inside runtime bytecode (as a PUSH32 immediate, typically) is the
// standard way proxies reference their own storage slot.
var proxyStorageSlotSignatures = map[string]string{
	"360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bb": "eip1967",
	"a3f0ad74e5423aebfd80d3ef4346578335a9a72aeaee59ff6cb3582b35133d50": "eip1822",
	"7050c9e0f4ca769c69bd3a8ef740bc37934f8e2c036e5a723fd8ee048ed3f8c3": "transparent",
}

// eip1167CloneHexPrefix is the minimal-proxy (EIP-1167) runtime preamble.
const eip1167CloneHexPrefix = "363d3d373d3d3d363d"

// minimalProxyMaxHexLen bounds how short a contract's runtime code must be
// to qualify as a generic minimal proxy when it also contains a
// DELEGATECALL (0xf4) byte.
const minimalProxyMaxHexLen = 200

// Features is the bytecode sub-record of the feature record (C4 output).
type Features struct {
	Length            int
	IsContract        bool
	IsProxy           bool
	ProxyType         string // not part of the vector; kept for explanations
	AgeBlocks         uint64
	IsVerified        bool // always false: source verification is out of scope
	MatchesExploit    bool
	JaccardSimilarity float64
	HasSelfDestruct   bool
	HasDelegateCall   bool
	HasCreate2        bool
	UniqueOpcodes     int
}

// ToVector serializes Features into the fixed 11-dimensional ordering
// required by §6:
// [length, is_contract, is_proxy, age_blocks, is_verified, matches_exploit, jaccard, has_selfdestruct, has_delegatecall, has_create2, unique_opcodes].
func (f Features) ToVector() [11]float64 {
	return [11]float64{
		float64(f.Length),
		boolToF(f.IsContract),
		boolToF(f.IsProxy),
		float64(f.AgeBlocks),
		boolToF(f.IsVerified),
		boolToF(f.MatchesExploit),
		f.JaccardSimilarity,
		boolToF(f.HasSelfDestruct),
		boolToF(f.HasDelegateCall),
		boolToF(f.HasCreate2),
		float64(f.UniqueOpcodes),
	}
}

func boolToF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Empty returns the "no contract here" record used for EOAs, for
// contract-creation when the input payload itself is empty, and as the
// chain-handle-unavailable degradation.
func Empty() Features {
	return Features{}
}

// KnownExploitRegistry is an immutable, process-wide set of known-bad
// bytecode hash prefixes, injected at construction per the Design Note in
// spec.md §9 ("model as a config value... not ambient globals").
type KnownExploitRegistry struct {
	hashPrefixes map[string]bool
	samples      [][]byte // used for Jaccard comparison
}

// NewKnownExploitRegistry builds a registry from raw known-bad bytecode
// samples (hex-decoded already).
func NewKnownExploitRegistry(samples [][]byte) *KnownExploitRegistry {
	r := &KnownExploitRegistry{hashPrefixes: map[string]bool{}, samples: samples}
	for _, s := range samples {
		r.hashPrefixes[hashPrefix(s)] = true
	}
	return r
}

func hashPrefix(code []byte) string {
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:8])
}

// ExtractFromDeployedCode builds the full record for a contract that
// already has deployed code, given an optional chain handle for age
// lookup (nil disables the age lookup, yielding AgeBlocks=0) and an
// optional exploit registry (nil disables exploit matching).
func ExtractFromDeployedCode(ctx context.Context, code []byte, address common.Address, chain ChainHandle, registry *KnownExploitRegistry) Features {
	if len(code) == 0 {
		return Features{IsContract: false}
	}

	f := Features{
		Length:     len(code),
		IsContract: true,
	}

	proxyType := detectProxyType(code)
	f.IsProxy = proxyType != ""
	f.ProxyType = proxyType

	f.HasSelfDestruct = containsOpcode(code, byte(vm.SELFDESTRUCT))
	f.HasDelegateCall = containsOpcode(code, byte(vm.DELEGATECALL))
	f.HasCreate2 = containsOpcode(code, byte(vm.CREATE2))
	f.UniqueOpcodes = countUniqueOpcodes(code)

	if registry != nil {
		if registry.hashPrefixes[hashPrefix(code)] {
			f.MatchesExploit = true
		}
		f.JaccardSimilarity = bestJaccard(code, registry.samples)
	}

	if chain != nil {
		f.AgeBlocks = contractAge(ctx, address, chain)
	}

	return f
}

// ExtractFromCreationInput builds a record driven by the init-code payload
// of a contract-creation transaction, per §4.3's "when `to` is absent...
// the extractor is driven by the input payload instead."
func ExtractFromCreationInput(input []byte, registry *KnownExploitRegistry) Features {
	if len(input) == 0 {
		return Features{}
	}
	f := Features{
		Length:     len(input),
		IsContract: true,
	}
	f.HasSelfDestruct = containsOpcode(input, byte(vm.SELFDESTRUCT))
	f.HasDelegateCall = containsOpcode(input, byte(vm.DELEGATECALL))
	f.HasCreate2 = containsOpcode(input, byte(vm.CREATE2))
	f.UniqueOpcodes = countUniqueOpcodes(input)
	if registry != nil {
		if registry.hashPrefixes[hashPrefix(input)] {
			f.MatchesExploit = true
		}
		f.JaccardSimilarity = bestJaccard(input, registry.samples)
	}
	return f
}

// detectProxyType classifies known proxy patterns: EIP-1167 minimal-proxy
// clones are detected by their fixed runtime preamble; EIP-1967/1822/
// Transparent proxies are detected by the presence of their well-known
// implementation storage-slot hash as a literal byte sequence in the code;
// a short length combined with a DELEGATECALL is treated as a generic
// minimal proxy when none of the named patterns match.
func detectProxyType(code []byte) string {
	h := hex.EncodeToString(code)

	if len(h) >= len(eip1167CloneHexPrefix) && h[:len(eip1167CloneHexPrefix)] == eip1167CloneHexPrefix {
		return "eip1167_clone"
	}

	for slotHash, name := range proxyStorageSlotSignatures {
		if containsSubstring(h, slotHash) {
			return name
		}
	}

	if containsOpcode(code, byte(vm.DELEGATECALL)) && len(h) < minimalProxyMaxHexLen {
		return "minimal_proxy"
	}

	return ""
}

func containsSubstring(haystack, needle string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// containsOpcode scans the decoded instruction stream (PUSH-immediate
// aware) for a single-byte opcode value.
func containsOpcode(code []byte, op byte) bool {
	for i := 0; i < len(code); {
		b := code[i]
		if b == op {
			return true
		}
		i += 1 + pushImmediateLen(b)
	}
	return false
}

// pushImmediateLen returns the number of immediate bytes following a
// PUSH1..PUSH32 opcode (0x60-0x7f), or 0 for any other opcode.
func pushImmediateLen(op byte) int {
	if op >= 0x60 && op <= 0x7f {
		return int(op-0x5f)
	}
	return 0
}

// countUniqueOpcodes decodes the instruction stream respecting PUSH
// immediate lengths so immediate data is never miscounted as an opcode.
func countUniqueOpcodes(code []byte) int {
	seen := map[byte]bool{}
	for i := 0; i < len(code); {
		b := code[i]
		seen[b] = true
		i += 1 + pushImmediateLen(b)
	}
	return len(seen)
}

// chunkSize is the sliding-window width (in bytes) used for Jaccard
// similarity comparisons between bytecode samples.
const chunkSize = 4

// codeChunks returns the set of all chunkSize-byte windows of code,
// stepping one byte at a time.
func codeChunks(code []byte) map[string]bool {
	chunks := map[string]bool{}
	if len(code) < chunkSize {
		return chunks
	}
	for i := 0; i+chunkSize <= len(code); i++ {
		chunks[string(code[i:i+chunkSize])] = true
	}
	return chunks
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	union := map[string]bool{}
	for k := range a {
		union[k] = true
		if b[k] {
			intersection++
		}
	}
	for k := range b {
		union[k] = true
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

// bestJaccard returns the maximum Jaccard similarity of code against any
// sample in the known-bad registry.
func bestJaccard(code []byte, samples [][]byte) float64 {
	if len(samples) == 0 {
		return 0
	}
	a := codeChunks(code)
	best := 0.0
	for _, s := range samples {
		sim := jaccard(a, codeChunks(s))
		if sim > best {
			best = sim
		}
	}
	return best
}

// contractAge binary-searches for the earliest block at which GetCode
// returns non-empty code for address, and returns currentBlock minus that
// block. Any chain-handle failure degrades to age 0, per §7.
func contractAge(ctx context.Context, address common.Address, chain ChainHandle) uint64 {
	current, err := chain.CurrentBlock(ctx)
	if err != nil {
		return 0
	}

	lo, hi := uint64(0), current
	deployed := current

	for lo <= hi {
		mid := lo + (hi-lo)/2
		code, err := chain.GetCode(ctx, address, &mid)
		if err != nil {
			return 0
		}
		if len(code) > 0 {
			deployed = mid
			if mid == 0 {
				break
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}

	return current - deployed
}
