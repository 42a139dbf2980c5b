// Package anomaly implements the anomaly detector (C8): a self-contained
// isolation-forest scorer over the fixed 43-dimensional feature vector,
// matching the published score/confidence/contribution formulas of the
// reference model this engine was distilled from.
package anomaly

import (
	"encoding/gob"
	"errors"
	"io"
	"math"
	"math/rand"
	"sort"
)

// VectorSize is the fixed feature-vector dimension the detector expects.
// A vector of any other length is an input-malformed condition at the
// detector boundary.
const VectorSize = 43

// isolationTree is one randomized binary partition tree. A leaf has
// Left == Right == nil; Size records how many training samples reached it
// (used by the path-length correction term).
type isolationTree struct {
	Feature   int
	Threshold float64
	Left      *isolationTree
	Right     *isolationTree
	Size      int
}

func (t *isolationTree) isLeaf() bool {
	return t.Left == nil && t.Right == nil
}

// pathLength walks x down the tree and returns the number of internal
// nodes crossed plus the average-path-length correction for whatever
// sample count remains at the leaf reached.
func (t *isolationTree) pathLength(x []float64, depth int) float64 {
	if t.isLeaf() {
		return float64(depth) + averagePathLength(t.Size)
	}
	if x[t.Feature] < t.Threshold {
		return t.Left.pathLength(x, depth+1)
	}
	return t.Right.pathLength(x, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search over n points — the standard isolation-forest normalization
// term. c(1) = 0, c(2) = 1; for n > 2 it uses the harmonic-number form.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	h := math.Log(float64(n-1)) + euler
	return 2*h - 2*float64(n-1)/float64(n)
}

// euler is the Euler-Mascheroni constant used in the harmonic-number
// approximation H(i) ≈ ln(i) + euler.
const euler = 0.5772156649015329

// buildTree recursively partitions rows (each a VectorSize-length vector)
// by a uniformly random feature and a uniformly random split value within
// that feature's observed range, stopping at maxDepth or a single sample.
func buildTree(rows [][]float64, depth, maxDepth int, rnd *rand.Rand) *isolationTree {
	if depth >= maxDepth || len(rows) <= 1 {
		return &isolationTree{Size: len(rows)}
	}

	numFeatures := len(rows[0])
	feature := rnd.Intn(numFeatures)

	lo, hi := rows[0][feature], rows[0][feature]
	for _, r := range rows {
		if r[feature] < lo {
			lo = r[feature]
		}
		if r[feature] > hi {
			hi = r[feature]
		}
	}
	if lo == hi {
		return &isolationTree{Size: len(rows)}
	}

	threshold := lo + rnd.Float64()*(hi-lo)

	var left, right [][]float64
	for _, r := range rows {
		if r[feature] < threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isolationTree{Size: len(rows)}
	}

	return &isolationTree{
		Feature:   feature,
		Threshold: threshold,
		Left:      buildTree(left, depth+1, maxDepth, rnd),
		Right:     buildTree(right, depth+1, maxDepth, rnd),
		Size:      len(rows),
	}
}

// Scaler is a per-feature standardization (mean, stddev) applied to a raw
// vector before it reaches the forest.
type Scaler struct {
	Mean []float64
	Std  []float64
}

func (s Scaler) transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		std := s.Std[i]
		if std == 0 {
			out[i] = 0
			continue
		}
		out[i] = (v - s.Mean[i]) / std
	}
	return out
}

// Artifact is the frozen, read-only scoring artifact: the fitted forest,
// its standardization, the feature-name ordering, the detection threshold,
// and the training contamination parameter. It exposes no mutating
// method, per §5's shared-resource policy.
type Artifact struct {
	Trees              []*isolationTree
	SampleSize         int
	Scaler             Scaler
	FeatureNames       [VectorSize]string
	DetectionThreshold float64
	Contamination      float64
}

// DefaultFeatureNames is the canonical name for each position of the
// 43-dimensional feature vector, in the fixed order mandated by the
// external feature-vector contract.
var DefaultFeatureNames = [VectorSize]string{
	"has_flash_loan", "flash_loan_count", "flash_loan_provider_count", "flash_loan_total_borrowed",
	"flash_loan_has_callback", "flash_loan_callback_count", "flash_loan_nested", "flash_loan_repayment",
	"state_total_changes", "state_unique_contracts", "state_unique_slots", "state_balance_changes",
	"state_large_changes", "state_max_delta", "state_avg_delta", "state_variance_ratio",
	"state_zero_to_nonzero", "state_nonzero_to_zero",
	"bytecode_length", "bytecode_is_contract", "bytecode_is_proxy", "bytecode_age_blocks",
	"bytecode_is_verified", "bytecode_matches_exploit", "bytecode_jaccard", "bytecode_has_selfdestruct",
	"bytecode_has_delegatecall", "bytecode_has_create2", "bytecode_unique_opcodes",
	"call_total_calls", "call_depth", "call_delegatecall", "call_staticcall", "call_create",
	"call_create2", "call_selfdestruct", "call_call", "call_internal_calls", "call_external_calls",
	"call_unique_call_types", "call_value_transfers", "call_gas_ratio", "call_revert_count",
}

// TrainingMetrics summarizes a completed fit, for operational logging.
type TrainingMetrics struct {
	NumSamples    int
	NumFeatures   int
	Contamination float64
}

// NewArtifact fits a fresh isolation forest and standardization over
// rows (each a VectorSize-length raw feature vector), using numTrees
// trees each built over a random subsample of size sampleSize. seed fixes
// the randomness so repeated training runs against the same data are
// reproducible.
func NewArtifact(rows [][]float64, contamination float64, numTrees, sampleSize int, threshold float64, seed int64) (*Artifact, TrainingMetrics, error) {
	if len(rows) == 0 {
		return nil, TrainingMetrics{}, errors.New("anomaly: no training rows provided")
	}
	if len(rows[0]) != VectorSize {
		return nil, TrainingMetrics{}, errors.New("anomaly: training rows must have VectorSize columns")
	}

	scaler := fitScaler(rows)
	scaledRows := make([][]float64, len(rows))
	for i, r := range rows {
		scaledRows[i] = scaler.transform(r)
	}

	if sampleSize <= 0 || sampleSize > len(scaledRows) {
		sampleSize = len(scaledRows)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))
	if maxDepth < 1 {
		maxDepth = 1
	}

	rnd := rand.New(rand.NewSource(seed))
	trees := make([]*isolationTree, numTrees)
	for i := 0; i < numTrees; i++ {
		sample := subsample(scaledRows, sampleSize, rnd)
		trees[i] = buildTree(sample, 0, maxDepth, rnd)
	}

	artifact := &Artifact{
		Trees:              trees,
		SampleSize:         sampleSize,
		Scaler:             scaler,
		FeatureNames:       DefaultFeatureNames,
		DetectionThreshold: threshold,
		Contamination:      contamination,
	}

	metrics := TrainingMetrics{
		NumSamples:    len(rows),
		NumFeatures:   VectorSize,
		Contamination: contamination,
	}

	return artifact, metrics, nil
}

func fitScaler(rows [][]float64) Scaler {
	n := len(rows)
	cols := len(rows[0])
	mean := make([]float64, cols)
	for _, r := range rows {
		for j, v := range r {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	std := make([]float64, cols)
	for _, r := range rows {
		for j, v := range r {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / float64(n))
	}

	return Scaler{Mean: mean, Std: std}
}

func subsample(rows [][]float64, size int, rnd *rand.Rand) [][]float64 {
	if size >= len(rows) {
		out := make([][]float64, len(rows))
		copy(out, rows)
		return out
	}
	idx := rnd.Perm(len(rows))[:size]
	out := make([][]float64, size)
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}

// decisionFunction returns d(x): the average tree path length of x,
// normalized against the expected path length for SampleSize points and
// recentered at zero, so a short (isolating) path yields a negative
// value — i.e. smaller means more anomalous, matching the documented
// contract of the underlying scorer.
func (a *Artifact) decisionFunction(x []float64) float64 {
	total := 0.0
	for _, t := range a.Trees {
		total += t.pathLength(x, 0)
	}
	avgPath := total / float64(len(a.Trees))
	c := averagePathLength(a.SampleSize)
	if c == 0 {
		return 0
	}
	return avgPath/c - 1
}

// FeatureContribution is one named feature's normalized contribution to
// an anomaly score.
type FeatureContribution struct {
	Name  string
	Value float64
}

// Result is the full C8 output for one scored vector.
type Result struct {
	AnomalyScore  float64
	IsAnomaly     bool
	Confidence    float64
	Contributions []FeatureContribution
}

// Score runs the full published pipeline: standardize, evaluate d(x),
// publish score = clip(0.5 - d(x)/2, 0, 1), confidence =
// min(0.5 + |score-threshold|, 1), and the top-10 z-score contributions
// normalized to sum to 1. The length of x is fixed by its array type; the
// returned error is always nil.
func (a *Artifact) Score(x [VectorSize]float64) (Result, error) {
	scaled := a.Scaler.transform(x[:])

	d := a.decisionFunction(scaled)
	score := clip(0.5-d/2, 0, 1)
	isAnomaly := score >= a.DetectionThreshold
	confidence := math.Min(0.5+math.Abs(score-a.DetectionThreshold), 1.0)

	contributions := contributionsFor(a.FeatureNames, scaled)

	return Result{
		AnomalyScore:  score,
		IsAnomaly:     isAnomaly,
		Confidence:    confidence,
		Contributions: contributions,
	}, nil
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func contributionsFor(names [VectorSize]string, scaled []float64) []FeatureContribution {
	all := make([]FeatureContribution, len(scaled))
	total := 0.0
	for i, v := range scaled {
		z := math.Abs(v)
		all[i] = FeatureContribution{Name: names[i], Value: z}
		total += z
	}
	if total > 0 {
		for i := range all {
			all[i].Value /= total
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Value > all[j].Value
	})
	if len(all) > 10 {
		all = all[:10]
	}
	return all
}

// Save serializes the artifact via gob. Round-tripping through Save/Load
// must yield bit-identical Score results for identical inputs, per §4.7.
func (a *Artifact) Save(w io.Writer) error {
	return gob.NewEncoder(w).Encode(a)
}

// LoadArtifact deserializes an artifact written by Save, and validates
// that it matches the expected feature dimension.
func LoadArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := gob.NewDecoder(r).Decode(&a); err != nil {
		return nil, err
	}
	if len(a.Scaler.Mean) != VectorSize || len(a.Scaler.Std) != VectorSize {
		return nil, errors.New("anomaly: artifact dimension mismatch")
	}
	return &a, nil
}
