// Package signal implements the signal engine (C10): orchestrating
// feature extraction, heuristic filtering, anomaly detection, and
// protocol-aware adjustment into one finished risk signal, and fanning
// that signal out to registered alert sinks.
package signal

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rawblock/sentinel-engine/internal/anomaly"
	"github.com/rawblock/sentinel-engine/internal/features/aggregator"
	"github.com/rawblock/sentinel-engine/internal/features/bytecode"
	"github.com/rawblock/sentinel-engine/internal/filter"
	"github.com/rawblock/sentinel-engine/internal/protocol"
	"github.com/rawblock/sentinel-engine/internal/sink"
	"github.com/rawblock/sentinel-engine/internal/trace"
)

// Level is the final, five-way risk classification.
type Level int

const (
	LevelSafe Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "safe"
	}
}

func (l Level) toSinkLevel() sink.Level {
	return sink.Level(l)
}

// recommendedActions is the fixed advisory string per level.
var recommendedActions = map[Level]string{
	LevelSafe:     "no action required",
	LevelLow:      "log for visibility",
	LevelMedium:   "flag for manual review",
	LevelHigh:     "alert on-call and hold for review",
	LevelCritical: "block and escalate immediately",
}

// Signal is the finished, structured verdict for one analyzed
// transaction.
type Signal struct {
	TxHash              string
	Timestamp           time.Time
	RiskLevel           Level
	RiskScore           float64 // adjusted
	RawRiskScore        float64
	Confidence          float64
	AnomalyScore        float64
	AnomalyConfidence   float64
	HeuristicVerdict    string
	HeuristicConfidence float64
	Protocol            string
	Operation           string
	RiskAdjustment      float64
	Indicators          []string
	HasFlashLoan        bool
	FlashLoanAmountEth  float64
	UniqueContracts     int
	TransferCount       int
	MaxValueDeltaEth    float64
	CallDepth           int
	Explanation         string
	RecommendedAction   string
	LatencyMS           float64
	ModelVersion        string
	ShouldAlert         bool
}

// ToDict renders the canonical signal dictionary defined by the external
// signal-serialization contract.
func (s Signal) ToDict() map[string]any {
	return map[string]any{
		"tx_hash":         s.TxHash,
		"timestamp":       s.Timestamp.UTC().Format(time.RFC3339),
		"risk_level":      s.RiskLevel.String(),
		"risk_score":      roundTo4(s.RiskScore),
		"raw_risk_score":  roundTo4(s.RawRiskScore),
		"confidence":      roundTo4(s.Confidence),
		"ml": map[string]any{
			"score":      roundTo4(s.AnomalyScore),
			"confidence": roundTo4(s.AnomalyConfidence),
		},
		"heuristic": map[string]any{
			"result":     s.HeuristicVerdict,
			"confidence": roundTo4(s.HeuristicConfidence),
		},
		"protocol": map[string]any{
			"name":             s.Protocol,
			"operation":        s.Operation,
			"risk_adjustment":  roundTo4(s.RiskAdjustment),
		},
		"risk_indicators": s.Indicators,
		"features": map[string]any{
			"has_flash_loan":         s.HasFlashLoan,
			"flash_loan_amount_eth":  roundTo4(s.FlashLoanAmountEth),
			"unique_contracts":       s.UniqueContracts,
			"transfer_count":         s.TransferCount,
			"max_value_delta_eth":    roundTo4(s.MaxValueDeltaEth),
			"call_depth":             s.CallDepth,
		},
		"recommended_action": s.RecommendedAction,
		"explanation":        s.Explanation,
		"latency_ms":         roundTo4(s.LatencyMS),
		"model_version":      s.ModelVersion,
	}
}

func roundTo4(v float64) float64 {
	return float64(int64(v*10000+sign(v)*0.5)) / 10000
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// Config holds the engine's tunable parameters, per §6's enumerated
// configuration section.
type Config struct {
	AnomalyThreshold           float64
	MinAlertLevel              Level
	EnableProtocolFilter       bool
	EnableBoundsCheck          bool
	SimulationTimeout          time.Duration
	BytecodeSimilarityThreshold float64
	RecentAlertsRingSize       int
	ModelVersion               string
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		AnomalyThreshold:            0.65,
		MinAlertLevel:               LevelMedium,
		EnableProtocolFilter:        true,
		EnableBoundsCheck:           true,
		SimulationTimeout:           200 * time.Millisecond,
		BytecodeSimilarityThreshold: 0.9,
		RecentAlertsRingSize:        100,
		ModelVersion:                "v1",
	}
}

// Counters are the engine's monotonic operational counters.
type Counters struct {
	TotalAnalyzed   atomic.Int64
	SafeCount       atomic.Int64
	LowCount        atomic.Int64
	MediumCount     atomic.Int64
	HighCount       atomic.Int64
	CriticalCount   atomic.Int64
	LatencySumMS    atomic.Uint64 // fixed-point, hundredths of a millisecond
}

func (c *Counters) record(level Level, latency time.Duration) {
	c.TotalAnalyzed.Add(1)
	switch level {
	case LevelSafe:
		c.SafeCount.Add(1)
	case LevelLow:
		c.LowCount.Add(1)
	case LevelMedium:
		c.MediumCount.Add(1)
	case LevelHigh:
		c.HighCount.Add(1)
	case LevelCritical:
		c.CriticalCount.Add(1)
	}
	c.LatencySumMS.Add(uint64(latency.Seconds() * 1000 * 100))
}

// AverageLatencyMS returns the mean latency across every recorded
// analysis, or 0 if none have run yet.
func (c *Counters) AverageLatencyMS() float64 {
	total := c.TotalAnalyzed.Load()
	if total == 0 {
		return 0
	}
	return float64(c.LatencySumMS.Load()) / 100 / float64(total)
}

// Engine is the C10 orchestrator: C6 -> C7 -> C8 -> C9, strictly
// sequential, fused into one signal and fanned out to every registered
// sink.
type Engine struct {
	cfg      Config
	detector anomaly.Detector
	chain    aggregator.ChainHandle
	registry *bytecode.KnownExploitRegistry
	sinks    []sink.Sink

	ringMu sync.Mutex
	ring   []Signal

	counters Counters
}

// NewEngine constructs the engine. detector may be nil (heuristic-only
// operation); chain and registry may be nil (bytecode record degrades).
func NewEngine(cfg Config, detector anomaly.Detector, chain aggregator.ChainHandle, registry *bytecode.KnownExploitRegistry, sinks []sink.Sink) *Engine {
	return &Engine{
		cfg:      cfg,
		detector: detector,
		chain:    chain,
		registry: registry,
		sinks:    sinks,
	}
}

// RegisterSink adds a sink at runtime; sinks may be added but never
// removed during operation, per §5's shared-resource policy.
func (e *Engine) RegisterSink(s sink.Sink) {
	e.sinks = append(e.sinks, s)
}

// Counters exposes the engine's running operational counters.
func (e *Engine) Counters() *Counters {
	return &e.counters
}

// RecentSignals returns a snapshot of the bounded recent-alerts ring,
// most-recent last.
func (e *Engine) RecentSignals() []Signal {
	e.ringMu.Lock()
	defer e.ringMu.Unlock()
	out := make([]Signal, len(e.ring))
	copy(out, e.ring)
	return out
}

func (e *Engine) pushRing(s Signal) {
	e.ringMu.Lock()
	defer e.ringMu.Unlock()
	e.ring = append(e.ring, s)
	if len(e.ring) > e.cfg.RecentAlertsRingSize {
		e.ring = e.ring[len(e.ring)-e.cfg.RecentAlertsRingSize:]
	}
}

// AnalyzePending runs the full pipeline against a pending (pre-execution)
// transaction.
func (e *Engine) AnalyzePending(ctx context.Context, p *trace.PendingTransaction) Signal {
	start := time.Now()

	if p.IsSimpleTransfer() {
		sig := e.degradedSignal(p.Hash.Hex(), start, LevelSafe, nil)
		sig.HeuristicVerdict = "safe"
		sig.HeuristicConfidence = 0.99
		e.finish(ctx, sig, start)
		return sig
	}

	if deadline, ok := ctx.Deadline(); ok && time.Now().After(deadline) {
		sig := e.timeoutSignal(p.Hash.Hex(), start, "analysis_timeout")
		e.finish(ctx, sig, start)
		return sig
	}

	rec := aggregator.FromPending(p, e.registry)
	heuristic := filter.EvaluatePending(p)

	toAddr := ""
	if p.To != nil {
		toAddr = p.To.Hex()
	}
	selectorHex := ""
	if sel := p.Selector(); sel != nil {
		selectorHex = hexOf(sel)
	}

	sig := e.score(ctx, p.Hash.Hex(), start, rec, heuristic, toAddr, selectorHex, 0)
	e.finish(ctx, sig, start)
	return sig
}

// AnalyzeTrace runs the full pipeline against an already-executed trace.
func (e *Engine) AnalyzeTrace(ctx context.Context, t *trace.ExecutedTrace) Signal {
	start := time.Now()

	if deadline, ok := ctx.Deadline(); ok && time.Now().After(deadline) {
		sig := e.timeoutSignal(t.TxHash.Hex(), start, "simulation_timeout")
		e.finish(ctx, sig, start)
		return sig
	}

	rec := aggregator.FromTrace(ctx, t, e.chain, e.registry)
	heuristic := filter.EvaluateRecord(rec)

	toAddr := ""
	if t.To != nil {
		toAddr = t.To.Hex()
	}
	selectorHex := ""
	if sel := t.Selector(); sel != nil {
		selectorHex = hexOf(sel)
	}

	sig := e.score(ctx, t.TxHash.Hex(), start, rec, heuristic, toAddr, selectorHex, t.GasUsed)
	e.finish(ctx, sig, start)
	return sig
}

func hexOf(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 2+len(b)*2)
	out[0], out[1] = '0', 'x'
	for i, c := range b {
		out[2+i*2] = hexdigits[c>>4]
		out[2+i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}

// score runs C8 + C9 + fusion against an already-built feature record and
// heuristic result, shared by both entry points.
func (e *Engine) score(ctx context.Context, txHash string, start time.Time, rec aggregator.Record, heuristic filter.Result, toAddr, selectorHex string, gasUsed uint64) Signal {
	var anomalyResult anomaly.Result
	detectorPresent := e.detector != nil
	if detectorPresent {
		var err error
		anomalyResult, err = e.detector.Score(rec.ToVector())
		if err != nil {
			detectorPresent = false
		}
	}

	indicatorCount := len(heuristic.Indicators)
	if indicatorCount > 10 {
		indicatorCount = 10
	}

	var rawScore, rawConfidence float64
	if detectorPresent {
		rawScore = 0.4*(float64(indicatorCount)/10.0) + 0.6*anomalyResult.AnomalyScore
		rawConfidence = 0.4*heuristic.Confidence + 0.6*anomalyResult.Confidence
	} else {
		rawScore = float64(indicatorCount) / 10.0
		rawConfidence = heuristic.Confidence
	}

	var protoCtx protocol.Context
	if e.cfg.EnableProtocolFilter {
		protoCtx = protocol.GetContext(rec, toAddr, selectorHex, gasUsed, e.cfg.EnableBoundsCheck)
	}

	adjustedScore := clip(rawScore+protoCtx.RiskAdjustment*rawScore, 0, 1)
	finalLevel := levelFromScore(adjustedScore)

	indicators := composeIndicators(heuristic, detectorPresent, anomalyResult, protoCtx, rec)

	explanation := composeExplanation(heuristic, detectorPresent, anomalyResult, protoCtx, indicators)

	latency := time.Since(start)

	flashLoanEth := 0.0
	if rec.FlashLoan.TotalBorrowed != nil {
		v := rec.FlashLoan.ToVector()
		flashLoanEth = v[3]
	}

	return Signal{
		TxHash:              txHash,
		Timestamp:           time.Now(),
		RiskLevel:           finalLevel,
		RiskScore:           adjustedScore,
		RawRiskScore:        rawScore,
		Confidence:          rawConfidence,
		AnomalyScore:        anomalyResult.AnomalyScore,
		AnomalyConfidence:   anomalyResult.Confidence,
		HeuristicVerdict:    heuristicVerdictLabel(heuristic),
		HeuristicConfidence: heuristic.Confidence,
		Protocol:            string(protoCtx.Protocol),
		Operation:           string(protoCtx.Operation),
		RiskAdjustment:      protoCtx.RiskAdjustment,
		Indicators:          indicators,
		HasFlashLoan:        rec.FlashLoan.HasFlashLoan,
		FlashLoanAmountEth:  flashLoanEth,
		UniqueContracts:     rec.StateVariance.UniqueContracts,
		TransferCount:       rec.StateVariance.TotalChanges,
		MaxValueDeltaEth:    nativeUnits(rec.StateVariance.MaxDelta),
		CallDepth:           rec.CallGraph.MaxDepth,
		Explanation:         explanation,
		RecommendedAction:   recommendedActions[finalLevel],
		LatencyMS:           float64(latency.Microseconds()) / 1000.0,
		ModelVersion:        e.cfg.ModelVersion,
		ShouldAlert:         finalLevel >= e.cfg.MinAlertLevel,
	}
}

func heuristicVerdictLabel(r filter.Result) string {
	return string(r.Verdict)
}

// levelFromScore implements the monotone adjusted-score cascade. The
// final risk level is derived from the adjusted score alone — no other
// stage may float it higher (§8: "no input combination may yield a
// level outside the score→level table").
func levelFromScore(score float64) Level {
	switch {
	case score >= 0.70:
		return LevelCritical
	case score >= 0.50:
		return LevelHigh
	case score >= 0.35:
		return LevelMedium
	case score >= 0.20:
		return LevelLow
	default:
		return LevelSafe
	}
}

// composeIndicators builds the deduplicated, insertion-ordered indicator
// list: heuristic indicators first, then detector- and protocol-derived
// indicators, in the fixed order their producing checks run.
func composeIndicators(h filter.Result, detectorPresent bool, a anomaly.Result, p protocol.Context, rec aggregator.Record) []string {
	seen := map[string]bool{}
	var out []string
	add := func(tag string) {
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}

	for _, tag := range h.Indicators {
		add(tag)
	}

	if detectorPresent && a.IsAnomaly {
		add("anomaly_detected")
	}

	if p.IsKnownProtocol && p.IsKnownOperation {
		add("known_protocol_operation")
	}
	if !p.WithinBounds {
		for _, v := range p.BoundViolations {
			add(v)
		}
	}
	if rec.FlashLoan.HasFlashLoan && p.RiskAdjustment > 0 {
		add("unexpected_flash_loan")
	}

	return out
}

// composeExplanation concatenates a deterministic set of human-readable
// clauses matching the indicators actually triggered.
func composeExplanation(h filter.Result, detectorPresent bool, a anomaly.Result, p protocol.Context, indicators []string) string {
	var clauses []string

	if h.Flagged {
		clauses = append(clauses, fmt.Sprintf("heuristic filter raised %d indicator(s)", len(h.Indicators)))
	} else {
		clauses = append(clauses, "heuristic filter raised no indicators")
	}

	if detectorPresent {
		if a.IsAnomaly {
			clauses = append(clauses, fmt.Sprintf("anomaly detector scored %.2f, above threshold", a.AnomalyScore))
		} else {
			clauses = append(clauses, fmt.Sprintf("anomaly detector scored %.2f, within normal range", a.AnomalyScore))
		}
	}

	if p.IsKnownProtocol {
		clauses = append(clauses, fmt.Sprintf("matched protocol %s", p.Protocol))
	}
	if p.IsKnownOperation {
		clauses = append(clauses, fmt.Sprintf("matched operation %s", p.Operation))
	}
	if !p.WithinBounds {
		clauses = append(clauses, "operation exceeded normal bounds")
	}

	return joinSentences(clauses)
}

func joinSentences(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += "; "
		}
		out += c
	}
	return out
}

func (e *Engine) degradedSignal(txHash string, start time.Time, level Level, indicators []string) Signal {
	return Signal{
		TxHash:            txHash,
		Timestamp:         time.Now(),
		RiskLevel:         level,
		RiskScore:         0,
		RawRiskScore:      0,
		Indicators:        indicators,
		RecommendedAction: recommendedActions[level],
		LatencyMS:         float64(time.Since(start).Microseconds()) / 1000.0,
		ModelVersion:      e.cfg.ModelVersion,
		ShouldAlert:       false,
	}
}

func (e *Engine) timeoutSignal(txHash string, start time.Time, indicator string) Signal {
	sig := e.degradedSignal(txHash, start, LevelLow, []string{indicator})
	sig.HeuristicVerdict = "unknown"
	return sig
}

func nativeUnits(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	fv := new(big.Float).SetInt(v)
	fv.Quo(fv, big.NewFloat(1e18))
	out, _ := fv.Float64()
	return out
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

// finish records counters, pushes the signal onto the recent-alerts ring,
// and fans out to every registered sink whose min-level threshold is
// satisfied. Sink panics and errors never propagate.
func (e *Engine) finish(ctx context.Context, sig Signal, start time.Time) {
	e.counters.record(sig.RiskLevel, time.Since(start))
	e.pushRing(sig)

	dict := sig.ToDict()
	sinkSignal := sink.Signal{Level: sig.RiskLevel.toSinkLevel(), Dict: dict}

	for _, s := range e.sinks {
		if sinkSignal.Level < s.MinLevel() {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Printf("sink panicked: %v\n", r)
				}
			}()
			s.Handle(ctx, sinkSignal)
		}()
	}
}
