package anomaly

import (
	"bytes"
	"math/rand"
	"testing"
)

func sampleRows(n int, rnd *rand.Rand) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, VectorSize)
		for j := range row {
			row[j] = rnd.Float64()
		}
		rows[i] = row
	}
	return rows
}

func TestNewArtifact_RejectsEmptyInput(t *testing.T) {
	_, _, err := NewArtifact(nil, 0.1, 10, 50, 0.6, 1)
	if err == nil {
		t.Fatal("expected an error when no training rows are provided")
	}
}

func TestNewArtifact_RejectsWrongDimension(t *testing.T) {
	_, _, err := NewArtifact([][]float64{{1, 2, 3}}, 0.1, 10, 50, 0.6, 1)
	if err == nil {
		t.Fatal("expected an error for rows that don't match VectorSize")
	}
}

func TestNewArtifact_FitsAndScores(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	rows := sampleRows(200, rnd)

	artifact, metrics, err := NewArtifact(rows, 0.1, 50, 64, 0.6, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metrics.NumSamples != 200 || metrics.NumFeatures != VectorSize {
		t.Errorf("unexpected metrics: %+v", metrics)
	}

	var x [VectorSize]float64
	copy(x[:], rows[0])
	result, err := artifact.Score(x)
	if err != nil {
		t.Fatalf("unexpected scoring error: %v", err)
	}
	if result.AnomalyScore < 0 || result.AnomalyScore > 1 {
		t.Errorf("expected anomaly score in [0,1], got %f", result.AnomalyScore)
	}
	if result.Confidence < 0.5 || result.Confidence > 1 {
		t.Errorf("expected confidence in [0.5,1], got %f", result.Confidence)
	}
	if len(result.Contributions) > 10 {
		t.Errorf("expected at most 10 contributions, got %d", len(result.Contributions))
	}
}

func TestScore_DeterministicForSameSeed(t *testing.T) {
	rows := sampleRows(100, rand.New(rand.NewSource(1)))
	a1, _, _ := NewArtifact(rows, 0.1, 20, 32, 0.6, 99)
	a2, _, _ := NewArtifact(rows, 0.1, 20, 32, 0.6, 99)

	var x [VectorSize]float64
	copy(x[:], rows[5])

	r1, _ := a1.Score(x)
	r2, _ := a2.Score(x)
	if r1.AnomalyScore != r2.AnomalyScore {
		t.Errorf("expected identical seeds to produce identical scores: %f vs %f", r1.AnomalyScore, r2.AnomalyScore)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	rows := sampleRows(100, rand.New(rand.NewSource(3)))
	artifact, _, err := NewArtifact(rows, 0.1, 20, 32, 0.55, 11)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buf bytes.Buffer
	if err := artifact.Save(&buf); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadArtifact(&buf)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	var x [VectorSize]float64
	copy(x[:], rows[0])
	want, _ := artifact.Score(x)
	got, _ := loaded.Score(x)
	if want.AnomalyScore != got.AnomalyScore {
		t.Errorf("expected round-tripped artifact to score identically: %f vs %f", want.AnomalyScore, got.AnomalyScore)
	}
	if loaded.Threshold() != artifact.DetectionThreshold {
		t.Errorf("expected Threshold() to reflect DetectionThreshold after load")
	}
}

func TestLoadArtifact_RejectsDimensionMismatch(t *testing.T) {
	var buf bytes.Buffer
	bad := Artifact{Scaler: Scaler{Mean: []float64{1, 2}, Std: []float64{1, 2}}}
	if err := bad.Save(&buf); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := LoadArtifact(&buf); err == nil {
		t.Fatal("expected dimension mismatch to be rejected on load")
	}
}

func TestAveragePathLength_BaseCases(t *testing.T) {
	if averagePathLength(0) != 0 {
		t.Errorf("expected c(0) = 0")
	}
	if averagePathLength(1) != 0 {
		t.Errorf("expected c(1) = 0")
	}
	if averagePathLength(2) != 1 {
		t.Errorf("expected c(2) = 1")
	}
}

func TestClip(t *testing.T) {
	if clip(-1, 0, 1) != 0 {
		t.Error("expected clip to floor at lo")
	}
	if clip(2, 0, 1) != 1 {
		t.Error("expected clip to ceiling at hi")
	}
	if clip(0.5, 0, 1) != 0.5 {
		t.Error("expected clip to pass through in-range values")
	}
}
