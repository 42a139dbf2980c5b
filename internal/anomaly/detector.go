package anomaly

// Detector is the capability set the rest of the pipeline depends on:
// "vector in, score in [0,1], top-k contributions out." Nothing outside
// this package may assume the scorer is an isolation forest specifically,
// per the Design Note in §4.7 — an alternative scorer family can satisfy
// this interface without the engine changing.
type Detector interface {
	Score(vector [VectorSize]float64) (Result, error)
	Threshold() float64
}

// Threshold returns the artifact's frozen detection threshold.
func (a *Artifact) Threshold() float64 {
	return a.DetectionThreshold
}
