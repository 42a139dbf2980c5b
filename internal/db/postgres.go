// Package db persists analyzed signals, raised alerts, and detector
// training metrics to PostgreSQL, adapted from the teacher's postgres
// store the same way: a pgxpool.Pool wrapped in a thin store type with
// one method per persistence operation.
package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	log.Println("successfully connected to PostgreSQL for the anomaly engine")
	return &Store{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS analysis_records (
	id               UUID PRIMARY KEY,
	tx_hash          TEXT NOT NULL,
	analyzed_at      TIMESTAMPTZ NOT NULL,
	risk_level       TEXT NOT NULL,
	risk_score       DOUBLE PRECISION NOT NULL,
	raw_risk_score   DOUBLE PRECISION NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL,
	protocol_name    TEXT NOT NULL,
	operation_name   TEXT NOT NULL,
	risk_indicators  TEXT[] NOT NULL,
	signal_dict      JSONB NOT NULL,
	latency_ms       DOUBLE PRECISION NOT NULL,
	model_version    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_records_tx_hash ON analysis_records (tx_hash);
CREATE INDEX IF NOT EXISTS idx_analysis_records_risk_level ON analysis_records (risk_level);
CREATE INDEX IF NOT EXISTS idx_analysis_records_analyzed_at ON analysis_records (analyzed_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
	id               UUID PRIMARY KEY,
	tx_hash          TEXT NOT NULL,
	raised_at        TIMESTAMPTZ NOT NULL,
	risk_level       TEXT NOT NULL,
	sink_name        TEXT NOT NULL,
	delivered        BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS model_metrics (
	id               UUID PRIMARY KEY,
	trained_at       TIMESTAMPTZ NOT NULL,
	model_version    TEXT NOT NULL,
	num_trees        INT NOT NULL,
	sample_size      INT NOT NULL,
	contamination    DOUBLE PRECISION NOT NULL,
	num_training_rows INT NOT NULL
);
`

// InitSchema creates the persistence tables if they do not already exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	log.Println("anomaly engine schema initialized")
	return nil
}

// AnalysisRecord is the persisted form of one finished signal.
type AnalysisRecord struct {
	TxHash         string
	AnalyzedAt     time.Time
	RiskLevel      string
	RiskScore      float64
	RawRiskScore   float64
	Confidence     float64
	ProtocolName   string
	OperationName  string
	RiskIndicators []string
	SignalDict     []byte // pre-marshaled JSON
	LatencyMS      float64
	ModelVersion   string
}

// SaveAnalysisRecord persists one completed analysis.
func (s *Store) SaveAnalysisRecord(ctx context.Context, rec AnalysisRecord) error {
	sql := `
		INSERT INTO analysis_records
			(id, tx_hash, analyzed_at, risk_level, risk_score, raw_risk_score,
			 confidence, protocol_name, operation_name, risk_indicators,
			 signal_dict, latency_ms, model_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.pool.Exec(ctx, sql,
		uuid.New(), rec.TxHash, rec.AnalyzedAt, rec.RiskLevel, rec.RiskScore,
		rec.RawRiskScore, rec.Confidence, rec.ProtocolName, rec.OperationName,
		rec.RiskIndicators, rec.SignalDict, rec.LatencyMS, rec.ModelVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis_records: %w", err)
	}
	return nil
}

// Alert is the persisted form of one sink delivery attempt.
type Alert struct {
	TxHash    string
	RaisedAt  time.Time
	RiskLevel string
	SinkName  string
	Delivered bool
}

// SaveAlert persists one alert delivery outcome.
func (s *Store) SaveAlert(ctx context.Context, a Alert) error {
	sql := `
		INSERT INTO alerts (id, tx_hash, raised_at, risk_level, sink_name, delivered)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.Exec(ctx, sql, uuid.New(), a.TxHash, a.RaisedAt, a.RiskLevel, a.SinkName, a.Delivered)
	if err != nil {
		return fmt.Errorf("failed to insert alerts: %w", err)
	}
	return nil
}

// ModelMetrics is the persisted form of one training run's summary.
type ModelMetrics struct {
	TrainedAt       time.Time
	ModelVersion    string
	NumTrees        int
	SampleSize      int
	Contamination   float64
	NumTrainingRows int
}

// SaveModelMetrics persists one training run's summary statistics.
func (s *Store) SaveModelMetrics(ctx context.Context, m ModelMetrics) error {
	sql := `
		INSERT INTO model_metrics
			(id, trained_at, model_version, num_trees, sample_size, contamination, num_training_rows)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.pool.Exec(ctx, sql, uuid.New(), m.TrainedAt, m.ModelVersion, m.NumTrees, m.SampleSize, m.Contamination, m.NumTrainingRows)
	if err != nil {
		return fmt.Errorf("failed to insert model_metrics: %w", err)
	}
	return nil
}

// RecentAlerts returns the most recently raised alerts, newest first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT tx_hash, raised_at, risk_level, sink_name, delivered
		FROM alerts ORDER BY raised_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.TxHash, &a.RaisedAt, &a.RiskLevel, &a.SinkName, &a.Delivered); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
