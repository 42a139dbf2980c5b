package main

import (
	"context"
	"encoding/hex"
	"log"
	"os"
	"strings"

	"github.com/rawblock/sentinel-engine/internal/anomaly"
	"github.com/rawblock/sentinel-engine/internal/api"
	"github.com/rawblock/sentinel-engine/internal/chainhandle"
	"github.com/rawblock/sentinel-engine/internal/db"
	"github.com/rawblock/sentinel-engine/internal/features/aggregator"
	"github.com/rawblock/sentinel-engine/internal/features/bytecode"
	"github.com/rawblock/sentinel-engine/internal/ingest"
	"github.com/rawblock/sentinel-engine/internal/signal"
	"github.com/rawblock/sentinel-engine/internal/sink"
	"github.com/rawblock/sentinel-engine/internal/ws"
)

func main() {
	log.Println("starting sentinel risk analysis engine...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values.
	// ────────────────────────────────────────────────────────────────────

	dbURL := os.Getenv("DATABASE_URL")
	var dbConn *db.Store
	if dbURL == "" {
		log.Println("DATABASE_URL not set; continuing without persistence")
	} else {
		conn, err := db.Connect(context.Background(), dbURL)
		if err != nil {
			log.Printf("warning: failed to connect to PostgreSQL, continuing without persistence: %v", err)
		} else {
			dbConn = conn
			defer dbConn.Close()
			if err := dbConn.InitSchema(context.Background()); err != nil {
				log.Printf("warning: schema init failed: %v", err)
			}
		}
	}

	rpcURL := getEnvOrDefault("EVM_RPC_URL", "")
	var chain *chainhandle.Client
	if rpcURL != "" {
		c, err := chainhandle.NewClient(context.Background(), chainhandle.Config{RPCURL: rpcURL})
		if err != nil {
			log.Printf("warning: failed to connect to EVM RPC: %v", err)
		} else {
			chain = c
			defer chain.Close()
		}
	} else {
		log.Println("EVM_RPC_URL not set; bytecode age/proxy lookups will degrade to empty values")
	}

	wsHub := ws.NewHub()
	go wsHub.Run()

	var detector anomaly.Detector
	if modelPath := os.Getenv("ANOMALY_MODEL_PATH"); modelPath != "" {
		f, err := os.Open(modelPath)
		if err != nil {
			log.Printf("warning: failed to open anomaly model artifact at %s: %v", modelPath, err)
		} else {
			artifact, err := anomaly.LoadArtifact(f)
			f.Close()
			if err != nil {
				log.Printf("warning: failed to load anomaly model artifact: %v", err)
			} else {
				detector = artifact
				log.Println("loaded anomaly detection model artifact")
			}
		}
	} else {
		log.Println("ANOMALY_MODEL_PATH not set; running in heuristic-only mode")
	}

	registry := bytecode.NewKnownExploitRegistry(loadExploitSamples())

	cfg := signal.DefaultConfig()

	sinks := []sink.Sink{sink.NewConsoleSink(sink.LevelLow)}
	sinks = append(sinks, sink.NewStructuredWriterSink(sink.LevelSafe, wsHub))
	if webhookURL := os.Getenv("ALERT_WEBHOOK_URL"); webhookURL != "" {
		sinks = append(sinks, sink.NewWebhookSink(sink.LevelHigh, webhookURL))
	}

	var chainHandle aggregator.ChainHandle
	if chain != nil {
		chainHandle = chain
	}

	engine := signal.NewEngine(cfg, detector, chainHandle, registry, sinks)

	if chain != nil {
		poller := ingest.NewPoller(chain.RPC, engine)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go poller.Run(ctx)
	} else {
		log.Println("warning: EVM RPC unavailable — engine running in API-only mode (no live ingest)")
	}

	router := api.SetupRouter(engine, wsHub)

	port := getEnvOrDefault("PORT", "8080")
	log.Printf("engine listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// loadExploitSamples reads known-bad bytecode samples (one hex string per
// line, 0x-optional) from EXPLOIT_SAMPLES_PATH. Returns nil (exploit
// matching degrades to "no match") when unset.
func loadExploitSamples() [][]byte {
	path := os.Getenv("EXPLOIT_SAMPLES_PATH")
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("warning: failed to read exploit samples file %s: %v", path, err)
		return nil
	}

	var samples [][]byte
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "0x")
		line = strings.TrimPrefix(line, "0X")
		if line == "" {
			continue
		}
		decoded, err := hex.DecodeString(line)
		if err != nil {
			continue
		}
		samples = append(samples, decoded)
	}
	return samples
}
