/**
 * GlyphForge Worker - Main Entry Point
 *
 * Go worker that turns photographed handwriting into vector fonts.
 *
 * Architecture:
 * - Redis LIST or Asynq consumer for the segment-image / build-font jobs
 * - Binarization, connected components and line segmentation per text line
 * - Tesseract recognition cascade (voting, line text, digits, symbols)
 * - Qdrant glyph memory for fragments the cascade could not label
 * - Outline tracing and OpenType (CFF) assembly
 * - PostgreSQL persistence for projects, builds and glyphs
 */

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/glyphforge-worker/internal/clients"
	"github.com/adverant/nexus/glyphforge-worker/internal/config"
	"github.com/adverant/nexus/glyphforge-worker/internal/logging"
	"github.com/adverant/nexus/glyphforge-worker/internal/processor"
	"github.com/adverant/nexus/glyphforge-worker/internal/queue"
	"github.com/adverant/nexus/glyphforge-worker/internal/recognition"
	"github.com/adverant/nexus/glyphforge-worker/internal/storage"
	"github.com/adverant/nexus/glyphforge-worker/internal/tracer"
)

// consumer is the part of a queue backend main needs
type consumer interface {
	Start() error
	Stop() error
}

// asynqConsumer adapts queue.Consumer's context-taking lifecycle
type asynqConsumer struct {
	*queue.Consumer
}

func (a asynqConsumer) Start() error { return a.Consumer.Start(context.Background()) }
func (a asynqConsumer) Stop() error  { return a.Consumer.Stop(context.Background()) }

func main() {
	// Load environment variables
	if err := godotenv.Load(".env.nexus"); err != nil {
		log.Printf("Warning: .env.nexus not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("GlyphForge Worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Qdrant=%s, Queue=%s (%s), Workers=%d",
		cfg.RedisURL, cfg.QdrantURL, cfg.QueueName, cfg.QueueBackend, cfg.WorkerConcurrency)

	// Initialize unified storage manager (PostgreSQL + Qdrant)
	log.Printf("Connecting to storage (PostgreSQL + Qdrant)...")
	storageManager, err := storage.NewStorageManager(
		cfg.DatabaseURL,
		cfg.QdrantURL,
		cfg.QdrantCollection,
		tracer.FeatureDims,
	)
	if err != nil {
		log.Fatalf("Failed to initialize storage manager: %v", err)
	}
	log.Printf("Storage manager initialized (PostgreSQL + Qdrant)")

	engine, err := recognition.NewTesseractEngine(&recognition.TesseractConfig{
		Language: cfg.TesseractLanguage,
	})
	if err != nil {
		log.Fatalf("Failed to initialize recognition engine: %v", err)
	}
	log.Printf("Tesseract %s ready (language=%s)", engine.Version(), cfg.TesseractLanguage)

	procConfig := &processor.ProcessorConfig{
		Storage:          storageManager,
		Engine:           engine,
		MaxFileSize:      cfg.MaxFileSize,
		CallTimeout:      cfg.CallTimeout(),
		SegmentationMode: cfg.SegmentationMode,
		SpecialLabels:    cfg.SpecialLabels,
		FamilyName:       cfg.FontFamily,
		PreviewText:      cfg.PreviewText,
		GlyphMatchScore:  cfg.GlyphMatchScore,
		Logger:           logging.NewLogger("FontProcessor"),
	}
	if artifacts := artifactClient(cfg.FileProcessAPIURL); artifacts != nil {
		procConfig.Artifacts = artifacts
	}

	proc, err := processor.NewFontProcessor(procConfig)
	if err != nil {
		log.Fatalf("Failed to initialize font processor: %v", err)
	}

	// Initialize queue consumer
	log.Printf("Connecting to Redis queue...")
	queueConsumer, err := newConsumer(cfg, proc)
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := queueConsumer.Start(); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("GlyphForge Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s (%s)", cfg.QueueName, cfg.QueueBackend)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Segmentation: %s, special labels: %q", cfg.SegmentationMode, cfg.SpecialLabels)
	log.Printf("Glyph memory: minScore=%.2f", cfg.GlyphMatchScore)
	logStorageStats(storageManager)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	if err := queueConsumer.Stop(); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	} else {
		log.Printf("Queue consumer stopped successfully")
	}

	if err := storageManager.Close(); err != nil {
		log.Printf("Error closing storage manager: %v", err)
	} else {
		log.Printf("Storage manager closed")
	}

	log.Printf("Shutdown complete")
}

// newConsumer builds the configured queue backend
func newConsumer(cfg *config.Config, proc processor.FontProcessorInterface) (consumer, error) {
	timeoutMs := cfg.JobTimeout().Milliseconds()

	if cfg.QueueBackend == config.QueueBackendAsynq {
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: timeoutMs,
		})
		if err != nil {
			return nil, err
		}
		return asynqConsumer{c}, nil
	}

	return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		ProcessingTimeout: timeoutMs,
	})
}

// artifactClient returns a client for the artifact API, or nil when it is
// not configured or not reachable
func artifactClient(baseURL string) *clients.ArtifactClient {
	if baseURL == "" {
		return nil
	}

	client := clients.NewArtifactClient(baseURL)
	if err := healthCheck(client); err != nil {
		log.Printf("WARNING: Artifact storage unavailable, uploads disabled: %v", err)
		return nil
	}
	log.Printf("Artifact storage available at %s", baseURL)
	return client
}

func healthCheck(client *clients.ArtifactClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("artifact health check failed: %w", err)
	}
	return nil
}

func logStorageStats(sm *storage.StorageManager) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := sm.GetStats(ctx)
	if err != nil {
		log.Printf("Storage stats unavailable: %v", err)
		return
	}
	log.Printf("Storage: %v", stats)
}
