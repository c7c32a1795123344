/**
 * Configuration for GlyphForge Worker
 *
 * Loads configuration from environment variables matching .env.nexus
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Segmentation modes
const (
	SegmentationLine = "line"
	SegmentationWord = "word"
)

// Queue backends
const (
	QueueBackendRedis = "redis"
	QueueBackendAsynq = "asynq"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant vector database configuration (glyph memory)
	QdrantURL        string
	QdrantCollection string

	// Service URLs
	FileProcessAPIURL string // FileProcess API for artifact storage, empty disables uploads

	// Queue configuration
	QueueBackend string
	QueueName    string

	// Worker configuration
	WorkerConcurrency int
	MaxFileSize       int64
	ProcessingTimeout int // milliseconds

	// Recognition configuration
	TesseractLanguage  string
	RecognitionTimeout int // milliseconds, per recognizer invocation
	SegmentationMode   string

	// Font build configuration
	SpecialLabels   string
	FontFamily      string
	PreviewText     string
	GlyphMatchScore float64

	// Node environment
	NodeEnv string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:           getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		DatabaseURL:        getEnvOrThrow("DATABASE_URL"),
		QdrantURL:          getEnvOrDefault("QDRANT_URL", "nexus-qdrant:6334"),
		QdrantCollection:   getEnvOrDefault("QDRANT_COLLECTION", "glyphforge_glyphs"),
		FileProcessAPIURL:  getEnvOrDefault("FILEPROCESS_API_URL", ""),
		QueueBackend:       getEnvOrDefault("QUEUE_BACKEND", QueueBackendRedis),
		QueueName:          getEnvOrDefault("QUEUE_NAME", "glyphforge:jobs"),
		WorkerConcurrency:  getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		MaxFileSize:        getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800), // 50MB
		ProcessingTimeout:  getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		TesseractLanguage:  getEnvOrDefault("TESSERACT_LANGUAGE", "eng"),
		RecognitionTimeout: getEnvAsIntOrDefault("RECOGNITION_TIMEOUT", 10000), // 10 seconds
		SegmentationMode:   getEnvOrDefault("SEGMENTATION_MODE", SegmentationLine),
		SpecialLabels:      getEnvOrDefault("SPECIAL_LABELS", "?!ij"),
		FontFamily:         getEnvOrDefault("FONT_FAMILY", "CustomFont"),
		PreviewText:        getEnvOrDefault("PREVIEW_TEXT", "AaBbCc123!@#"),
		GlyphMatchScore:    getEnvAsFloatOrDefault("GLYPH_MATCH_SCORE", 0.92),
		NodeEnv:            getEnvOrDefault("NODE_ENV", "development"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.QueueBackend != QueueBackendRedis && c.QueueBackend != QueueBackendAsynq {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendRedis, QueueBackendAsynq, c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.RecognitionTimeout < 100 || c.RecognitionTimeout > c.ProcessingTimeout {
		return fmt.Errorf("RECOGNITION_TIMEOUT must be between 100ms and PROCESSING_TIMEOUT, got %d", c.RecognitionTimeout)
	}

	if c.SegmentationMode != SegmentationLine && c.SegmentationMode != SegmentationWord {
		return fmt.Errorf("SEGMENTATION_MODE must be %q or %q, got %q", SegmentationLine, SegmentationWord, c.SegmentationMode)
	}

	if c.GlyphMatchScore < 0 || c.GlyphMatchScore > 1 {
		return fmt.Errorf("GLYPH_MATCH_SCORE must be between 0 and 1, got %v", c.GlyphMatchScore)
	}

	return nil
}

// JobTimeout is the per-job processing deadline
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// CallTimeout is the per-invocation recognizer deadline
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.RecognitionTimeout) * time.Millisecond
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrThrow gets environment variable or returns error
func getEnvOrThrow(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("Required environment variable %s is not set", key))
	}
	return value
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
