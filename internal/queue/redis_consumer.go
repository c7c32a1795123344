/**
 * Direct Redis Queue Consumer for GlyphForge Worker
 *
 * Compatible with the TypeScript RedisQueue implementation.
 * Uses simple Redis LIST operations for perfect compatibility.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/glyphforge-worker/internal/processor"
)

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.FontProcessorInterface
	runner    *jobRunner
	config    *RedisConsumerConfig
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	MaxRetries        int
	Processor         processor.FontProcessorInterface
	ProcessingTimeout int64 // Processing timeout in milliseconds (default: 300000 = 5 minutes)
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		cfg.QueueName = "glyphforge:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisConsumer(client, cfg), nil
}

func newRedisConsumer(client *redis.Client, cfg *RedisConsumerConfig) *RedisConsumer {
	consumerCtx, cancel := context.WithCancel(context.Background())
	c := &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		ctx:       consumerCtx,
		cancel:    cancel,
	}
	c.runner = newJobRunner(cfg.Processor, cfg.ProcessingTimeout, c.enqueue)
	return c
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	log.Printf("Starting Redis queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	log.Println("Queue consumer started successfully")
	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	log.Println("Stopping queue consumer...")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log.Printf("Worker %d started", id)

	for {
		select {
		case <-c.ctx.Done():
			log.Printf("Worker %d stopping", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if err != errNoJobs && c.ctx.Err() == nil {
					log.Printf("Worker %d error: %v", id, err)
				}
				time.Sleep(1 * time.Second)
			}
		}
	}
}

var errNoJobs = fmt.Errorf("no jobs available")

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	// Block for up to 5 seconds waiting for a job
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	jobData, err := c.client.HGet(c.ctx, c.key("data"), result[1]).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	c.handleJob(&job)
	return nil
}

// handleJob runs one job and records its outcome, re-queueing transient failures
func (c *RedisConsumer) handleJob(job *RedisJobData) {
	startTime := time.Now()
	jobID := job.Payload.JobID

	c.updateJobStatus(job, "processing", map[string]interface{}{
		"projectId": job.Payload.ProjectID,
		"filename":  job.Payload.Filename,
		"attempt":   job.Attempts + 1,
	})

	log.Printf("Processing job %s: type=%s", jobID, job.Type)
	result, err := c.runner.run(c.ctx, job.Type, &job.Payload)
	duration := time.Since(startTime)

	if err == nil {
		c.updateJobStatus(job, "completed", result)
		log.Printf("Job %s completed successfully in %v", jobID, duration)
		return
	}

	log.Printf("Job %s failed after %v: %v", jobID, duration, err)

	job.Attempts++
	if retryable(err) && job.Attempts < job.MaxRetries && c.ctx.Err() == nil {
		if requeueErr := c.push(c.ctx, job); requeueErr != nil {
			log.Printf("Job %s could not be re-queued: %v", jobID, requeueErr)
		} else {
			log.Printf("Job %s re-queued for retry (attempt %d/%d)", jobID, job.Attempts, job.MaxRetries)
			return
		}
	}

	metadata := failureMetadata(err, duration)
	metadata["attempts"] = job.Attempts
	c.updateJobStatus(job, "failed", metadata)
}

// push stores job data and appends the job to the queue
func (c *RedisConsumer) push(ctx context.Context, job *RedisJobData) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key("data"), job.ID, data)
		pipe.LPush(ctx, c.config.QueueName, job.ID)
		return nil
	})
	return err
}

// enqueue schedules a new job on the queue
func (c *RedisConsumer) enqueue(ctx context.Context, jobType string, payload *JobPayload) error {
	return c.push(ctx, &RedisJobData{
		ID:         payload.JobID,
		Type:       jobType,
		Payload:    *payload,
		CreatedAt:  time.Now(),
		MaxRetries: c.config.MaxRetries,
	})
}

// updateJobStatus updates the status of a job in both Redis and PostgreSQL
func (c *RedisConsumer) updateJobStatus(job *RedisJobData, status string, metadata map[string]interface{}) {
	jobID := job.Payload.JobID

	// Redis for queue management
	switch status {
	case "processing":
		c.client.SAdd(c.ctx, c.key("processing"), jobID)
	case "completed":
		c.client.SRem(c.ctx, c.key("processing"), jobID)
		c.client.SAdd(c.ctx, c.key("completed"), jobID)
		if metadata != nil {
			resultData, _ := json.Marshal(metadata)
			c.client.HSet(c.ctx, c.key("results"), jobID, resultData)
		}
	case "failed":
		c.client.SRem(c.ctx, c.key("processing"), jobID)
		c.client.SAdd(c.ctx, c.key("failed"), jobID)
		if metadata != nil {
			errorData, _ := json.Marshal(metadata)
			c.client.HSet(c.ctx, c.key("errors"), jobID, errorData)
		}
	}

	// PostgreSQL for persistent job tracking
	progress := 0
	if status != "processing" {
		progress = 100
	}
	if err := c.processor.UpdateJobStatus(c.ctx, jobID, job.Type, status, progress, metadata); err != nil {
		log.Printf("WARNING: Failed to update PostgreSQL job status to %s for %s: %v", status, jobID, err)
	}

	// Publish event for WebSocket streaming
	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"type":      job.Type,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if projectID, ok := metadata["projectId"].(string); ok && projectID != "" {
		event["projectId"] = projectID
	}
	eventData, _ := json.Marshal(event)
	c.client.Publish(c.ctx, c.key("events"), eventData)
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats() (map[string]int64, error) {
	ctx := context.Background()

	waiting, err := c.client.LLen(ctx, c.config.QueueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	processing, _ := c.client.SCard(ctx, c.key("processing")).Result()
	completed, _ := c.client.SCard(ctx, c.key("completed")).Result()
	failed, _ := c.client.SCard(ctx, c.key("failed")).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}
