/**
 * Queue Consumer for GlyphForge Worker
 *
 * Consumes segment-image and build-font tasks using Asynq.
 * An autoBuild segmentation enqueues its build-font task on the same queue.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/glyphforge-worker/internal/processor"
)

// Consumer handles job consumption from Redis queue
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.FontProcessorInterface
	runner    *jobRunner
	config    *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	MaxRetries        int
	Processor         processor.FontProcessorInterface
	ProcessingTimeout int64 // Processing timeout in milliseconds (default: 300000 = 5 minutes)
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Client enqueues follow-up build tasks
	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, error=%v", task.Type(), err)
			}),
		},
	)

	consumer := &Consumer{
		client:    client,
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		config:    cfg,
	}
	consumer.runner = newJobRunner(cfg.Processor, cfg.ProcessingTimeout, consumer.enqueue)

	consumer.mux.HandleFunc(TaskSegmentImage, consumer.handleTask)
	consumer.mux.HandleFunc(TaskBuildFont, consumer.handleTask)

	return consumer, nil
}

func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	log.Printf("Queue consumer stopped")
	return nil
}

// enqueue schedules a task on the consumer's queue
func (c *Consumer) enqueue(ctx context.Context, jobType string, payload *JobPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(jobType, data),
		asynq.Queue(c.config.QueueName),
		asynq.MaxRetry(c.config.MaxRetries),
		asynq.TaskID(payload.JobID),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", jobType, err)
	}

	log.Printf("[Job %s] Enqueued %s task (queue=%s)", payload.JobID, jobType, info.Queue)
	return nil
}

// handleTask processes a segment-image or build-font task
func (c *Consumer) handleTask(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}

	if err := c.processor.UpdateJobStatus(ctx, payload.JobID, task.Type(), "processing", 0, map[string]interface{}{
		"projectId": payload.ProjectID,
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to processing: %v", payload.JobID, err)
	}

	result, err := c.runner.run(ctx, task.Type(), &payload)
	duration := time.Since(startTime)

	if err != nil {
		log.Printf("[Job %s] %s failed after %v: %v", payload.JobID, task.Type(), duration, err)

		if updateErr := c.processor.UpdateJobStatus(ctx, payload.JobID, task.Type(), "failed", 100,
			failureMetadata(err, duration)); updateErr != nil {
			log.Printf("[Job %s] Warning: Failed to update status to failed: %v", payload.JobID, updateErr)
		}

		if !retryable(err) {
			return fmt.Errorf("%s failed: %v: %w", task.Type(), err, asynq.SkipRetry)
		}
		return fmt.Errorf("%s failed: %w", task.Type(), err)
	}

	log.Printf("[Job %s] %s completed successfully in %v", payload.JobID, task.Type(), duration)

	if err := c.processor.UpdateJobStatus(ctx, payload.JobID, task.Type(), "completed", 100, result); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to completed: %v", payload.JobID, err)
	}

	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"maxRetries":  c.config.MaxRetries,
	}
}
