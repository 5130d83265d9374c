package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotConfigured is returned when no Redis connection was supplied, i.e.
// the queue integration is absent entirely.
var ErrNotConfigured = errors.New("work queue is not configured")

// Config holds the dispatch-shaping parameters. They bound the fan-out seen
// by the downstream generator and are carried inside every stream entry so
// the worker honors the same limits.
type Config struct {
	StreamKey           string
	ChunkSize           int
	MaxConcurrentChunks int
	InterChunkDelay     time.Duration
	TaskCreationDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.StreamKey == "" {
		c.StreamKey = "generation:jobs"
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 3
	}
	if c.MaxConcurrentChunks <= 0 {
		c.MaxConcurrentChunks = 2
	}
	return c
}

// JobPayload is the full unit of work for one generation job.
type JobPayload struct {
	JobID         int64
	AvatarID      int64
	UserID        int64
	StyleID       string
	Prompts       []string
	ReferenceURLs []string
}

// Publisher writes generation jobs onto a Redis Stream consumed by the
// external worker pool. One job becomes a sequence of chunk entries, but the
// publish is a single logical operation: it either confirms or fails.
type Publisher struct {
	rdb *redis.Client
	cfg Config
	log *slog.Logger
}

// NewPublisher accepts a nil client; publishing then fails with
// ErrNotConfigured so callers can distinguish "queue absent" from
// "queue broken".
func NewPublisher(rdb *redis.Client, cfg Config, log *slog.Logger) *Publisher {
	return &Publisher{rdb: rdb, cfg: cfg.withDefaults(), log: log}
}

// PublishJob partitions the job's prompts into bounded chunks and appends one
// stream entry per chunk. It returns the stream ID of the final entry as the
// publish confirmation.
func (p *Publisher) PublishJob(ctx context.Context, payload JobPayload) (string, error) {
	if p.rdb == nil {
		return "", ErrNotConfigured
	}
	if len(payload.Prompts) == 0 {
		return "", fmt.Errorf("empty prompt set for job %d", payload.JobID)
	}

	chunks := chunkPrompts(payload.Prompts, p.cfg.ChunkSize)

	refsJSON, err := json.Marshal(payload.ReferenceURLs)
	if err != nil {
		return "", fmt.Errorf("marshal reference urls: %w", err)
	}

	var lastID string
	for i, chunk := range chunks {
		promptsJSON, err := json.Marshal(chunk)
		if err != nil {
			return "", fmt.Errorf("marshal prompt chunk: %w", err)
		}

		id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: p.cfg.StreamKey,
			Values: map[string]any{
				"job_id":         strconv.FormatInt(payload.JobID, 10),
				"avatar_id":      strconv.FormatInt(payload.AvatarID, 10),
				"user_id":        strconv.FormatInt(payload.UserID, 10),
				"style_id":       payload.StyleID,
				"chunk_index":    strconv.Itoa(i),
				"chunk_count":    strconv.Itoa(len(chunks)),
				"prompts":        string(promptsJSON),
				"reference_urls": string(refsJSON),
				"max_concurrent": strconv.Itoa(p.cfg.MaxConcurrentChunks),
				"task_delay_ms":  strconv.FormatInt(p.cfg.TaskCreationDelay.Milliseconds(), 10),
			},
		}).Result()
		if err != nil {
			return "", fmt.Errorf("publish chunk %d/%d for job %d: %w", i+1, len(chunks), payload.JobID, err)
		}
		lastID = id

		if p.cfg.InterChunkDelay > 0 && i < len(chunks)-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(p.cfg.InterChunkDelay):
			}
		}
	}

	if lastID == "" {
		return "", fmt.Errorf("publish for job %d returned no confirmation", payload.JobID)
	}

	if p.log != nil {
		p.log.Info("job published", "job_id", payload.JobID, "chunks", len(chunks), "stream_id", lastID)
	}
	return lastID, nil
}

func chunkPrompts(prompts []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(prompts); start += size {
		end := start + size
		if end > len(prompts) {
			end = len(prompts)
		}
		chunks = append(chunks, prompts[start:end])
	}
	return chunks
}
