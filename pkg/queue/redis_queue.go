package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sermonflow/internal/util"
	"sermonflow/pkg/domain"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// Job is one queued generation. GenerationID points at the persisted
// request row; the queue's own status hash only tracks delivery.
type Job struct {
	ID               string           `json:"id"`
	GenerationID     string           `json:"generationId"`
	SourceDocumentID string           `json:"sourceDocumentId"`
	AssetType        domain.AssetType `json:"assetType"`
	Status           string           `json:"status"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	Attempts         int              `json:"attempts"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Handler processes one job. A returned error triggers a retry until
// MaxRetries is reached.
type Handler func(context.Context, Job) error

// FailedHandler is called once a job has exhausted its retries.
type FailedHandler func(ctx context.Context, job Job, err error)

type RedisJobQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "generators"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	jobTTL := cfg.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 2 * time.Minute
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisJobQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       jobTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Ping checks connectivity to Redis.
func (q *RedisJobQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Client exposes the underlying connection pool for other Redis users in the
// same process.
func (q *RedisJobQueue) Client() *redis.Client {
	return q.client
}

// Close releases the Redis connection pool.
func (q *RedisJobQueue) Close() error {
	return q.client.Close()
}

// Dispatch enqueues a generation request for the workers.
func (q *RedisJobQueue) Dispatch(ctx context.Context, req domain.GenerationRequest) error {
	_, err := q.Enqueue(ctx, req.ID, req.SourceDocumentID, req.AssetType)
	return err
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, generationID, sourceDocumentID string, assetType domain.AssetType) (Job, error) {
	generationID = strings.TrimSpace(generationID)
	if generationID == "" {
		return Job{}, errors.New("generationId required")
	}
	if !assetType.Valid() {
		return Job{}, fmt.Errorf("%w: %q", domain.ErrUnknownAssetType, assetType)
	}
	now := time.Now().UTC()
	job := Job{
		ID:               util.NewID(),
		GenerationID:     generationID,
		SourceDocumentID: sourceDocumentID,
		AssetType:        assetType,
		Status:           StatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: messageValues(job),
	}).Err(); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return Job{}, false, err
	}
	if len(data) == 0 {
		return Job{}, false, nil
	}
	return decodeJob(jobID, data), true, nil
}

// Start launches concurrency consumer loops that run until ctx is cancelled.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler Handler, onFailed FailedHandler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler, onFailed)
	}
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			util.LoggerFromContext(ctx).Warn("queue group create failed", "stream", q.stream, "group", q.group, "err", err)
		}
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler, onFailed FailedHandler) {
	logger := util.LoggerFromContext(ctx).With("consumer", consumer)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler, onFailed)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				logger.Warn("queue read failed", "err", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(q.retryDelay):
				}
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler, onFailed)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler, onFailed FailedHandler) {
	job, ok := jobFromMessage(msg)
	if !ok {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	logger := util.LoggerFromContext(ctx).With("job_id", job.ID, "generation_id", job.GenerationID)
	job, err := q.markProcessing(ctx, job)
	if err != nil {
		logger.Error("queue mark processing failed", "err", err)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	herr := handler(ctx, job)
	if herr == nil {
		_ = q.markDone(ctx, job.ID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxRetries {
		logger.Error("generation job failed", "attempts", job.Attempts, "err", herr)
		_ = q.markFailed(ctx, job.ID, herr.Error())
		if onFailed != nil {
			onFailed(ctx, job, herr)
		}
		q.ackAndDel(ctx, msg.ID)
		return
	}
	logger.Warn("generation job retry", "attempts", job.Attempts, "err", herr)
	_ = q.markQueued(ctx, job.ID, herr.Error())
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	if err := q.requeueAndAck(ctx, msg.ID, job); err != nil {
		logger.Error("queue requeue failed", "err", err)
	}
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

// requeueAndAck re-adds the job and acks the old message atomically; on
// failure the original stays pending and is reclaimed after claimIdle.
func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID string, job Job) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: messageValues(job),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) markProcessing(ctx context.Context, msgJob Job) (Job, error) {
	job, found, err := q.GetJob(ctx, msgJob.ID)
	if err != nil {
		return Job{}, err
	}
	if !found {
		job = msgJob
	}
	job.GenerationID = msgJob.GenerationID
	job.SourceDocumentID = msgJob.SourceDocumentID
	job.AssetType = msgJob.AssetType
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) markQueued(ctx context.Context, jobID, errMsg string) error {
	return q.updateStatus(ctx, jobID, StatusQueued, errMsg)
}

func (q *RedisJobQueue) markDone(ctx context.Context, jobID string) error {
	return q.updateStatus(ctx, jobID, StatusDone, "")
}

func (q *RedisJobQueue) markFailed(ctx context.Context, jobID, errMsg string) error {
	return q.updateStatus(ctx, jobID, StatusFailed, errMsg)
}

func (q *RedisJobQueue) updateStatus(ctx context.Context, jobID, status, errMsg string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.ID = jobID
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, job Job) error {
	key := q.jobKey(job.ID)
	payload := map[string]any{
		"id":           job.ID,
		"generationId": job.GenerationID,
		"sermonId":     job.SourceDocumentID,
		"assetType":    string(job.AssetType),
		"status":       job.Status,
		"error":        job.ErrorMessage,
		"attempts":     strconv.Itoa(job.Attempts),
		"createdAt":    job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":    job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func messageValues(job Job) map[string]any {
	return map[string]any{
		"job_id":        job.ID,
		"generation_id": job.GenerationID,
		"sermon_id":     job.SourceDocumentID,
		"asset_type":    string(job.AssetType),
	}
}

func jobFromMessage(msg redis.XMessage) (Job, bool) {
	jobID, _ := msg.Values["job_id"].(string)
	generationID, _ := msg.Values["generation_id"].(string)
	sermonID, _ := msg.Values["sermon_id"].(string)
	assetType, _ := msg.Values["asset_type"].(string)
	if jobID == "" || generationID == "" {
		return Job{}, false
	}
	return Job{
		ID:               jobID,
		GenerationID:     generationID,
		SourceDocumentID: sermonID,
		AssetType:        domain.AssetType(assetType),
	}, true
}

func decodeJob(jobID string, data map[string]string) Job {
	job := Job{
		ID:               jobID,
		GenerationID:     data["generationId"],
		SourceDocumentID: data["sermonId"],
		AssetType:        domain.AssetType(data["assetType"]),
		Status:           data["status"],
		ErrorMessage:     data["error"],
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.UpdatedAt = t
		}
	}
	return job
}
