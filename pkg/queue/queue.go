package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/esg-lite/emissions-pipeline/pkg/logger"
)

// TaskTypeOCRProcess is the asynq task type consumed by the OCR worker.
const TaskTypeOCRProcess = "ocr:process"

// Queue names. High priority is advisory; asynq weights the queues but is
// free to interleave.
const (
	QueueHigh    = "high"
	QueueDefault = "default"
)

// Error classes. Callers map these onto the HTTP error taxonomy without
// inspecting transport details: unavailable -> 503, full -> 429,
// duplicate -> 409, anything unwrapped -> 500.
var (
	ErrUnavailable  = errors.New("queue unavailable")
	ErrQueueFull    = errors.New("queue at capacity")
	ErrDuplicateJob = errors.New("job already enqueued")
	ErrJobNotFound  = errors.New("job not found")
)

// JobPayload is the queue-facing job contract.
type JobPayload struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	FileKey    string `json:"fileKey"`
	FileName   string `json:"fileName"`
	MimeType   string `json:"mimeType"`
	FileSize   int64  `json:"fileSize"`
	Category   string `json:"category"`
	UserMode   string `json:"userMode"`
}

// JobState is the queue-reported lifecycle of a job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobUnknown   JobState = "unknown"
)

// JobStatus is the live queue view of one job.
type JobStatus struct {
	JobID    string   `json:"jobId"`
	State    JobState `json:"state"`
	Progress int      `json:"progress"`
	Error    string   `json:"error,omitempty"`
}

// EnqueueInfo reports a successful enqueue.
type EnqueueInfo struct {
	JobID    string
	Queue    string
	Position int // pending jobs ahead of this one, best effort
}

// Queue submits OCR jobs and looks up their live status.
type Queue interface {
	Enqueue(ctx context.Context, jobID string, payload *JobPayload, priority Priority) (*EnqueueInfo, error)
	GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config defines the adapter's retry policy and capacity cap.
type Config struct {
	RedisAddr  string
	RedisDB    int
	MaxRetry   int
	RetryDelay time.Duration
	JobTimeout time.Duration
	Retention  time.Duration
	// MaxPending caps waiting jobs per queue; 0 disables the cap.
	MaxPending int
}

// DefaultConfig matches the job contract: 3 retries, 60s apart, jobs expire
// after an hour.
func DefaultConfig(redisAddr string, redisDB int) *Config {
	return &Config{
		RedisAddr:  redisAddr,
		RedisDB:    redisDB,
		MaxRetry:   3,
		RetryDelay: time.Minute,
		JobTimeout: time.Hour,
		Retention:  24 * time.Hour,
	}
}

// AsynqQueue is the asynq-backed adapter.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	cfg       *Config
	logger    logger.Logger
}

func NewAsynqQueue(cfg *Config, log logger.Logger) (*AsynqQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}

	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redis: redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		}),
		cfg:    cfg,
		logger: log,
	}, nil
}

// QueueFor maps a priority tier onto an asynq queue name.
func QueueFor(priority Priority) string {
	if priority == PriorityHigh {
		return QueueHigh
	}
	return QueueDefault
}

// Enqueue submits a job under the caller-supplied job id (the asynq task id)
// and returns its queue position. The job id is generated by the caller
// before the document row is claimed, so the QUEUED row and the queue entry
// share one identifier from the start.
func (q *AsynqQueue) Enqueue(ctx context.Context, jobID string, payload *JobPayload, priority Priority) (*EnqueueInfo, error) {
	if jobID == "" {
		return nil, fmt.Errorf("enqueue: empty job id")
	}
	if payload.DocumentID == "" {
		return nil, fmt.Errorf("enqueue: empty document id")
	}

	queueName := QueueFor(priority)

	position := 0
	if info, err := q.inspector.GetQueueInfo(queueName); err == nil {
		position = info.Pending
		if q.cfg.MaxPending > 0 && info.Pending+info.Active >= q.cfg.MaxPending {
			return nil, fmt.Errorf("%w: %d jobs pending in %s", ErrQueueFull, info.Pending, queueName)
		}
	} else {
		q.logger.Debug("queue info lookup failed, skipping capacity check",
			logger.String("queue", queueName),
			logger.Error(err),
		)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeOCRProcess, data)
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(queueName),
		asynq.MaxRetry(q.cfg.MaxRetry),
		asynq.Timeout(q.cfg.JobTimeout),
		asynq.Retention(q.cfg.Retention),
	)
	if err != nil {
		return nil, classifyEnqueueError(err)
	}

	return &EnqueueInfo{JobID: info.ID, Queue: queueName, Position: position}, nil
}

// GetJobStatus looks the job up across both queues and maps asynq task
// states onto the unified job states.
func (q *AsynqQueue) GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var lastErr error
	for _, queueName := range []string{QueueHigh, QueueDefault} {
		info, err := q.inspector.GetTaskInfo(queueName, jobID)
		if err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
				continue
			}
			lastErr = err
			continue
		}
		return statusFromTaskInfo(info), nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
	}
	return nil, ErrJobNotFound
}

// Ping checks the Redis backing store.
func (q *AsynqQueue) Ping(ctx context.Context) error {
	return q.redis.Ping(ctx).Err()
}

func (q *AsynqQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.redis.Close()
}

func statusFromTaskInfo(info *asynq.TaskInfo) *JobStatus {
	status := &JobStatus{JobID: info.ID}
	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateAggregating:
		status.State = JobWaiting
	case asynq.TaskStateRetry:
		status.State = JobWaiting
		status.Error = info.LastErr
	case asynq.TaskStateActive:
		status.State = JobActive
		status.Progress = 50
	case asynq.TaskStateCompleted:
		status.State = JobCompleted
		status.Progress = 100
	case asynq.TaskStateArchived:
		status.State = JobFailed
		status.Error = info.LastErr
	default:
		status.State = JobUnknown
	}
	return status
}

// classifyEnqueueError sorts transport failures into the retryable error
// classes. Connection and timeout problems are unavailable (503), duplicate
// task ids are conflicts (409); anything else passes through as fatal.
func classifyEnqueueError(err error) error {
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask):
		return fmt.Errorf("%w: %v", ErrDuplicateJob, err)
	case isConnectionError(err):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return fmt.Errorf("enqueue failed: %w", err)
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
