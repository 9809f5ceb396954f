package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rishivishwanath/autocont/models"
)

// ErrJobNotFound is returned for unknown or expired job IDs
var ErrJobNotFound = errors.New("job not found")

// JobStore keeps the status of async generation jobs
type JobStore interface {
	Create(ctx context.Context, job *models.JobStatus) error
	Get(ctx context.Context, jobID string) (*models.JobStatus, error)
	Update(ctx context.Context, jobID string, fn func(job *models.JobStatus)) error
}

// MemoryJobStore keeps jobs in process memory
type MemoryJobStore struct {
	jobs map[string]*models.JobStatus
	ttl  time.Duration
	now  func() time.Time
	mu   sync.RWMutex
}

// NewMemoryJobStore creates a store whose jobs expire ttl after their last update
func NewMemoryJobStore(ttl time.Duration) *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]*models.JobStatus),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *job
	s.jobs[job.JobID] = &copied
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, jobID string) (*models.JobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok || s.expired(job) {
		return nil, ErrJobNotFound
	}

	copied := *job
	return &copied, nil
}

func (s *MemoryJobStore) Update(ctx context.Context, jobID string, fn func(job *models.JobStatus)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	fn(job)
	job.UpdatedAt = s.now()
	return nil
}

// Sweep drops expired jobs and returns how many were removed
func (s *MemoryJobStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if s.expired(job) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryJobStore) expired(job *models.JobStatus) bool {
	return s.ttl > 0 && s.now().Sub(job.UpdatedAt) > s.ttl
}

const redisJobPrefix = "autocont:job:"

// RedisJobStore shares job status between API instances
type RedisJobStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient accepts either a redis:// URL or a plain host:port
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if strings.Contains(redisURL, "://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func NewRedisJobStore(rdb *redis.Client, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{rdb: rdb, ttl: ttl}
}

func redisJobKey(jobID string) string {
	return redisJobPrefix + jobID
}

func (s *RedisJobStore) Create(ctx context.Context, job *models.JobStatus) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return s.rdb.Set(ctx, redisJobKey(job.JobID), payload, s.ttl).Err()
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*models.JobStatus, error) {
	payload, err := s.rdb.Get(ctx, redisJobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	var job models.JobStatus
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

// Update applies fn inside an optimistic transaction on the job key
func (s *RedisJobStore) Update(ctx context.Context, jobID string, fn func(job *models.JobStatus)) error {
	key := redisJobKey(jobID)

	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}

		var job models.JobStatus
		if err := json.Unmarshal(payload, &job); err != nil {
			return fmt.Errorf("failed to decode job: %w", err)
		}

		fn(&job)
		job.UpdatedAt = time.Now()

		updated, err := json.Marshal(&job)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.ttl)
			return nil
		})
		return err
	}, key)
}
