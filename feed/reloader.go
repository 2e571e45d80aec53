package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/markstatus/monitoring"
	"github.com/Nexora-Open-Source/markstatus/types"
	"github.com/Nexora-Open-Source/markstatus/utils"
	"github.com/sirupsen/logrus"
)

// Job status values
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

type reloadJob struct {
	ID        string
	URL       string
	RequestID string
	CreatedAt time.Time
}

// ReloaderConfig sizes the reload queue
type ReloaderConfig struct {
	QueueSize     int
	WaitTimeout   time.Duration
	LoadTimeout   time.Duration
	JobRetention  time.Duration
	CleanupPeriod time.Duration
}

// Reloader loads the timeline in the background and remounts the host. Jobs
// run one at a time; the host serializes remounts from any caller.
type Reloader struct {
	loader TimelineLoader
	host   *Host
	logger *logrus.Logger
	config ReloaderConfig

	jobs        chan reloadJob
	quit        chan struct{}
	wg          sync.WaitGroup
	stopOnce    sync.Once
	jobStatus   map[string]*types.ReloadJobStatus
	statusMutex sync.RWMutex
}

// NewReloader starts the reload worker
func NewReloader(loader TimelineLoader, host *Host, cfg ReloaderConfig, logger *logrus.Logger) *Reloader {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = time.Second
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = 24 * time.Hour
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}

	r := &Reloader{
		loader:    loader,
		host:      host,
		logger:    logger,
		config:    cfg,
		jobs:      make(chan reloadJob, cfg.QueueSize),
		quit:      make(chan struct{}),
		jobStatus: make(map[string]*types.ReloadJobStatus),
	}

	r.wg.Add(2)
	go r.worker()
	go r.cleanupOldJobs()
	return r
}

// Reload loads feedURL and remounts the host synchronously
func (r *Reloader) Reload(ctx context.Context, feedURL string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.LoadTimeout)
	defer cancel()

	posts, err := r.loader.LoadTimeline(ctx, feedURL)
	if err != nil {
		return 0, err
	}
	return r.host.Mount(posts), nil
}

// Submit queues a reload of feedURL and returns its job id. A full queue
// rejects the job after the configured wait.
func (r *Reloader) Submit(feedURL, requestID string) (string, error) {
	if requestID == "" {
		requestID = utils.GenerateRequestID()
	}
	job := reloadJob{
		ID:        fmt.Sprintf("reload_%d_%s", time.Now().UnixNano(), requestID),
		URL:       feedURL,
		RequestID: requestID,
		CreatedAt: time.Now(),
	}

	r.statusMutex.Lock()
	r.jobStatus[job.ID] = &types.ReloadJobStatus{
		JobID:     job.ID,
		URL:       feedURL,
		Status:    JobPending,
		CreatedAt: job.CreatedAt,
	}
	r.statusMutex.Unlock()

	timer := time.NewTimer(r.config.WaitTimeout)
	defer timer.Stop()

	select {
	case <-r.quit:
		r.dropJob(job.ID)
		return "", fmt.Errorf("reloader is stopped")
	case r.jobs <- job:
		monitoring.UpdateReloadQueueSize(len(r.jobs))
		monitoring.RecordReloadJob(JobPending)
		r.logger.WithFields(logrus.Fields{
			"job_id":     job.ID,
			"url":        feedURL,
			"request_id": requestID,
		}).Info("Timeline reload queued")
		return job.ID, nil
	case <-timer.C:
		r.dropJob(job.ID)
		r.logger.WithFields(logrus.Fields{
			"url":          feedURL,
			"wait_timeout": r.config.WaitTimeout.String(),
			"queue_size":   len(r.jobs),
		}).Warn("Timeline reload rejected, queue is full")
		return "", fmt.Errorf("reload queue full after %v", r.config.WaitTimeout)
	}
}

// JobStatus returns a copy of a job's status
func (r *Reloader) JobStatus(jobID string) (types.ReloadJobStatus, bool) {
	r.statusMutex.RLock()
	defer r.statusMutex.RUnlock()

	status, ok := r.jobStatus[jobID]
	if !ok {
		return types.ReloadJobStatus{}, false
	}
	return *status, true
}

func (r *Reloader) dropJob(jobID string) {
	r.statusMutex.Lock()
	delete(r.jobStatus, jobID)
	r.statusMutex.Unlock()
}

func (r *Reloader) worker() {
	defer r.wg.Done()

	for {
		select {
		case job := <-r.jobs:
			monitoring.UpdateReloadQueueSize(len(r.jobs))
			r.process(job)
		case <-r.quit:
			return
		}
	}
}

func (r *Reloader) process(job reloadJob) {
	start := time.Now()
	r.updateJobStatus(job.ID, JobProcessing, "", 0, 0)

	count, err := r.Reload(context.Background(), job.URL)
	duration := time.Since(start)

	if err != nil {
		r.updateJobStatus(job.ID, JobFailed, err.Error(), 0, duration.Milliseconds())
		monitoring.RecordReloadJob(JobFailed)
		r.logger.WithFields(logrus.Fields{
			"job_id":     job.ID,
			"url":        job.URL,
			"request_id": job.RequestID,
			"error":      err.Error(),
		}).Error("Timeline reload failed")
		return
	}

	r.updateJobStatus(job.ID, JobCompleted, "", count, duration.Milliseconds())
	monitoring.RecordReloadJob(JobCompleted)
	r.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"url":         job.URL,
		"request_id":  job.RequestID,
		"items_count": count,
		"duration_ms": duration.Milliseconds(),
	}).Info("Timeline reload completed")
}

func (r *Reloader) updateJobStatus(jobID, status, errorMsg string, itemsCount int, durationMs int64) {
	r.statusMutex.Lock()
	defer r.statusMutex.Unlock()

	if jobStatus, ok := r.jobStatus[jobID]; ok {
		jobStatus.Status = status
		jobStatus.Error = errorMsg
		jobStatus.ItemsCount = itemsCount
		jobStatus.DurationMs = durationMs
		if status == JobCompleted || status == JobFailed {
			now := time.Now()
			jobStatus.CompletedAt = &now
		}
	}
}

func (r *Reloader) cleanupOldJobs() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.pruneJobs(time.Now().Add(-r.config.JobRetention))
		case <-r.quit:
			return
		}
	}
}

func (r *Reloader) pruneJobs(cutoff time.Time) int {
	r.statusMutex.Lock()
	removed := 0
	for jobID, status := range r.jobStatus {
		if status.CreatedAt.Before(cutoff) {
			delete(r.jobStatus, jobID)
			removed++
		}
	}
	r.statusMutex.Unlock()

	if removed > 0 {
		r.logger.WithField("removed_count", removed).Info("Cleaned up old reload jobs")
	}
	return removed
}

// Stop halts the worker. Queued jobs that have not started are dropped.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.quit)
		r.wg.Wait()
		r.logger.Info("Reloader stopped")
	})
}
