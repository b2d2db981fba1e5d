package scheduler

import (
	"log/slog"
	"time"
)

// Retention defaults.
const (
	DefaultRetentionSchedule = "0 3 * * *"
	DefaultRetentionMaxAge   = 720 * time.Hour
)

// Pruner deletes conversations not updated since cutoff.
type Pruner interface {
	PruneConversations(cutoff time.Time) (int, error)
}

// RetentionJob removes stale conversations.
type RetentionJob struct {
	pruner Pruner
	maxAge time.Duration
	now    func() time.Time
}

// NewRetentionJob creates a job pruning conversations older than maxAge.
// A non-positive maxAge falls back to DefaultRetentionMaxAge.
func NewRetentionJob(pruner Pruner, maxAge time.Duration) *RetentionJob {
	if maxAge <= 0 {
		maxAge = DefaultRetentionMaxAge
	}
	return &RetentionJob{pruner: pruner, maxAge: maxAge, now: time.Now}
}

// Run prunes once and reports how many conversations were removed.
func (j *RetentionJob) Run() (int, error) {
	cutoff := j.now().Add(-j.maxAge)
	n, err := j.pruner.PruneConversations(cutoff)
	if err != nil {
		slog.Error("RetentionJob.Run: prune failed", "error", err, "cutoff", cutoff)
		return 0, err
	}
	slog.Info("RetentionJob.Run: pruned conversations", "removed", n, "cutoff", cutoff)
	return n, nil
}

// ScheduleRetention registers the job on s. An empty expr uses
// DefaultRetentionSchedule.
func ScheduleRetention(s *Scheduler, expr string, job *RetentionJob) error {
	if expr == "" {
		expr = DefaultRetentionSchedule
	}
	return s.AddJob(expr, func() {
		_, _ = job.Run()
	})
}
