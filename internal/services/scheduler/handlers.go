package scheduler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
	"github.com/gotrs-io/gotrs-ingest/internal/services/ingest"
)

// EmailIngestSlug identifies the built-in mailbox polling job.
const EmailIngestSlug = "email-ingest"

func (s *Service) registerBuiltinHandlers() {
	s.RegisterHandler("email.poll", s.handleEmailPoll)
}

func (s *Service) handleEmailPoll(ctx context.Context, job *models.ScheduledJob) error {
	if s.runner == nil {
		s.logger.Warn("poll runner unavailable, skipping email poll")
		return nil
	}

	report, err := s.runner.RunOnePass(ctx)
	if errors.Is(err, ingest.ErrPassInProgress) {
		s.logger.Info("previous email poll still running, skipping trigger", "job", job.Slug)
		return nil
	}
	if err != nil {
		return err
	}

	if threshold := intFromConfig(job.Config, "failure_alert_threshold", 0); threshold > 0 && report.Failed >= threshold {
		s.logger.Error("email poll failures over threshold", "failed", report.Failed, "threshold", threshold)
	}
	return report.Err()
}

func defaultJobs() []*models.ScheduledJob {
	return []*models.ScheduledJob{
		{
			Name:           "Email Account Poller",
			Slug:           EmailIngestSlug,
			Handler:        "email.poll",
			Schedule:       "*/2 * * * *",
			TimeoutSeconds: 300,
			Config: map[string]any{
				"failure_alert_threshold": 0,
			},
		},
	}
}

// DefaultJobs returns a cloned copy of the built-in scheduled jobs.
func DefaultJobs() []*models.ScheduledJob {
	jobs := defaultJobs()
	out := make([]*models.ScheduledJob, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		out = append(out, job.Clone())
	}
	return out
}

func intFromConfig(cfg map[string]any, key string, def int) int {
	if cfg == nil {
		return def
	}
	val, ok := cfg[key]
	if !ok {
		return def
	}
	switch v := val.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
	}
	return def
}
