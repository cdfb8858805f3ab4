package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

type options struct {
	Logger    *slog.Logger
	Cron      *cron.Cron
	Parser    cron.Parser
	Jobs      []*models.ScheduledJob
	Schedules map[string]string
	Location  *time.Location
}

// Option applies configuration to the scheduler service.
type Option func(*options)

func defaultOptions() options {
	return options{Logger: slog.Default(), Location: time.UTC}
}

// WithLogger injects a custom logger implementation.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithCron supplies a preconfigured cron scheduler instance.
func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.Cron = c
	}
}

// WithCronParser allows replacing the cron expression parser.
func WithCronParser(p cron.Parser) Option {
	return func(o *options) {
		o.Parser = p
	}
}

// WithJobs registers explicit job definitions instead of defaults.
func WithJobs(jobs []*models.ScheduledJob) Option {
	return func(o *options) {
		o.Jobs = jobs
	}
}

// WithSchedule overrides the cron expression of the job with slug.
func WithSchedule(slug, spec string) Option {
	return func(o *options) {
		if o.Schedules == nil {
			o.Schedules = make(map[string]string)
		}
		o.Schedules[slug] = spec
	}
}

// WithLocation sets the scheduler timezone location.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.Location = loc
	}
}
