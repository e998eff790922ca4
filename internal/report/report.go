// Package report logs dispatch progress on a cron schedule.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"bulkbot/internal/dispatch"
	"bulkbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Source provides the job snapshots to report on.
type Source interface {
	Jobs() []dispatch.JobStatus
}

type Reporter struct {
	src      Source
	log      logx.Logger
	schedule string
	parser   cron.Parser

	mu sync.Mutex
	c  *cron.Cron
}

// New returns a reporter for the given schedule (standard five-field cron
// or a descriptor such as "@every 5m"). An empty schedule disables it.
func New(src Source, schedule string, log logx.Logger) *Reporter {
	return &Reporter{
		src:      src,
		log:      log,
		schedule: strings.TrimSpace(schedule),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (r *Reporter) Enabled() bool { return r.schedule != "" }

// Start registers the report job and starts the cron runner. It is a no-op
// when disabled or already running.
func (r *Reporter) Start() error {
	if !r.Enabled() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}
	c := cron.New(cron.WithParser(r.parser), cron.WithChain(cron.Recover(cronLogger{r.log})))
	if _, err := c.AddFunc(r.schedule, r.Report); err != nil {
		return fmt.Errorf("report: schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.c = c
	r.log.Info("progress report scheduled", logx.String("schedule", r.schedule))
	return nil
}

// Report logs one line per job.
func (r *Reporter) Report() {
	jobs := r.src.Jobs()
	if len(jobs) == 0 {
		r.log.Info("progress: no jobs")
		return
	}
	for _, j := range jobs {
		fields := []logx.Field{
			logx.Int("session", j.Session),
			logx.String("state", string(j.State)),
			logx.Int("sent", j.Sent),
			logx.Int("failed", j.Failed),
			logx.Int("remaining", j.Remaining),
		}
		if !j.ResumeAt.IsZero() {
			fields = append(fields, logx.Time("resume_at", j.ResumeAt))
		}
		r.log.Info("progress", fields...)
	}
}

// Stop halts the runner and waits for a running report to finish.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}

var _ cron.Logger = cronLogger{}
