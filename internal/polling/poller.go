// Package polling converts asynchronous upstream jobs into synchronous
// results. A poller repeatedly checks job status with an adaptive delay
// schedule until the job reaches a terminal state, the category timeout
// expires, or the upstream stops answering.
package polling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"deapi-mcp/internal/config"
	"deapi-mcp/internal/deapi"
	"deapi-mcp/pkg/logging"
)

// StatusChecker is the single upstream call the poller depends on.
// *deapi.Client satisfies it.
type StatusChecker interface {
	JobStatus(ctx context.Context, jobID string) (*deapi.Job, error)
}

// Reporter receives progress updates while a job runs. Implementations must
// not block; reporting never influences the polling schedule.
type Reporter interface {
	Progress(progress, total float64)
}

// Outcome classifies how a polling run ended.
type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimedOut Outcome = "timed_out"
	OutcomeNotFound Outcome = "not_found"
	OutcomeGivenUp  Outcome = "given_up"
)

// Metadata describes the effort a polling run took.
type Metadata struct {
	ElapsedSeconds float64 `json:"elapsed_time"`
	Attempts       int     `json:"attempts"`
}

// Result is the synchronous answer produced for an asynchronous job. Every
// ending, including failures and timeouts, is expressed as a Result; the
// poller returns a Go error only for context cancellation.
type Result struct {
	Success   bool            `json:"success"`
	Outcome   Outcome         `json:"outcome"`
	JobID     string          `json:"job_id"`
	Result    json.RawMessage `json:"result,omitempty"`
	ResultURL string          `json:"result_url,omitempty"`
	Error     string          `json:"error,omitempty"`
	Metadata  Metadata        `json:"metadata"`
}

const (
	// maxCheckAttempts bounds how many status checks a run may spend when
	// the upstream answers with errors.
	maxCheckAttempts = 3
	// logEvery throttles the in-progress log line.
	logEvery = 5
)

// Poller drives one job category's polling schedule.
type Poller struct {
	checker  StatusChecker
	profile  config.PollingProfile
	reporter Reporter

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a poller for the given status source and category profile.
func New(checker StatusChecker, profile config.PollingProfile) *Poller {
	return &Poller{
		checker: checker,
		profile: profile,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// WithReporter attaches a progress reporter and returns the poller.
func (p *Poller) WithReporter(r Reporter) *Poller {
	p.reporter = r
	return p
}

// Wait polls the job until it ends. The timeout is checked against the wall
// clock before every status check, so a run never starts a check once the
// timeout has passed. The delay between checks grows by the backoff factor and
// is capped at the profile maximum.
func (p *Poller) Wait(ctx context.Context, jobID string) (*Result, error) {
	start := p.now()
	delay := p.profile.InitialDelay.Duration()
	timeout := p.profile.Timeout.Duration()
	attempts := 0
	lastProgress := -1.0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		elapsed := p.now().Sub(start)
		if elapsed > timeout {
			logging.Warn("Polling", "Job %s timed out after %d checks (%.0fs)", jobID, attempts, elapsed.Seconds())
			return p.finish(OutcomeTimedOut, jobID, nil,
				fmt.Sprintf("job did not finish within %s", timeout), start, attempts), nil
		}

		attempts++
		job, err := p.checker.JobStatus(ctx, jobID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if deapi.IsNotFound(err) {
				return p.finish(OutcomeNotFound, jobID, nil, "job not found", start, attempts), nil
			}
			if attempts >= maxCheckAttempts {
				logging.Error("Polling", err, "Giving up on job %s after %d checks", jobID, attempts)
				return p.finish(OutcomeGivenUp, jobID, nil, err.Error(), start, attempts), nil
			}
			logging.Warn("Polling", "Status check %d for job %s failed: %v", attempts, jobID, err)

		case job.Status == deapi.StatusDone:
			logging.Info("Polling", "Job %s finished after %d checks (%.0fs)", jobID, attempts, p.now().Sub(start).Seconds())
			result := p.finish(OutcomeDone, jobID, job.Result, "", start, attempts)
			result.ResultURL = job.ResultURL
			return result, nil

		case job.Status == deapi.StatusFailed:
			message := job.Error
			if message == "" {
				message = "job failed"
			}
			return p.finish(OutcomeFailed, jobID, nil, message, start, attempts), nil

		default:
			if job.Progress != nil && *job.Progress != lastProgress {
				lastProgress = *job.Progress
				if p.reporter != nil {
					p.reporter.Progress(*job.Progress, 100)
				}
			}
			if attempts%logEvery == 0 {
				logging.Info("Polling", "Job %s still %s after %d checks (%.0fs elapsed)",
					jobID, job.Status, attempts, elapsed.Seconds())
			}
		}

		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}
		next := time.Duration(float64(delay) * p.profile.BackoffFactor)
		if max := p.profile.MaxDelay.Duration(); next > max {
			next = max
		}
		delay = next
	}
}

func (p *Poller) finish(outcome Outcome, jobID string, result json.RawMessage, errMsg string, start time.Time, attempts int) *Result {
	return &Result{
		Success: outcome == OutcomeDone,
		Outcome: outcome,
		JobID:   jobID,
		Result:  result,
		Error:   errMsg,
		Metadata: Metadata{
			ElapsedSeconds: p.now().Sub(start).Seconds(),
			Attempts:       attempts,
		},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
