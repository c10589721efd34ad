package download

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/consumer"
	"github.com/replicate/rget/pkg/logging"
)

// DefaultMaxAttempts bounds a download when Options.MaxAttempts is zero.
const DefaultMaxAttempts = 2

// Controller drives an Executor until the destination holds the complete
// resource, a fatal condition is seen, or the attempt budget runs out.
type Controller struct {
	Executor Executor
	Consumer consumer.Consumer

	opts    Options
	backoff retryablehttp.Backoff
}

var _ Strategy = &Controller{}

// NewController builds a Controller backed by an HTTPExecutor.
func NewController(opts Options) *Controller {
	c := opts.Consumer
	if c == nil {
		c = &consumer.FileWriter{}
	}
	httpClient := client.NewHTTPClient(opts.Client)
	executor := NewHTTPExecutor(httpClient, c, NewRateLimiter(opts.LimitRate))
	return NewControllerWithExecutor(executor, c, opts)
}

// NewControllerWithExecutor builds a Controller around any Executor. c is
// used to discard partial content before restarting.
func NewControllerWithExecutor(executor Executor, c consumer.Consumer, opts Options) *Controller {
	if c == nil {
		c = &consumer.FileWriter{}
	}
	return &Controller{
		Executor: executor,
		Consumer: c,
		opts:     opts,
		backoff:  client.Backoff(opts.RetryJitter),
	}
}

func (c *Controller) maxAttempts() uint {
	if c.opts.MaxAttempts == 0 {
		return DefaultMaxAttempts
	}
	return c.opts.MaxAttempts
}

// Download fetches url into dest. The returned error is nil exactly when
// result.Success is true; otherwise it is one of HTTPStatusError,
// ProtocolViolationError, LocalWriteError, AttemptsExhaustedError or the
// context's error. On failure dest may hold a partial prefix.
func (c *Controller) Download(ctx context.Context, url, dest string) (DownloadResult, error) {
	downloadID := uuid.NewString()
	logger := logging.GetLogger().With().
		Str("download_id", downloadID).
		Str("url", url).
		Str("dest", dest).
		Logger()

	maxAttempts := c.maxAttempts()
	var (
		result         DownloadResult
		resumeOffset   *uint64
		pendingDiscard bool
		lastErr        error
	)

	for attempt := uint(1); attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.wait(ctx, int(attempt-1)); err != nil {
				return result, fmt.Errorf("download of %s cancelled: %w", url, err)
			}
		}
		if pendingDiscard {
			if err := c.Consumer.Discard(dest); err != nil {
				return result, &LocalWriteError{Path: dest, Err: err}
			}
			result.TotalBytesWritten = 0
			pendingDiscard = false
		}

		req := TransferRequest{URL: url, DestinationPath: dest, ResumeOffset: resumeOffset, RequestID: downloadID}
		attemptLogger := logger.With().Uint("attempt", attempt).Logger()
		if resumeOffset != nil {
			attemptLogger.Debug().Uint64("offset", *resumeOffset).Msg("Resuming")
		} else {
			attemptLogger.Debug().Msg("Requesting")
		}

		outcome := c.execute(ctx, req)
		result.AttemptsUsed = attempt
		result.LastOutcome = outcome
		if outcome.touchedDestination() {
			result.TotalBytesWritten = outcome.OnDisk()
		}

		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("download of %s cancelled: %w", url, err)
		}

		d := decide(ctx, outcome, resumeOffset != nil, !c.opts.DisableResume)
		switch d.action {
		case actionSucceed:
			result.Success = true
			attemptLogger.Debug().
				Str("size", humanize.Bytes(result.TotalBytesWritten)).
				Msg("Transfer complete")
			return result, nil
		case actionFail:
			logAttemptFailure(attemptLogger.Error(), outcome, d.err).Msg("Giving up")
			return result, d.err
		case actionResume:
			logAttemptFailure(attemptLogger.Warn(), outcome, d.err).Uint64("resume_offset", d.offset).Msg("Retrying")
			resumeOffset = uint64Ptr(d.offset)
		case actionRestart:
			logAttemptFailure(attemptLogger.Warn(), outcome, d.err).Msg("Restarting")
			resumeOffset = nil
			pendingDiscard = true
		}
		lastErr = d.err
	}

	return result, &AttemptsExhaustedError{Attempts: result.AttemptsUsed, Last: result.LastOutcome, Err: lastErr}
}

func (c *Controller) execute(ctx context.Context, req TransferRequest) TransferOutcome {
	if c.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.AttemptTimeout)
		defer cancel()
	}
	return c.Executor.Execute(ctx, req)
}

// wait sleeps before retry number retryNum (1 for the first retry).
func (c *Controller) wait(ctx context.Context, retryNum int) error {
	sleep := c.backoff(c.opts.RetryWaitMin, c.opts.RetryWaitMax, retryNum, nil)
	if sleep <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func logAttemptFailure(event *zerolog.Event, outcome TransferOutcome, err error) *zerolog.Event {
	event = event.Err(err).
		Int("status", outcome.HTTPStatus).
		Uint64("bytes_written", outcome.BytesWritten).
		Bool("stream_complete", outcome.StreamComplete)
	if outcome.ConnectionError != ErrorKindNone {
		event = event.Stringer("error_kind", outcome.ConnectionError)
	}
	if declared, ok := outcome.Declared(); ok {
		event = event.Uint64("declared_length", declared)
	}
	return event
}
