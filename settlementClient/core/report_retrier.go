package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Retrier re-sends settlements the backend has not acknowledged.
type Retrier interface {
	RetryUnreported(ctx context.Context, limit int) (int, error)
}

const reportBatchSize = 50

// ReportRetrier periodically re-reports settlements whose backend notification failed
type ReportRetrier struct {
	retrier  Retrier
	ticker   *time.Ticker
	logger   zerolog.Logger
	stopCh   chan struct{}
	interval time.Duration
}

// NewReportRetrier creates a new report retrier
func NewReportRetrier(retrier Retrier, interval time.Duration, logger zerolog.Logger) *ReportRetrier {
	return &ReportRetrier{
		retrier:  retrier,
		interval: interval,
		logger:   logger.With().Str("component", "report_retrier").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic retry process
func (rr *ReportRetrier) Start(ctx context.Context) error {
	rr.logger.Info().
		Dur("interval", rr.interval).
		Msg("starting report retrier")

	// Settlements left over from a previous run go first
	if err := rr.performRetry(ctx); err != nil {
		rr.logger.Error().Err(err).Msg("failed to perform initial report retry")
	}

	rr.ticker = time.NewTicker(rr.interval)

	go func() {
		defer rr.ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				rr.logger.Info().Msg("context cancelled, stopping report retrier")
				return
			case <-rr.stopCh:
				rr.logger.Info().Msg("stop signal received, stopping report retrier")
				return
			case <-rr.ticker.C:
				if err := rr.performRetry(ctx); err != nil {
					rr.logger.Error().Err(err).Msg("failed to perform scheduled report retry")
				}
			}
		}
	}()

	return nil
}

// Stop gracefully stops the report retrier
func (rr *ReportRetrier) Stop() {
	rr.logger.Info().Msg("stopping report retrier")
	close(rr.stopCh)
	if rr.ticker != nil {
		rr.ticker.Stop()
	}
}

func (rr *ReportRetrier) performRetry(ctx context.Context) error {
	start := time.Now()

	accepted, err := rr.retrier.RetryUnreported(ctx, reportBatchSize)
	if err != nil {
		return err
	}

	if accepted > 0 {
		rr.logger.Info().
			Int("accepted", accepted).
			Dur("duration", time.Since(start)).
			Msg("report retry completed")
	} else {
		rr.logger.Debug().
			Dur("duration", time.Since(start)).
			Msg("report retry completed - nothing accepted")
	}
	return nil
}
