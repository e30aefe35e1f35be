package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/purepost/analysis-service/internal/worker/domain"
)

// spawnWorkerPool spawns N processing goroutines
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each pool goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))
	logger.Info("Worker goroutine started")

	for {
		select {
		case <-w.stopChan:
			logger.Info("Worker goroutine stopping - stop requested")
			return

		case <-ctx.Done():
			logger.Info("Worker goroutine stopping - context canceled")
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				logger.Info("Worker goroutine stopping - jobs channel closed")
				return
			}

			err := w.safeProcess(ctx, msg)

			channel := w.rabbitClient.GetChannel()
			if channel == nil {
				logger.Error("Failed to get RabbitMQ channel for ACK/NACK",
					slog.String("analysis_id", msg.AnalysisID),
				)
				continue
			}

			if err != nil {
				logger.Error("Analysis processing failed",
					slog.String("analysis_id", msg.AnalysisID),
					slog.String("error", err.Error()),
				)

				requeue := w.shouldRequeue(err)
				if nackErr := channel.Nack(msg.DeliveryTag, false, requeue); nackErr != nil {
					logger.Error("Failed to NACK message",
						slog.String("analysis_id", msg.AnalysisID),
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
				logger.Error("Failed to ACK message",
					slog.String("analysis_id", msg.AnalysisID),
					slog.Any("error", ackErr),
				)
			}
		}
	}
}

// safeProcess runs one analysis and converts a panic anywhere in the
// pipeline into a retryable error instead of killing the pool goroutine.
func (w *Worker) safeProcess(ctx context.Context, msg *domain.AnalysisMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic while processing analysis",
				slog.String("analysis_id", msg.AnalysisID),
				slog.Any("panic", r),
			)
			err = domain.NewRetryableError(fmt.Errorf("panic: %v", r))
		}
	}()

	return w.processAnalysis(ctx, msg)
}

// shouldRequeue decides the NACK requeue flag from the error type. Only
// explicitly retryable errors (infrastructure hiccups) go back on the
// queue; everything terminal was already recorded in the store.
func (w *Worker) shouldRequeue(err error) bool {
	var retryable *domain.RetryableError
	return errors.As(err, &retryable)
}
