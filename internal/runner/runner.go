// Package runner wires the pipeline's components together and owns its
// main loop (C7): validate config, construct C2-C6 (in that order, so
// earlier construction failures never leak later resources), poll a batch
// from C4, dispatch each event through C5/C6 on a worker pool, commit, log
// periodic counters, and shut everything down in reverse construction
// order on signal.
package runner

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/streamwatch/schema-change-notifier/internal/classifier"
	"github.com/streamwatch/schema-change-notifier/internal/config"
	"github.com/streamwatch/schema-change-notifier/internal/consumer"
	"github.com/streamwatch/schema-change-notifier/internal/dedup"
	"github.com/streamwatch/schema-change-notifier/internal/errs"
	"github.com/streamwatch/schema-change-notifier/internal/health"
	"github.com/streamwatch/schema-change-notifier/internal/logging"
	"github.com/streamwatch/schema-change-notifier/internal/metrics"
	"github.com/streamwatch/schema-change-notifier/internal/notification"
	"github.com/streamwatch/schema-change-notifier/internal/publisher"
	"github.com/streamwatch/schema-change-notifier/internal/registry"
	"github.com/streamwatch/schema-change-notifier/internal/shutdownutil"
)

const (
	counterLogInterval = 60 * time.Second
	batchJoinBound     = 60 * time.Second
	poolDrainBound     = 10 * time.Second
	healthCloseBound   = 5 * time.Second
)

// Runner owns the pipeline's lifecycle.
type Runner struct {
	cfg    *config.Config
	logger logging.Logger
	runID  string

	dedupStore *dedup.Store
	regClient  *registry.Client
	consumer   *consumer.Consumer
	pub        *publisher.Publisher
	classify   *classifier.Classifier
	metrics    *metrics.Metrics
	healthSrv  *health.Server

	signaller *shutdownutil.Signaller
}

// New constructs a Runner, validating cfg and building every component up
// front. On any construction failure, the components already built are
// closed in reverse order before the error is returned, per spec.md §4.7
// step 1 ("guaranteed resource release on startup failure").
func New(cfg *config.Config, logger logging.Logger) (*Runner, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		runID:     uuid.New().String(),
		metrics:   metrics.New(),
		signaller: shutdownutil.New(),
	}

	var err error
	defer func() {
		if err != nil {
			r.closeBuilt()
		}
	}()

	if cfg.EnableDeduplication {
		r.dedupStore, err = dedup.New(cfg.StateStorePath, logger)
		if err != nil {
			return nil, err
		}
	}

	r.regClient = registry.New(cfg.Environments, logger)

	r.classify, err = classifier.New(cfg.Filter, cfg.Environments, r.regClient, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	r.pub, err = publisher.New(ctx, cfg.Target, cfg.TargetSchemaRegistry, cfg.DryRun, logger)
	if err != nil {
		return nil, err
	}

	r.consumer, err = consumer.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.HealthPort != 0 {
		r.healthSrv = health.New(cfg.HealthPort, r.runID, r.metrics, logger)
	}

	return r, nil
}

// closeBuilt tears down whatever subset of components has been
// constructed so far, in reverse construction order.
func (r *Runner) closeBuilt() {
	if r.consumer != nil {
		r.consumer.Stop()
		_ = r.consumer.Close()
	}
	if r.pub != nil {
		_ = r.pub.Close()
	}
	if r.regClient != nil {
		_ = r.regClient.Close()
	}
	if r.dedupStore != nil {
		_ = r.dedupStore.Close()
	}
}

// Run installs termination hooks, starts the optional health server, and
// executes the main poll/dispatch/commit loop until a termination signal
// arrives or ctx is cancelled. It always returns after a clean shutdown
// sequence has completed.
func (r *Runner) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			r.logger.Infof("runner: termination signal received, shutting down")
			r.signaller.TriggerStop()
		case <-ctx.Done():
			r.signaller.TriggerStop()
		}
	}()

	if r.healthSrv != nil {
		r.healthSrv.Start()
		r.healthSrv.SetReady(true)
	}

	r.logger.Infof("runner: pipeline started, run.id=%s processing.mode=%s dry.run=%v", r.runID, r.cfg.ProcessingMode, r.cfg.DryRun)

	err := r.loop(ctx)
	r.shutdown()
	return err
}

func (r *Runner) loop(ctx context.Context) error {
	pool := newWorkerPool(r.cfg.ProcessingThreads)
	defer pool.stopAndWait(poolDrainBound)

	ticker := time.NewTicker(counterLogInterval)
	defer ticker.Stop()

	var consumed, processed, produced, duplicates int64

	for {
		select {
		case <-r.signaller.StopChan():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.logger.Infof("runner: counters consumed=%d processed=%d produced=%d duplicates=%d",
				consumed, processed, produced, duplicates)
		default:
		}

		pollCtx, cancel := context.WithTimeout(ctx, r.cfg.PollTimeout)
		records, err := r.consumer.Poll(pollCtx, r.cfg.BatchSize)
		cancel()
		if err != nil {
			r.logger.Errorf("runner: poll failed: %v", err)
			continue
		}

		// done is sampled once per poll: stopAtCurrent's per-partition
		// snapshot bound (inclusive of the boundary record) or
		// end.timestamp's cutoff (exclusive) has been reached. The current
		// batch, if any, is still fully processed and committed below
		// before the signaller flips — spec.md §4.4 B5, §9.
		done := r.consumer.Done()

		if len(records) == 0 {
			if done {
				r.logger.Infof("runner: stop condition reached with an empty batch, shutting down")
				r.signaller.TriggerStop()
			}
			continue
		}
		consumed += int64(len(records))

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, rec := range records {
			rec := rec
			wg.Add(1)
			pool.submit(func() {
				defer wg.Done()
				didProcess, didProduce, didDup := r.processOne(ctx, rec)
				mu.Lock()
				if didProcess {
					processed++
				}
				if didProduce {
					produced++
				}
				if didDup {
					duplicates++
				}
				mu.Unlock()
			})
		}

		joinCtx, joinCancel := context.WithTimeout(ctx, batchJoinBound)
		waitWithBound(joinCtx, &wg)
		joinCancel()

		commitCtx, commitCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := r.consumer.CommitSync(commitCtx); err != nil {
			r.logger.Errorf("runner: commit failed: %v", err)
		}
		commitCancel()

		r.metrics.EventsConsumed.Add(float64(len(records)))
		if r.dedupStore != nil {
			r.metrics.DedupStoreSize.Set(float64(r.dedupStore.Size()))
		}

		if done {
			r.logger.Infof("runner: stop condition reached after processing the current batch, shutting down")
			r.signaller.TriggerStop()
		}
	}
}

// processOne runs one Record through dedup/classify/publish. It reports
// which counters should advance; errors at any stage are logged and the
// event is dropped rather than retried, except publisher transient errors
// which are retried once inline before being logged and dropped, per
// spec.md §4.6's "best-effort, non-blocking" publish contract.
func (r *Runner) processOne(ctx context.Context, rec consumer.Record) (didProcess, didProduce, didDuplicate bool) {
	if r.dedupStore != nil {
		key := r.classify.DedupKey(rec.Event)
		if r.dedupStore.IsDuplicate(key) {
			r.metrics.DuplicatesSkipped.Inc()
			return false, false, true
		}
	}

	n := r.classify.Process(ctx, rec.Event)
	if n == nil {
		return false, false, false
	}
	didProcess = true
	r.metrics.EventsProcessed.Inc()

	if err := r.publishWithRetry(ctx, n); err != nil {
		r.logger.Errorf("runner: publish failed for subject=%v: %v", n.Subject, err)
		return didProcess, false, false
	}
	didProduce = true
	r.metrics.NotificationsProduced.Inc()

	if r.dedupStore != nil {
		key := r.classify.DedupKey(rec.Event)
		r.dedupStore.MarkProcessed(key)
	}

	return didProcess, didProduce, false
}

// publishWithRetry attempts the publish once, retries once more on a
// transient error, and gives up after that.
func (r *Runner) publishWithRetry(ctx context.Context, n *notification.Notification) error {
	err := r.pub.Publish(ctx, n)
	if err == nil {
		return nil
	}
	var transient *errs.PublisherTransientError
	if !errors.As(err, &transient) {
		return err
	}
	return r.pub.Publish(ctx, n)
}

func (r *Runner) shutdown() {
	r.logger.Infof("runner: shutdown sequence starting")

	if r.healthSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), healthCloseBound)
		_ = r.healthSrv.Close(ctx)
		cancel()
	}

	r.closeBuilt()

	r.logger.Infof("runner: shutdown complete")
}

// waitWithBound blocks on wg until it completes or ctx expires, whichever
// comes first. A timed-out batch is left to finish in the background; the
// CommitSync that follows still commits the offsets of every polled record,
// including the ones whose processing has not finished.
func waitWithBound(ctx context.Context, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
