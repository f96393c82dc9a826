package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/pscheid92/authority/internal/domain"
	"github.com/pscheid92/authority/internal/metrics"
)

const (
	defaultPollInterval  = 200 * time.Millisecond
	defaultFetchLimit    = 100
	defaultPruneInterval = 1 * time.Hour
	defaultRetention     = 24 * time.Hour
	lagSampleInterval    = 5 * time.Second
)

// Pipe drains the transactional outbox into the read index. Each partition
// gets its own worker so accounts hashed to different partitions propagate
// in parallel, while records for one account always land on one partition
// and apply in sequence order.
//
// Delivery is at-least-once. A crash between Apply and MarkApplied replays
// the record on the next pass; the index detects the duplicate by sequence
// and no-ops.
type Pipe struct {
	outbox domain.OutboxRepository
	index  domain.ReadIndex
	clock  clockwork.Clock

	partitions   int
	pollInterval time.Duration
	fetchLimit   int
	retention    time.Duration
}

func NewPipe(outbox domain.OutboxRepository, index domain.ReadIndex, clock clockwork.Clock, partitions int, pollInterval time.Duration) *Pipe {
	if partitions <= 0 {
		partitions = 1
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Pipe{
		outbox:       outbox,
		index:        index,
		clock:        clock,
		partitions:   partitions,
		pollInterval: pollInterval,
		fetchLimit:   defaultFetchLimit,
		retention:    defaultRetention,
	}
}

// Run starts one worker per partition plus the lag sampler and the pruner.
// It blocks until ctx is cancelled.
func (p *Pipe) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for partition := 0; partition < p.partitions; partition++ {
		partition := partition
		g.Go(func() error {
			p.runPartition(ctx, partition)
			return nil
		})
	}
	g.Go(func() error {
		p.runLagSampler(ctx)
		return nil
	})
	g.Go(func() error {
		p.runPruner(ctx)
		return nil
	})

	return g.Wait()
}

func (p *Pipe) runPartition(ctx context.Context, partition int) {
	ticker := p.clock.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.drainPartition(ctx, partition)
		}
	}
}

// drainPartition applies unapplied records in sequence order until the
// partition is empty or an apply fails. On failure the pass stops so no
// later record overtakes the failed one; the next tick retries from the
// same record.
func (p *Pipe) drainPartition(ctx context.Context, partition int) {
	for {
		records, err := p.outbox.FetchUnapplied(ctx, partition, p.partitions, p.fetchLimit)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Pipe: fetch failed", "partition", partition, "error", err)
			metrics.OutboxFailuresTotal.WithLabelValues("fetch").Inc()
			return
		}
		if len(records) == 0 {
			return
		}

		for _, record := range records {
			if err := p.index.Apply(ctx, record); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("Pipe: apply failed", "partition", partition, "sequence", record.Sequence, "error", err)
				metrics.OutboxFailuresTotal.WithLabelValues("apply").Inc()
				return
			}
			if err := p.outbox.MarkApplied(ctx, record.Sequence); err != nil {
				if ctx.Err() != nil {
					return
				}
				// The record was applied but stays unapplied in the outbox;
				// the replay is harmless because Apply is idempotent.
				slog.Warn("Pipe: mark applied failed", "partition", partition, "sequence", record.Sequence, "error", err)
				metrics.OutboxFailuresTotal.WithLabelValues("mark").Inc()
				return
			}
			metrics.OutboxAppliedTotal.Inc()
		}

		if len(records) < p.fetchLimit {
			return
		}
	}
}

func (p *Pipe) runLagSampler(ctx context.Context) {
	ticker := p.clock.NewTicker(lagSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.sampleLag(ctx)
		}
	}
}

func (p *Pipe) sampleLag(ctx context.Context) {
	age, ok, err := p.outbox.OldestUnappliedAge(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Pipe: lag sample failed", "error", err)
		}
		return
	}
	if !ok {
		metrics.ReplicationLagSeconds.Set(0)
		return
	}
	metrics.ReplicationLagSeconds.Set(age.Seconds())
}

func (p *Pipe) runPruner(ctx context.Context) {
	ticker := p.clock.NewTicker(defaultPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			pruned, err := p.outbox.PruneApplied(ctx, p.retention)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("Pipe: prune failed", "error", err)
				}
				continue
			}
			if pruned > 0 {
				slog.Info("Pipe: pruned applied outbox records", "count", pruned)
				metrics.OutboxPrunedTotal.Add(float64(pruned))
			}
		}
	}
}
