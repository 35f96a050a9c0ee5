// Package consumer implements the audit-log stream consumer (C4): a
// single-owner wrapper around a franz-go kgo.Client that applies the
// pipeline's four startup positioning modes on partition assignment and
// exposes a poll/commit/stop/close lifecycle. Grounded on SPEC_FULL.md §6's
// choice of github.com/twmb/franz-go/pkg/kgo over Shopify/sarama: franz-go
// exposes direct SetOffsets/ListStartOffsets-by-timestamp primitives that
// map onto STREAM/BACKFILL/TIMESTAMP/RESUME without hand-rolled offset
// bookkeeping.
package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	"github.com/streamwatch/schema-change-notifier/internal/auditevent"
	"github.com/streamwatch/schema-change-notifier/internal/config"
	"github.com/streamwatch/schema-change-notifier/internal/logging"
)

// Record pairs a parsed Event with its Kafka coordinates, kept for
// diagnostic logging (spec.md §3's supplemental kafkaPartition/kafkaOffset
// fields) even though they never reach the Notification wire format.
type Record struct {
	Event     *auditevent.Event
	Partition int32
	Offset    int64
}

// Consumer is not safe for concurrent use: spec.md §5 designates the
// runner's main loop as its single owner.
type Consumer struct {
	client *kgo.Client
	topic  string
	mode   config.ProcessingMode

	startTimestamp time.Time
	endTimestamp   time.Time
	hasEnd         bool

	stopAtCurrent  bool
	endOffsets     map[int32]int64
	haveEndOffsets bool
	reached        map[int32]bool

	timestampExceeded bool

	logger logging.Logger
}

// New constructs a Consumer and connects to the audit broker. It does not
// begin consuming; partition assignment (and therefore positioning) happens
// lazily on the first Poll, per franz-go's group-consumer semantics.
func New(cfg *config.Config, logger logging.Logger) (*Consumer, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	c := &Consumer{
		topic:         cfg.AuditLog.Topic,
		mode:          cfg.ProcessingMode,
		stopAtCurrent: cfg.StopAtCurrent,
		logger:        logger,
	}

	if cfg.StartTimestamp != "" {
		t, err := time.Parse(time.RFC3339, cfg.StartTimestamp)
		if err != nil {
			return nil, fmt.Errorf("parse start.timestamp: %w", err)
		}
		c.startTimestamp = t
	}
	if cfg.EndTimestamp != "" {
		t, err := time.Parse(time.RFC3339, cfg.EndTimestamp)
		if err != nil {
			return nil, fmt.Errorf("parse end.timestamp: %w", err)
		}
		c.endTimestamp = t
		c.hasEnd = true
	}

	resetPolicy := kgo.NewOffset().AtStart()
	if cfg.ProcessingMode == config.ModeStream {
		resetPolicy = kgo.NewOffset().AtEnd()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.AuditLog.BootstrapServers),
		kgo.ConsumeTopics(cfg.AuditLog.Topic),
		kgo.ConsumerGroup(cfg.ConsumerGroupID),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(resetPolicy),
		kgo.FetchMaxBytes(10 << 20),
		kgo.SASL(saslPlain(cfg.AuditLog.APIKey, cfg.AuditLog.APISecret)),
		kgo.OnPartitionsAssigned(c.onPartitionsAssigned),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("construct kafka consumer: %w", err)
	}
	c.client = client
	return c, nil
}

// onPartitionsAssigned applies the startup positioning strategy selected
// by mode, per spec.md §4.4's assignment table. RESUME is the no-op case:
// the committed group offset (already honored by the client's default
// assignment behavior) is left untouched.
func (c *Consumer) onPartitionsAssigned(ctx context.Context, client *kgo.Client, assigned map[string][]int32) {
	switch c.mode {
	case config.ModeBackfill:
		offsets := make(map[string]map[int32]kgo.EpochOffset, len(assigned))
		for topic, partitions := range assigned {
			m := make(map[int32]kgo.EpochOffset, len(partitions))
			for _, p := range partitions {
				m[p] = kgo.EpochOffset{Epoch: -1, Offset: 0}
			}
			offsets[topic] = m
		}
		client.SetOffsets(offsets)
	case config.ModeTimestamp:
		millis := c.startTimestamp.UnixMilli()
		for topic, partitions := range assigned {
			for _, p := range partitions {
				client.AddConsumePartitions(map[string]map[int32]kgo.Offset{
					topic: {p: kgo.NewOffset().AfterMilli(millis)},
				})
			}
		}
	case config.ModeStream, config.ModeResume:
		// STREAM relies on the client's configured AtEnd reset offset;
		// RESUME relies on the consumer group's committed offsets. Neither
		// needs an explicit seek here.
	}

	if c.stopAtCurrent {
		c.snapshotEndOffsets(ctx, client, assigned)
	}
}

// snapshotEndOffsets records each assigned partition's current end offset
// at assignment time, per spec.md §4.4's stopAtCurrent semantics. The
// snapshot only feeds markReached/Done; Poll still delivers records at or
// beyond it.
func (c *Consumer) snapshotEndOffsets(ctx context.Context, client *kgo.Client, assigned map[string][]int32) {
	admin := kadm.NewClient(client)
	listed, err := admin.ListEndOffsets(ctx, c.topic)
	if err != nil {
		c.logger.Warnf("consumer: failed to snapshot end offsets for stop.at.current: %v", err)
		return
	}
	if c.endOffsets == nil {
		c.endOffsets = make(map[int32]int64)
	}
	listed.Each(func(o kadm.ListedOffset) {
		if o.Err != nil {
			return
		}
		c.endOffsets[o.Partition] = o.Offset
	})
	c.haveEndOffsets = true
}

// Poll fetches up to batchSize records, parses each with auditevent.Parse,
// and returns the successfully parsed ones. A malformed record is logged
// and skipped, per spec.md §4.4 ("a parse failure never stops the batch").
// end.timestamp filtering drops the triggering record and every record
// timestamped after it; stopAtCurrent never drops a record — it only marks
// partitions as reached for Done() (spec.md §9's asymmetry: stopAtCurrent's
// snapshot bound is inclusive of the boundary record, end.timestamp's
// cutoff is exclusive).
func (c *Consumer) Poll(ctx context.Context, batchSize int) ([]Record, error) {
	fetches := c.client.PollRecords(ctx, batchSize)
	if errs := fetches.Errors(); len(errs) > 0 {
		for _, e := range errs {
			c.logger.Warnf("consumer: fetch error on topic=%s partition=%d: %v", e.Topic, e.Partition, e.Err)
		}
	}

	var raw []*kgo.Record
	fetches.EachRecord(func(r *kgo.Record) {
		raw = append(raw, r)
	})

	return c.filterRecords(raw), nil
}

// filterRecords applies the end.timestamp bound and parses the survivors,
// logging and skipping anything malformed. Split out from Poll so the
// bound logic is testable against plain *kgo.Record literals, without a
// live client.
func (c *Consumer) filterRecords(raw []*kgo.Record) []Record {
	var out []Record
	for _, r := range raw {
		if c.stopAtCurrent && c.haveEndOffsets {
			c.markReached(r.Partition, r.Offset)
		}
		if c.hasEnd && r.Timestamp.After(c.endTimestamp) {
			c.timestampExceeded = true
			continue
		}

		ev, err := auditevent.Parse(r.Value)
		if err != nil {
			c.logger.Warnf("consumer: skipping malformed record at partition=%d offset=%d: %v", r.Partition, r.Offset, err)
			continue
		}
		out = append(out, Record{Event: ev, Partition: r.Partition, Offset: r.Offset})
	}
	return out
}

// markReached flags partition as having reached its stopAtCurrent snapshot
// bound once a record's offset is at or past snapshotted[p]-1, per
// spec.md §9's off-by-one ("rather than strictly >= endOffset, to cope
// with a log-end semantics edge case"). Marking a partition reached never
// suppresses delivery of the record that triggered it — only Done() reads
// this state, to decide whether polling should stop once every assigned
// partition has reached its bound.
func (c *Consumer) markReached(partition int32, offset int64) {
	end, ok := c.endOffsets[partition]
	if !ok || offset < end-1 {
		return
	}
	if c.reached == nil {
		c.reached = make(map[int32]bool)
	}
	c.reached[partition] = true
}

// Done reports whether the consumer has reached a configured stop
// condition: every assigned partition's stopAtCurrent snapshot bound has
// been reached, or a record past end.timestamp has been seen. The runner
// checks this after each Poll and stops the main loop once it returns
// true, after the current batch has finished processing (spec.md §4.4
// B5, §9).
func (c *Consumer) Done() bool {
	if c.timestampExceeded {
		return true
	}
	if !c.stopAtCurrent || !c.haveEndOffsets || len(c.endOffsets) == 0 {
		return false
	}
	for p := range c.endOffsets {
		if !c.reached[p] {
			return false
		}
	}
	return true
}

// CommitSync commits the offsets of all records returned by the most
// recent Poll, per spec.md §4.4's at-least-once contract (commit happens
// only after the batch has been fully processed downstream).
func (c *Consumer) CommitSync(ctx context.Context) error {
	if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

// Stop pauses fetching from the audit topic without closing the client or
// giving up its partition assignment.
func (c *Consumer) Stop() {
	c.client.PauseFetchTopics(c.topic)
}

// Close releases the consumer's broker connections.
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

// saslPlain mirrors publisher's own SASL construction; duplicated rather
// than shared so consumer and publisher stay independently constructible
// without a dependency between the two packages (spec.md §9: "Cyclic
// source coupling").
func saslPlain(key, secret string) sasl.Mechanism {
	return plain.Auth{User: key, Pass: secret}.AsMechanism()
}
