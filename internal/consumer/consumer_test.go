package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/streamwatch/schema-change-notifier/internal/logging"
)

func rec(partition int32, offset int64, ts time.Time, value string) *kgo.Record {
	return &kgo.Record{Partition: partition, Offset: offset, Timestamp: ts, Value: []byte(value)}
}

func TestFilterRecords_StopAtCurrentDeliversEveryRecord(t *testing.T) {
	c := &Consumer{
		logger:         logging.NewNop(),
		stopAtCurrent:  true,
		haveEndOffsets: true,
		endOffsets:     map[int32]int64{0: 10},
	}

	in := []*kgo.Record{
		rec(0, 9, time.Now(), `{"id":"a"}`),
		rec(0, 10, time.Now(), `{"id":"b"}`),
		rec(0, 11, time.Now(), `{"id":"c"}`),
	}

	out := c.filterRecords(in)
	assert.Len(t, out, 3)
	assert.Equal(t, int64(9), out[0].Offset)
	assert.Equal(t, int64(10), out[1].Offset)
	assert.Equal(t, int64(11), out[2].Offset)
}

func TestMarkReached_OffByOneBound(t *testing.T) {
	c := &Consumer{
		logger:         logging.NewNop(),
		stopAtCurrent:  true,
		haveEndOffsets: true,
		endOffsets:     map[int32]int64{0: 10},
	}

	c.markReached(0, 8)
	assert.False(t, c.reached[0], "offset 8 is below snapshot-1 (9), partition must not be reached yet")

	c.markReached(0, 9)
	assert.True(t, c.reached[0], "offset 9 == snapshot-1, per spec.md §9's off-by-one bound")
}

func TestDone_StopAtCurrentRequiresAllPartitionsReached(t *testing.T) {
	c := &Consumer{
		logger:         logging.NewNop(),
		stopAtCurrent:  true,
		haveEndOffsets: true,
		endOffsets:     map[int32]int64{0: 10, 1: 20},
	}

	assert.False(t, c.Done())

	c.filterRecords([]*kgo.Record{rec(0, 9, time.Now(), `{"id":"a"}`)})
	assert.False(t, c.Done(), "partition 1 has not reached its bound yet")

	c.filterRecords([]*kgo.Record{rec(1, 19, time.Now(), `{"id":"b"}`)})
	assert.True(t, c.Done())
}

func TestDone_FalseWithoutStopAtCurrentOrEndTimestamp(t *testing.T) {
	c := &Consumer{logger: logging.NewNop()}
	assert.False(t, c.Done())
}

func TestDone_TrueOnceEndTimestampExceeded(t *testing.T) {
	cutoff := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := &Consumer{
		logger:       logging.NewNop(),
		hasEnd:       true,
		endTimestamp: cutoff,
	}

	assert.False(t, c.Done())

	c.filterRecords([]*kgo.Record{rec(0, 1, cutoff.Add(time.Second), `{"id":"after"}`)})
	assert.True(t, c.Done())
}

func TestFilterRecords_EndTimestampIsExclusive(t *testing.T) {
	cutoff := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := &Consumer{
		logger:       logging.NewNop(),
		hasEnd:       true,
		endTimestamp: cutoff,
	}

	in := []*kgo.Record{
		rec(0, 1, cutoff.Add(-time.Second), `{"id":"before"}`),
		rec(0, 2, cutoff, `{"id":"at"}`),
		rec(0, 3, cutoff.Add(time.Second), `{"id":"after"}`),
	}

	out := c.filterRecords(in)
	assert.Len(t, out, 2)
	assert.Equal(t, "before", out[0].Event.ID)
	assert.Equal(t, "at", out[1].Event.ID)
}

func TestFilterRecords_SkipsMalformedRecords(t *testing.T) {
	c := &Consumer{logger: logging.NewNop()}

	in := []*kgo.Record{
		rec(0, 1, time.Now(), `not json`),
		rec(0, 2, time.Now(), `{"id":"ok"}`),
	}

	out := c.filterRecords(in)
	require := out
	assert.Len(t, require, 1)
	assert.Equal(t, "ok", require[0].Event.ID)
}

func TestFilterRecords_NoBoundsPassesEverything(t *testing.T) {
	c := &Consumer{logger: logging.NewNop()}

	in := []*kgo.Record{
		rec(0, 1, time.Now(), `{"id":"a"}`),
		rec(1, 2, time.Now(), `{"id":"b"}`),
	}

	out := c.filterRecords(in)
	assert.Len(t, out, 2)
}

func TestSaslPlain(t *testing.T) {
	m := saslPlain("key", "secret")
	assert.NotNil(t, m)
	assert.Equal(t, "PLAIN", m.Name())
}
