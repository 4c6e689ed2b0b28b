package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorTimings(t *testing.T) {
	c := NewCollector()

	c.RecordTiming(OpPoll, 10*time.Millisecond, nil)
	c.RecordTiming(OpPoll, 30*time.Millisecond, errors.New("timeout"))
	c.RecordSend(200*time.Millisecond, 100, 40, nil)

	snap := c.Snapshot()

	require.NotNil(t, snap.Poll)
	assert.Equal(t, int64(2), snap.Poll.Count)
	assert.Equal(t, int64(1), snap.Poll.Errors)
	assert.Equal(t, int64(10), snap.Poll.MinTimeMs)
	assert.Equal(t, int64(30), snap.Poll.MaxTimeMs)
	assert.InDelta(t, 20.0, snap.Poll.AvgTimeMs, 0.001)
	assert.Nil(t, snap.Poll.TotalInputTokens)

	require.NotNil(t, snap.Send)
	require.NotNil(t, snap.Send.TotalOutputTokens)
	assert.Equal(t, int64(40), *snap.Send.TotalOutputTokens)

	assert.Nil(t, snap.Create, "operations without data are omitted")
}

func TestCollectorOutcomes(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordOutcome("created")
		}()
	}
	wg.Wait()
	c.RecordOutcome("recorded")

	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap.Outcomes["created"])
	assert.Equal(t, int64(1), snap.Outcomes["recorded"])

	snap.Outcomes["created"] = 0
	assert.Equal(t, int64(50), c.Snapshot().Outcomes["created"], "snapshots are copies")
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordTiming(OpPoll, time.Second, nil)
	c.RecordSend(time.Second, 1, 1, nil)
	c.RecordOutcome("created")
	assert.Equal(t, Snapshot{}, c.Snapshot())
}
