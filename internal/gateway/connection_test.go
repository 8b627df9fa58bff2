package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue_DropsOldestWhenFull(t *testing.T) {
	server, _ := wsPair(t)
	conn := newConnection(server, "10.0.0.1", clockwork.NewRealClock())
	// Writer never started: frames accumulate in the buffer.

	total := outboundBufferSize + 10
	for i := 0; i < total; i++ {
		assert.True(t, conn.Enqueue([]byte(fmt.Sprintf("frame-%d", i))))
	}

	// The buffer holds the newest frames; the first 10 were dropped.
	require.Len(t, conn.sendCh, outboundBufferSize)
	first := <-conn.sendCh
	assert.Equal(t, "frame-10", string(first))
}

func TestEnqueue_FalseAfterStop(t *testing.T) {
	server, _ := wsPair(t)
	conn := newConnection(server, "10.0.0.1", clockwork.NewRealClock())
	conn.start(func() {})

	require.True(t, conn.Enqueue([]byte("before")))
	conn.stop(0, "")
	assert.False(t, conn.Enqueue([]byte("after")))
}

func TestStop_Idempotent(t *testing.T) {
	server, _ := wsPair(t)
	conn := newConnection(server, "10.0.0.1", clockwork.NewRealClock())
	conn.start(func() {})

	conn.stop(0, "")
	conn.stop(0, "")
}

func TestTouch_TracksActivity(t *testing.T) {
	server, _ := wsPair(t)
	clock := clockwork.NewFakeClock()
	conn := newConnection(server, "10.0.0.1", clock)

	created := conn.LastActivity()

	clock.Advance(10 * time.Second)
	assert.Equal(t, int64(1), conn.Touch())
	assert.Equal(t, int64(2), conn.Touch())
	assert.Equal(t, int64(2), conn.MessageCount())
	assert.Equal(t, 10*time.Second, conn.LastActivity().Sub(created))
}
