package gateway

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadstream/leadstream/internal/domain"
)

// wideOpenRate keeps the connect-rate tier out of the way for tests that
// target the concurrent-connection tiers.
const wideOpenRate = 1e6

func TestAdmissionLimits_PerIP(t *testing.T) {
	limits := NewAdmissionLimits(100, 2, wideOpenRate, 1000)

	require.Nil(t, limits.Acquire("10.0.0.5"))
	require.Nil(t, limits.Acquire("10.0.0.5"))
	assert.Equal(t, 2, limits.CountForIP("10.0.0.5"))

	err := limits.Acquire("10.0.0.5")
	require.NotNil(t, err)
	assert.Equal(t, domain.AdmissionReasonPerIP, err.Reason)

	// Refusal must not leak a global slot
	assert.Equal(t, int64(2), limits.Total())

	// Another IP is unaffected
	require.Nil(t, limits.Acquire("10.0.0.6"))

	limits.Release("10.0.0.5")
	assert.Equal(t, 1, limits.CountForIP("10.0.0.5"))
	require.Nil(t, limits.Acquire("10.0.0.5"))
}

func TestAdmissionLimits_Global(t *testing.T) {
	limits := NewAdmissionLimits(3, 10, wideOpenRate, 1000)

	require.Nil(t, limits.Acquire("10.0.0.1"))
	require.Nil(t, limits.Acquire("10.0.0.2"))
	require.Nil(t, limits.Acquire("10.0.0.3"))

	err := limits.Acquire("10.0.0.4")
	require.NotNil(t, err)
	assert.Equal(t, domain.AdmissionReasonGlobal, err.Reason)
	assert.Equal(t, int64(3), limits.Total())

	limits.Release("10.0.0.2")
	require.Nil(t, limits.Acquire("10.0.0.4"))
}

func TestAdmissionLimits_ConnectRate(t *testing.T) {
	// 1/sec sustained with burst 2: the third immediate connect is refused
	limits := NewAdmissionLimits(100, 100, 1.0, 2)

	require.Nil(t, limits.Acquire("10.0.0.1"))
	require.Nil(t, limits.Acquire("10.0.0.1"))

	err := limits.Acquire("10.0.0.1")
	require.NotNil(t, err)
	assert.Equal(t, domain.AdmissionReasonRate, err.Reason)

	// Rate refusal holds no slots
	assert.Equal(t, int64(2), limits.Total())
}

func TestAdmissionLimits_ConcurrentAcquire(t *testing.T) {
	limits := NewAdmissionLimits(100, 200, wideOpenRate, 10000)

	var admitted, refused int64
	start := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limits.Acquire("10.1.1.1") == nil {
				atomic.AddInt64(&admitted, 1)
			} else {
				atomic.AddInt64(&refused, 1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int64(100), atomic.LoadInt64(&admitted))
	assert.Equal(t, int64(100), atomic.LoadInt64(&refused))
	assert.Equal(t, int64(100), limits.Total())

	for i := 0; i < 100; i++ {
		limits.Release("10.1.1.1")
	}
	assert.Equal(t, int64(0), limits.Total())
	assert.Equal(t, 0, limits.CountForIP("10.1.1.1"))
}

func TestAdmissionLimits_ReleaseUnknownIP(t *testing.T) {
	limits := NewAdmissionLimits(10, 5, wideOpenRate, 1000)
	// Releasing an IP that holds nothing must not go negative
	limits.Release("10.9.9.9")
	assert.Equal(t, 0, limits.CountForIP("10.9.9.9"))
	assert.Equal(t, int64(0), limits.Total())
}
