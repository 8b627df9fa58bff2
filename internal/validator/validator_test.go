package validator

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadstream/leadstream/internal/domain"
)

type fakeRecorder struct {
	mu    sync.Mutex
	count int
}

func (r *fakeRecorder) RecordActivity(uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func (r *fakeRecorder) recorded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func TestValidate_AcceptsWellFormedMessage(t *testing.T) {
	recorder := &fakeRecorder{}
	v := New(clockwork.NewFakeClock(), recorder)
	connID := uuid.New()

	msg, verr := v.Validate(connID, []byte(`{"type":"subscribe_lead","lead_id":"lead-42"}`))
	require.Nil(t, verr)
	assert.Equal(t, domain.ClientSubscribeLead, msg.Type)
	assert.Equal(t, "lead-42", msg.LeadID)
	assert.Equal(t, 1, recorder.recorded())
}

func TestValidate_RateLimitSixtyFirstMessage(t *testing.T) {
	clock := clockwork.NewFakeClock()
	recorder := &fakeRecorder{}
	v := New(clock, recorder)
	connID := uuid.New()

	for i := 0; i < 60; i++ {
		_, verr := v.Validate(connID, []byte(`{"type":"ping"}`))
		require.Nil(t, verr, "message %d should pass", i+1)
	}

	_, verr := v.Validate(connID, []byte(`{"type":"ping"}`))
	require.NotNil(t, verr)
	assert.Equal(t, domain.CodeRateLimitExceeded, verr.Code)

	// The window slides: a minute later the same connection is clean again.
	clock.Advance(61 * time.Second)
	_, verr = v.Validate(connID, []byte(`{"type":"ping"}`))
	assert.Nil(t, verr)
}

func TestValidate_RateWindowIsPerConnection(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := New(clock, &fakeRecorder{})
	busy, quiet := uuid.New(), uuid.New()

	for i := 0; i < 61; i++ {
		v.Validate(busy, []byte(`{"type":"ping"}`))
	}

	_, verr := v.Validate(quiet, []byte(`{"type":"ping"}`))
	assert.Nil(t, verr)
}

func TestValidate_OversizedMessage(t *testing.T) {
	v := New(clockwork.NewFakeClock(), &fakeRecorder{})

	padding := strings.Repeat("x", maxMessageSize)
	raw := fmt.Sprintf(`{"type":"ping","padding":%q}`, padding)

	_, verr := v.Validate(uuid.New(), []byte(raw))
	require.NotNil(t, verr)
	assert.Equal(t, domain.CodeMessageTooLarge, verr.Code)
}

func TestValidate_MalformedPayloads(t *testing.T) {
	v := New(clockwork.NewFakeClock(), &fakeRecorder{})

	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `this is not json`},
		{"json array", `["ping"]`},
		{"json scalar", `"ping"`},
		{"missing type", `{"lead_id":"lead-1"}`},
		{"non-string type", `{"type":42}`},
		{"empty type", `{"type":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, verr := v.Validate(uuid.New(), []byte(tc.raw))
			require.NotNil(t, verr)
			assert.Equal(t, domain.CodeInvalidFormat, verr.Code)
		})
	}
}

func TestValidate_DenylistScansNestedStrings(t *testing.T) {
	v := New(clockwork.NewFakeClock(), &fakeRecorder{})

	cases := []struct {
		name string
		raw  string
	}{
		{"top level", `{"type":"ping","note":"<script>alert(1)</script>"}`},
		{"mixed case", `{"type":"ping","note":"<ScRiPt>alert(1)"}`},
		{"nested object", `{"type":"ping","meta":{"inner":{"js":"javascript:void(0)"}}}`},
		{"inside array", `{"type":"ping","tags":["clean","eval(payload)"]}`},
		{"event handler", `{"type":"ping","html":"<img onerror=steal()>"}`},
		{"cookie access", `{"type":"ping","x":"document.cookie"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, verr := v.Validate(uuid.New(), []byte(tc.raw))
			require.NotNil(t, verr)
			assert.Equal(t, domain.CodeSuspiciousContent, verr.Code)
		})
	}

	// Benign text that merely mentions scripting is fine.
	_, verr := v.Validate(uuid.New(), []byte(`{"type":"ping","note":"our scripting team"}`))
	assert.Nil(t, verr)
}

func TestValidate_RejectionsStillCountTowardWindow(t *testing.T) {
	v := New(clockwork.NewFakeClock(), &fakeRecorder{})
	connID := uuid.New()

	for i := 0; i < 60; i++ {
		_, verr := v.Validate(connID, []byte(`not json`))
		require.NotNil(t, verr)
		assert.Equal(t, domain.CodeInvalidFormat, verr.Code)
	}

	// 61st is refused on rate grounds before the format check runs.
	_, verr := v.Validate(connID, []byte(`not json`))
	require.NotNil(t, verr)
	assert.Equal(t, domain.CodeRateLimitExceeded, verr.Code)
}

func TestValidate_RejectionDoesNotRecordActivity(t *testing.T) {
	recorder := &fakeRecorder{}
	v := New(clockwork.NewFakeClock(), recorder)

	v.Validate(uuid.New(), []byte(`not json`))
	assert.Equal(t, 0, recorder.recorded())
}

func TestPurgeConnection_ResetsWindow(t *testing.T) {
	v := New(clockwork.NewFakeClock(), &fakeRecorder{})
	connID := uuid.New()

	for i := 0; i < 61; i++ {
		v.Validate(connID, []byte(`{"type":"ping"}`))
	}
	_, verr := v.Validate(connID, []byte(`{"type":"ping"}`))
	require.NotNil(t, verr)

	v.PurgeConnection(connID)

	_, verr = v.Validate(connID, []byte(`{"type":"ping"}`))
	assert.Nil(t, verr)
}

func TestRateWindow_EvictsOutsideInterval(t *testing.T) {
	w := newRateWindow(5)
	base := time.Unix(1000, 0)

	for i := 0; i < 5; i++ {
		w.push(base.Add(time.Duration(i)*time.Second), time.Minute)
	}
	// Capacity wraps: the oldest entry falls off the ring.
	assert.Equal(t, 5, w.push(base.Add(5*time.Second), time.Minute))

	// Everything ages out after the interval passes.
	assert.Equal(t, 1, w.push(base.Add(2*time.Minute), time.Minute))
}
