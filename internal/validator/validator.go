package validator

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/leadstream/leadstream/internal/domain"
	"github.com/leadstream/leadstream/internal/metrics"
)

const (
	maxMessageSize = 64 * 1024
	rateLimit      = 60
	rateInterval   = 60 * time.Second
	windowCapacity = 100
)

// denylist holds executable-content markers. A match anywhere in any
// string leaf rejects the whole message before intent dispatch.
var denylist = []string{
	"<script",
	"</script",
	"javascript:",
	"vbscript:",
	"data:text/html",
	"eval(",
	"settimeout(",
	"setinterval(",
	"onerror=",
	"onload=",
	"onclick=",
	"onmouseover=",
	"document.cookie",
	"document.write",
	"<iframe",
}

// activityRecorder is the slice of the gateway the validator needs: bump
// message_count and last_activity on an accepted message.
type activityRecorder interface {
	RecordActivity(connectionID uuid.UUID)
}

// Validator rate-limits and sanitizes inbound client messages. It owns
// the per-connection rate windows, keyed by connection id and destroyed
// with the connection.
type Validator struct {
	clock    clockwork.Clock
	recorder activityRecorder

	mu      sync.Mutex
	windows map[uuid.UUID]*rateWindow
}

func New(clock clockwork.Clock, recorder activityRecorder) *Validator {
	return &Validator{
		clock:    clock,
		recorder: recorder,
		windows:  make(map[uuid.UUID]*rateWindow),
	}
}

// Validate runs the full inbound pipeline: rate check, size check,
// structural check, content scan, intent decode. Every rejection is soft;
// the connection stays open.
func (v *Validator) Validate(connectionID uuid.UUID, raw []byte) (*domain.ClientMessage, *domain.ValidationError) {
	// The message counts toward the window even when rejected later, so
	// the limit is self-reinforcing.
	if count := v.recordMessage(connectionID); count > rateLimit {
		metrics.MessagesValidatedTotal.WithLabelValues(domain.CodeRateLimitExceeded).Inc()
		return nil, domain.NewValidationError(domain.CodeRateLimitExceeded,
			"rate limit exceeded: %d messages in %s", count, rateInterval)
	}

	if len(raw) > maxMessageSize {
		metrics.MessagesValidatedTotal.WithLabelValues(domain.CodeMessageTooLarge).Inc()
		return nil, domain.NewValidationError(domain.CodeMessageTooLarge,
			"message size %d exceeds %d bytes", len(raw), maxMessageSize)
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		metrics.MessagesValidatedTotal.WithLabelValues(domain.CodeInvalidFormat).Inc()
		return nil, domain.NewValidationError(domain.CodeInvalidFormat,
			"message must be a JSON object")
	}
	msgType, ok := body["type"].(string)
	if !ok || msgType == "" {
		metrics.MessagesValidatedTotal.WithLabelValues(domain.CodeInvalidFormat).Inc()
		return nil, domain.NewValidationError(domain.CodeInvalidFormat,
			"message requires a string 'type' field")
	}

	if marker := scanStrings(body); marker != "" {
		metrics.MessagesValidatedTotal.WithLabelValues(domain.CodeSuspiciousContent).Inc()
		return nil, domain.NewValidationError(domain.CodeSuspiciousContent,
			"message contains disallowed content")
	}

	msg := &domain.ClientMessage{}
	if err := json.Unmarshal(raw, msg); err != nil {
		metrics.MessagesValidatedTotal.WithLabelValues(domain.CodeInvalidFormat).Inc()
		return nil, domain.NewValidationError(domain.CodeInvalidFormat,
			"message fields have wrong types")
	}

	v.recorder.RecordActivity(connectionID)
	metrics.MessagesValidatedTotal.WithLabelValues("ok").Inc()
	return msg, nil
}

// PurgeConnection drops the connection's rate window. Part of the
// gateway's disconnect cascade.
func (v *Validator) PurgeConnection(connectionID uuid.UUID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.windows, connectionID)
}

func (v *Validator) recordMessage(connectionID uuid.UUID) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	w, ok := v.windows[connectionID]
	if !ok {
		w = newRateWindow(windowCapacity)
		v.windows[connectionID] = w
	}
	return w.push(v.clock.Now(), rateInterval)
}

// scanStrings walks every string leaf of the parsed body, including
// nested objects and arrays, and returns the first denylist marker hit.
func scanStrings(value any) string {
	switch typed := value.(type) {
	case string:
		lowered := strings.ToLower(typed)
		for _, marker := range denylist {
			if strings.Contains(lowered, marker) {
				return marker
			}
		}
	case map[string]any:
		for _, nested := range typed {
			if marker := scanStrings(nested); marker != "" {
				return marker
			}
		}
	case []any:
		for _, nested := range typed {
			if marker := scanStrings(nested); marker != "" {
				return marker
			}
		}
	}
	return ""
}
