package validator

import "time"

// rateWindow is a fixed-capacity ring of recent message timestamps. It
// never grows: once full, a push overwrites the oldest entry. Bounding the
// ring keeps per-connection memory constant no matter how hard a client
// hammers the socket.
type rateWindow struct {
	stamps []time.Time
	head   int
	size   int
}

func newRateWindow(capacity int) *rateWindow {
	return &rateWindow{stamps: make([]time.Time, capacity)}
}

// push records a timestamp and returns how many retained entries fall
// within the trailing window ending at now, including this one.
func (w *rateWindow) push(now time.Time, window time.Duration) int {
	w.stamps[w.head] = now
	w.head = (w.head + 1) % len(w.stamps)
	if w.size < len(w.stamps) {
		w.size++
	}

	cutoff := now.Add(-window)
	count := 0
	for i := 0; i < w.size; i++ {
		idx := (w.head - 1 - i + len(w.stamps)) % len(w.stamps)
		if w.stamps[idx].Before(cutoff) {
			// Entries are ordered newest-first from head; the rest are older.
			break
		}
		count++
	}
	return count
}
