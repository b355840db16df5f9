package logic

import "github.com/sweeney/field-logger/internal/clock"

// Propose offers candidate as the next state of tracker i. Without a
// debounce window it is classified immediately. Otherwise the candidate
// must be proposed continuously for Debounce milliseconds before the
// transition is committed. Returns true when a transition happened.
func (r *Registry) Propose(i, candidate int, now clock.Millis) bool {
	t := r.at(i)
	t.checkState(candidate)

	if t.Debounce == 0 {
		return r.Classify(i, candidate, now)
	}

	// Back at the stable state, drop any pending candidate
	if candidate == t.State {
		t.hasPending = false
		return false
	}

	if !t.hasPending || t.pending != candidate {
		t.pending = candidate
		t.pendingSince = now
		t.hasPending = true
		return false
	}

	if now.Since(t.pendingSince) >= t.Debounce {
		return r.Classify(i, candidate, now)
	}
	return false
}

// Pending returns the candidate state awaiting debounce for tracker i.
func (r *Registry) Pending(i int) (int, bool) {
	t := r.at(i)
	return t.pending, t.hasPending
}
