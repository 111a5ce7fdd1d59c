package wsbridge

import "github.com/grovetools/companion/pkg/models"

// replayRing is an append-only, capacity-bounded FIFO of recently
// delivered envelopes, generalized from the teacher's
// internal/daemon/store.Store bounded-channel-with-drop shape into a
// slice-backed structure a late subscriber can binary-search by seq.
type replayRing struct {
	capacity int
	entries  []models.Envelope // ordered by seq ascending
}

func newReplayRing(capacity int) *replayRing {
	return &replayRing{capacity: capacity, entries: make([]models.Envelope, 0, capacity)}
}

// Append adds env, evicting the oldest entry once capacity is exceeded.
func (r *replayRing) Append(env models.Envelope) {
	r.entries = append(r.entries, env)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
}

// OldestSeq returns the seq of the oldest retained entry, or 0 if empty.
func (r *replayRing) OldestSeq() int64 {
	if len(r.entries) == 0 {
		return 0
	}
	return r.entries[0].Seq
}

// LatestSeq returns the seq of the newest entry, or 0 if empty.
func (r *replayRing) LatestSeq() int64 {
	if len(r.entries) == 0 {
		return 0
	}
	return r.entries[len(r.entries)-1].Seq
}

// Contains reports whether seq is within the ring's retained range,
// i.e. a client at lastSeq can receive a gap-free tail.
func (r *replayRing) Contains(lastSeq int64) bool {
	if len(r.entries) == 0 {
		return lastSeq == 0
	}
	return lastSeq >= r.OldestSeq()-1 && lastSeq <= r.LatestSeq()
}

// Since returns every entry with Seq > lastSeq, in order.
func (r *replayRing) Since(lastSeq int64) []models.Envelope {
	var out []models.Envelope
	for _, e := range r.entries {
		if e.Seq > lastSeq {
			out = append(out, e)
		}
	}
	return out
}

// Tail returns the n most recent entries, for best-effort history
// rehydration when a subscriber's cursor has already fallen out of
// the ring.
func (r *replayRing) Tail(n int) []models.Envelope {
	if n >= len(r.entries) {
		return append([]models.Envelope{}, r.entries...)
	}
	return append([]models.Envelope{}, r.entries[len(r.entries)-n:]...)
}
