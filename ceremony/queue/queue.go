// Package queue implements the per-circuit contributor queue as pure
// transformations. Every operation returns a new queue value plus the
// participant updates it decided on; callers persist both in a single atomic
// batch so observers never see a queue that disagrees with the participants
// it coordinates.
package queue

import (
	"github.com/zkmpc/ceremonyd/ceremony/types"
)

// Intent is a participant update decided by a queue operation. Zero-valued
// fields leave the corresponding participant field unchanged.
type Intent struct {
	UserID                string
	Status                types.ParticipantStatus
	Step                  types.ContributionStep
	ContributionStartedAt int64
}

func clone(q types.WaitingQueue) types.WaitingQueue {
	out := q
	out.Contributors = append([]string(nil), q.Contributors...)
	return out
}

func promotion(uid string, now int64) Intent {
	return Intent{
		UserID:                uid,
		Status:                types.StatusContributing,
		Step:                  types.StepDownloading,
		ContributionStartedAt: now,
	}
}

// Enroll appends uid to the queue. When the queue has no current contributor
// the newcomer is promoted immediately; otherwise it waits. Enrolling an id
// already present returns the queue unchanged with no intents, so redelivered
// admission events are harmless.
func Enroll(q types.WaitingQueue, uid string, now int64) (types.WaitingQueue, []Intent) {
	for _, c := range q.Contributors {
		if c == uid {
			return q, nil
		}
	}
	out := clone(q)
	out.Contributors = append(out.Contributors, uid)
	if out.CurrentContributor == "" {
		out.CurrentContributor = out.Contributors[0]
		return out, []Intent{promotion(out.CurrentContributor, now)}
	}
	return out, []Intent{{UserID: uid, Status: types.StatusWaiting}}
}

// ResumeAfterTimeout restarts the current contributor's attempt after an
// expired timeout. The queue itself is unchanged; only the contributor's
// clock restarts. A uid that is not the current contributor yields no
// intents.
func ResumeAfterTimeout(q types.WaitingQueue, uid string, now int64) (types.WaitingQueue, []Intent) {
	if q.CurrentContributor == "" || q.CurrentContributor != uid {
		return q, nil
	}
	return q, []Intent{promotion(uid, now)}
}

// CompleteHead pops the current contributor after their contribution was
// recorded and promotes the next waiter, if any. Contribution counters are
// not touched here; the verifier owns them.
func CompleteHead(q types.WaitingQueue, now int64) (types.WaitingQueue, []Intent) {
	if q.CurrentContributor == "" || len(q.Contributors) == 0 {
		return q, nil
	}
	out := clone(q)
	out.Contributors = out.Contributors[1:]
	if len(out.Contributors) > 0 {
		out.CurrentContributor = out.Contributors[0]
		return out, []Intent{promotion(out.CurrentContributor, now)}
	}
	out.CurrentContributor = ""
	return out, nil
}

// EvictHead removes the current contributor without a recorded contribution
// and promotes the next waiter, if any. An invalid eviction counts against
// the circuit's failed contributions. The evicted participant's own state
// change is the caller's responsibility.
func EvictHead(q types.WaitingQueue, wasValid bool, now int64) (types.WaitingQueue, []Intent) {
	if q.CurrentContributor == "" || len(q.Contributors) == 0 {
		return q, nil
	}
	out := clone(q)
	out.Contributors = out.Contributors[1:]
	if !wasValid {
		out.FailedContributions++
	}
	if len(out.Contributors) > 0 {
		out.CurrentContributor = out.Contributors[0]
		return out, []Intent{promotion(out.CurrentContributor, now)}
	}
	out.CurrentContributor = ""
	return out, nil
}
