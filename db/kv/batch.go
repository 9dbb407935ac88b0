package kv

import (
	"context"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/db/iface"
	"github.com/zkmpc/ceremonyd/time/clock"
)

type opKind int

const (
	opCeremony opKind = iota
	opCircuit
	opParticipant
	opContribution
	opTimeout
)

type writeOp struct {
	kind    opKind
	key     []byte
	doc     interface{}
	guarded bool
	expect  int64
}

// batch collects document writes to be committed in one bolt transaction.
type batch struct {
	ops []writeOp
}

// NewBatch returns an empty write batch.
func (s *Store) NewBatch() iface.Batch {
	return &batch{}
}

// SaveCeremony stages an unconditional ceremony write.
func (b *batch) SaveCeremony(c *types.Ceremony) {
	b.ops = append(b.ops, writeOp{kind: opCeremony, key: []byte(c.ID), doc: c})
}

// SaveCircuit stages an unconditional circuit write.
func (b *batch) SaveCircuit(c *types.Circuit) {
	b.ops = append(b.ops, writeOp{kind: opCircuit, key: compositeKey(c.CeremonyID, c.ID), doc: c})
}

// SaveCircuitGuarded stages a circuit write that commits only if the stored
// document still carries the given LastUpdated value.
func (b *batch) SaveCircuitGuarded(c *types.Circuit, expectLastUpdated int64) {
	b.ops = append(b.ops, writeOp{
		kind: opCircuit, key: compositeKey(c.CeremonyID, c.ID), doc: c,
		guarded: true, expect: expectLastUpdated,
	})
}

// SaveParticipant stages an unconditional participant write.
func (b *batch) SaveParticipant(p *types.Participant) {
	b.ops = append(b.ops, writeOp{kind: opParticipant, key: compositeKey(p.CeremonyID, p.UserID), doc: p})
}

// SaveParticipantGuarded stages a participant write that commits only if the
// stored document still carries the given LastUpdated value.
func (b *batch) SaveParticipantGuarded(p *types.Participant, expectLastUpdated int64) {
	b.ops = append(b.ops, writeOp{
		kind: opParticipant, key: compositeKey(p.CeremonyID, p.UserID), doc: p,
		guarded: true, expect: expectLastUpdated,
	})
}

// SaveContribution stages a contribution write.
func (b *batch) SaveContribution(c *types.Contribution) {
	b.ops = append(b.ops, writeOp{kind: opContribution, key: compositeKey(c.CeremonyID, c.CircuitID, c.ID), doc: c})
}

// SaveTimeout stages a timeout write.
func (b *batch) SaveTimeout(t *types.Timeout) {
	b.ops = append(b.ops, writeOp{kind: opTimeout, key: compositeKey(t.CeremonyID, t.ParticipantID, t.ID), doc: t})
}

func bucketFor(kind opKind) []byte {
	switch kind {
	case opCeremony:
		return ceremoniesBucket
	case opCircuit:
		return circuitsBucket
	case opParticipant:
		return participantsBucket
	case opContribution:
		return contributionsBucket
	default:
		return timeoutsBucket
	}
}

// lastUpdated reads only the CAS token out of a stored document.
type lastUpdated struct {
	LastUpdated int64 `json:"lastUpdated"`
}

// ApplyBatch commits every staged write in a single transaction, stamping
// each document's LastUpdated with the current time. A guard miss aborts the
// whole batch with ErrConflict and leaves every target unchanged. Change
// events are emitted only after the transaction committed.
func (s *Store) ApplyBatch(ctx context.Context, ib iface.Batch) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.ApplyBatch")
	defer span.End()
	b, ok := ib.(*batch)
	if !ok {
		return errors.New("batch was not created by this store")
	}
	if len(b.ops) == 0 {
		return nil
	}
	now := clock.Millis(s.clock.Now())

	var participantChanges []iface.ParticipantChange
	var contributionEvents []iface.ContributionCreated

	err := s.db.Update(func(tx *bolt.Tx) error {
		for i := range b.ops {
			op := &b.ops[i]
			bkt := tx.Bucket(bucketFor(op.kind))
			prior := bkt.Get(op.key)
			if op.guarded {
				var current lastUpdated
				if prior != nil {
					if err := decode(prior, &current); err != nil {
						return err
					}
				}
				if current.LastUpdated != op.expect {
					return errors.Wrapf(ErrConflict, "key %q: lastUpdated %d, expected %d",
						op.key, current.LastUpdated, op.expect)
				}
			}
			switch doc := op.doc.(type) {
			case *types.Ceremony:
				doc.LastUpdated = now
			case *types.Circuit:
				doc.LastUpdated = now
			case *types.Participant:
				var before *types.Participant
				if prior != nil {
					before = &types.Participant{}
					if err := decode(prior, before); err != nil {
						return err
					}
				}
				doc.LastUpdated = now
				after := *doc
				participantChanges = append(participantChanges, iface.ParticipantChange{
					CeremonyID: doc.CeremonyID,
					Before:     before,
					After:      &after,
				})
			case *types.Contribution:
				doc.LastUpdated = now
				if prior == nil {
					created := *doc
					contributionEvents = append(contributionEvents, iface.ContributionCreated{Contribution: &created})
				}
			case *types.Timeout:
				doc.LastUpdated = now
			}
			enc, err := encode(op.doc)
			if err != nil {
				return err
			}
			if err := bkt.Put(op.key, enc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Delivery happens off the caller's goroutine: feed sends block until
	// every subscriber receives, and the scheduler commits batches from
	// inside its own subscription loop. Consumers re-read current state on
	// every event, so cross-batch delivery order does not matter.
	if len(participantChanges) > 0 || len(contributionEvents) > 0 {
		go func() {
			for _, change := range participantChanges {
				s.participantFeed.Send(change)
			}
			for _, ev := range contributionEvents {
				s.contributionFeed.Send(ev)
			}
		}()
	}
	return nil
}
