// Package iface defines the persistence interface of the coordinator and the
// change events its document store emits. Exists as a separate package to
// break circular dependencies between the store implementation and its
// consumers.
package iface

import (
	"context"
	"io"

	"github.com/zkmpc/ceremonyd/async/event"
	"github.com/zkmpc/ceremonyd/ceremony/types"
)

// ParticipantChange is emitted on the participant feed after every committed
// write of a participant document. Before is nil on creation. Delivery is
// at-least-once; consumers must tolerate redelivery.
type ParticipantChange struct {
	CeremonyID string
	Before     *types.Participant
	After      *types.Participant
}

// ContributionCreated is emitted on the contribution feed after a
// contribution document is first committed.
type ContributionCreated struct {
	Contribution *types.Contribution
}

// ReadOnlyDatabase exposes the coordinator's document reads. Getters return
// a nil document, and no error, when the target does not exist.
type ReadOnlyDatabase interface {
	Ceremony(ctx context.Context, id string) (*types.Ceremony, error)
	Ceremonies(ctx context.Context) ([]*types.Ceremony, error)
	CeremoniesInState(ctx context.Context, state types.CeremonyState) ([]*types.Ceremony, error)
	CeremonyByPrefix(ctx context.Context, prefix string) (*types.Ceremony, error)
	Circuit(ctx context.Context, ceremonyID, circuitID string) (*types.Circuit, error)
	Circuits(ctx context.Context, ceremonyID string) ([]*types.Circuit, error)
	CircuitAtPosition(ctx context.Context, ceremonyID string, position int) (*types.Circuit, error)
	Participant(ctx context.Context, ceremonyID, userID string) (*types.Participant, error)
	Participants(ctx context.Context, ceremonyID string) ([]*types.Participant, error)
	Contribution(ctx context.Context, ceremonyID, circuitID, id string) (*types.Contribution, error)
	Contributions(ctx context.Context, ceremonyID, circuitID string) ([]*types.Contribution, error)
	ContributionByZkeyIndex(ctx context.Context, ceremonyID, circuitID, zkeyIndex string) (*types.Contribution, error)
	Timeouts(ctx context.Context, ceremonyID, userID string) ([]*types.Timeout, error)
	HasActiveTimeout(ctx context.Context, ceremonyID, userID string, now int64) (bool, error)
}

// Batch is an ordered set of document writes committed atomically. Writes
// guarded with an expected LastUpdated value abort the whole batch with
// ErrConflict when the stored document was modified in between.
type Batch interface {
	SaveCeremony(c *types.Ceremony)
	SaveCircuit(c *types.Circuit)
	SaveCircuitGuarded(c *types.Circuit, expectLastUpdated int64)
	SaveParticipant(p *types.Participant)
	SaveParticipantGuarded(p *types.Participant, expectLastUpdated int64)
	SaveContribution(c *types.Contribution)
	SaveTimeout(t *types.Timeout)
}

// Database is the full persistence interface wired into coordinator services.
type Database interface {
	ReadOnlyDatabase
	io.Closer

	NewBatch() Batch
	ApplyBatch(ctx context.Context, b Batch) error

	SubscribeParticipantChanges(ch chan<- ParticipantChange) event.Subscription
	SubscribeContributions(ch chan<- ContributionCreated) event.Subscription

	Backup(ctx context.Context, outputDir string) error
	ClearDB() error
	DatabasePath() string
}
