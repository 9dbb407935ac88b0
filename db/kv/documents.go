package kv

import (
	"bytes"
	"context"
	"sort"

	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/zkmpc/ceremonyd/ceremony/types"
)

// Ceremony retrieves a ceremony document by id, nil when absent.
func (s *Store) Ceremony(ctx context.Context, id string) (*types.Ceremony, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Ceremony")
	defer span.End()
	var c *types.Ceremony
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(ceremoniesBucket).Get([]byte(id))
		if enc == nil {
			return nil
		}
		c = &types.Ceremony{}
		return decode(enc, c)
	})
	return c, err
}

// Ceremonies retrieves every ceremony document.
func (s *Store) Ceremonies(ctx context.Context) ([]*types.Ceremony, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Ceremonies")
	defer span.End()
	var out []*types.Ceremony
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(ceremoniesBucket).ForEach(func(_, v []byte) error {
			c := &types.Ceremony{}
			if err := decode(v, c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CeremoniesInState retrieves every ceremony currently in the given state.
func (s *Store) CeremoniesInState(ctx context.Context, state types.CeremonyState) ([]*types.Ceremony, error) {
	all, err := s.Ceremonies(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]*types.Ceremony, 0, len(all))
	for _, c := range all {
		if c.State == state {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// CeremonyByPrefix retrieves the ceremony with the given bucket prefix, nil
// when none matches. Prefixes are unique across ceremonies.
func (s *Store) CeremonyByPrefix(ctx context.Context, prefix string) (*types.Ceremony, error) {
	all, err := s.Ceremonies(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if c.Prefix == prefix {
			return c, nil
		}
	}
	return nil, nil
}

// Circuit retrieves one circuit document of a ceremony, nil when absent.
func (s *Store) Circuit(ctx context.Context, ceremonyID, circuitID string) (*types.Circuit, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Circuit")
	defer span.End()
	var c *types.Circuit
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(circuitsBucket).Get(compositeKey(ceremonyID, circuitID))
		if enc == nil {
			return nil
		}
		c = &types.Circuit{}
		return decode(enc, c)
	})
	return c, err
}

// Circuits retrieves every circuit of a ceremony ordered by sequence
// position.
func (s *Store) Circuits(ctx context.Context, ceremonyID string) ([]*types.Circuit, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Circuits")
	defer span.End()
	var out []*types.Circuit
	prefix := prefixKey(ceremonyID)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(circuitsBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			circuit := &types.Circuit{}
			if err := decode(v, circuit); err != nil {
				return err
			}
			out = append(out, circuit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequencePosition < out[j].SequencePosition })
	return out, nil
}

// CircuitAtPosition retrieves the circuit with the given 1-based sequence
// position, nil when none matches.
func (s *Store) CircuitAtPosition(ctx context.Context, ceremonyID string, position int) (*types.Circuit, error) {
	circuits, err := s.Circuits(ctx, ceremonyID)
	if err != nil {
		return nil, err
	}
	for _, c := range circuits {
		if c.SequencePosition == position {
			return c, nil
		}
	}
	return nil, nil
}

// Participant retrieves one participant document of a ceremony, nil when
// absent.
func (s *Store) Participant(ctx context.Context, ceremonyID, userID string) (*types.Participant, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Participant")
	defer span.End()
	var p *types.Participant
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(participantsBucket).Get(compositeKey(ceremonyID, userID))
		if enc == nil {
			return nil
		}
		p = &types.Participant{}
		return decode(enc, p)
	})
	return p, err
}

// Participants retrieves every participant of a ceremony.
func (s *Store) Participants(ctx context.Context, ceremonyID string) ([]*types.Participant, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Participants")
	defer span.End()
	var out []*types.Participant
	prefix := prefixKey(ceremonyID)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(participantsBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			p := &types.Participant{}
			if err := decode(v, p); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// Contribution retrieves one contribution document, nil when absent.
func (s *Store) Contribution(ctx context.Context, ceremonyID, circuitID, id string) (*types.Contribution, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Contribution")
	defer span.End()
	var c *types.Contribution
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(contributionsBucket).Get(compositeKey(ceremonyID, circuitID, id))
		if enc == nil {
			return nil
		}
		c = &types.Contribution{}
		return decode(enc, c)
	})
	return c, err
}

// Contributions retrieves every contribution of a circuit in creation order.
func (s *Store) Contributions(ctx context.Context, ceremonyID, circuitID string) ([]*types.Contribution, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Contributions")
	defer span.End()
	var out []*types.Contribution
	prefix := prefixKey(ceremonyID, circuitID)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(contributionsBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			doc := &types.Contribution{}
			if err := decode(v, doc); err != nil {
				return err
			}
			out = append(out, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated < out[j].LastUpdated })
	return out, nil
}

// ContributionByZkeyIndex retrieves the contribution of a circuit holding the
// given zkey index, nil when none matches.
func (s *Store) ContributionByZkeyIndex(ctx context.Context, ceremonyID, circuitID, zkeyIndex string) (*types.Contribution, error) {
	all, err := s.Contributions(ctx, ceremonyID, circuitID)
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if c.ZkeyIndex == zkeyIndex {
			return c, nil
		}
	}
	return nil, nil
}

// Timeouts retrieves every timeout document of a participant.
func (s *Store) Timeouts(ctx context.Context, ceremonyID, userID string) ([]*types.Timeout, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Timeouts")
	defer span.End()
	var out []*types.Timeout
	prefix := prefixKey(ceremonyID, userID)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(timeoutsBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			t := &types.Timeout{}
			if err := decode(v, t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	return out, err
}

// HasActiveTimeout reports whether any timeout of the participant is still
// running at the given instant.
func (s *Store) HasActiveTimeout(ctx context.Context, ceremonyID, userID string, now int64) (bool, error) {
	timeouts, err := s.Timeouts(ctx, ceremonyID, userID)
	if err != nil {
		return false, err
	}
	for _, t := range timeouts {
		if t.EndDate >= now {
			return true, nil
		}
	}
	return false, nil
}
