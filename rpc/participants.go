package rpc

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/zkmpc/ceremonyd/ceremony/errs"
	"github.com/zkmpc/ceremonyd/ceremony/fsm"
	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/network/httputil"
	"github.com/zkmpc/ceremonyd/time/clock"
)

type ceremonyRequest struct {
	CeremonyID string `json:"ceremonyId"`
}

type admitResponse struct {
	CanContribute bool `json:"canContribute"`
}

// admitParticipant registers the caller with an open ceremony, or answers
// whether an already known caller may keep contributing.
func (s *Service) admitParticipant(w http.ResponseWriter, r *http.Request, id *identity) {
	var req ceremonyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ceremony, err := s.ceremony(r.Context(), req.CeremonyID)
	if err != nil {
		writeError(w, err)
		return
	}
	existing, err := s.cfg.Database.Participant(r.Context(), ceremony.ID, id.UID)
	if err != nil {
		writeError(w, err)
		return
	}
	hasLiveTimeout := false
	if existing != nil && existing.Status == types.StatusTimedout {
		hasLiveTimeout, err = s.cfg.Database.HasActiveTimeout(
			r.Context(), ceremony.ID, id.UID, clock.Millis(s.cfg.Clock.Now()))
		if err != nil {
			writeError(w, err)
			return
		}
	}
	result, err := fsm.Admit(ceremony, existing, id.UID, hasLiveTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Participant != nil {
		batch := s.cfg.Database.NewBatch()
		if result.Created {
			batch.SaveParticipant(result.Participant)
		} else {
			batch.SaveParticipantGuarded(result.Participant, existing.LastUpdated)
		}
		if err := s.cfg.Database.ApplyBatch(r.Context(), batch); err != nil {
			writeError(w, err)
			return
		}
	}
	httputil.WriteJson(w, &admitResponse{CanContribute: result.CanContribute})
}

// advanceCircuit moves the caller to READY for the next circuit in sequence.
func (s *Service) advanceCircuit(w http.ResponseWriter, r *http.Request, id *identity) {
	s.mutateParticipant(w, r, id, func(ctx context.Context, p *types.Participant) error {
		circuits, err := s.cfg.Database.Circuits(ctx, p.CeremonyID)
		if err != nil {
			return err
		}
		return fsm.AdvanceCircuit(p, len(circuits))
	}, nil)
}

type advanceStepResponse struct {
	Step types.ContributionStep `json:"step"`
}

// advanceStep moves the caller's contribution attempt one step forward.
func (s *Service) advanceStep(w http.ResponseWriter, r *http.Request, id *identity) {
	var step types.ContributionStep
	s.mutateParticipant(w, r, id, func(_ context.Context, p *types.Participant) error {
		var err error
		step, err = fsm.AdvanceStep(p, clock.Millis(s.cfg.Clock.Now()))
		return err
	}, func() interface{} {
		return &advanceStepResponse{Step: step}
	})
}

type contributionRecordRequest struct {
	CeremonyID      string `json:"ceremonyId"`
	Hash            string `json:"hash"`
	ComputationTime int64  `json:"computationTime"`
}

// storeContributionRecord appends the caller-computed zkey hash and timing as
// the pending contribution entry awaiting verification.
func (s *Service) storeContributionRecord(w http.ResponseWriter, r *http.Request, id *identity) {
	var req contributionRecordRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Hash == "" {
		writeError(w, errors.Wrap(errs.ErrInvalidArgument, "missing contribution hash"))
		return
	}
	s.mutateParticipantIn(w, r, id, req.CeremonyID, func(_ context.Context, p *types.Participant) error {
		return fsm.RecordContribution(p, id.IsCoordinator, req.Hash, req.ComputationTime)
	}, nil)
}

type uploadIDRequest struct {
	CeremonyID string `json:"ceremonyId"`
	UploadID   string `json:"uploadId"`
}

func (s *Service) storeMultipartUploadID(w http.ResponseWriter, r *http.Request, id *identity) {
	var req uploadIDRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.mutateParticipantIn(w, r, id, req.CeremonyID, func(_ context.Context, p *types.Participant) error {
		return fsm.SetMultipartUpload(p, id.IsCoordinator, req.UploadID)
	}, nil)
}

type chunkRequest struct {
	CeremonyID string      `json:"ceremonyId"`
	Chunk      types.Chunk `json:"chunk"`
}

func (s *Service) storeUploadedChunk(w http.ResponseWriter, r *http.Request, id *identity) {
	var req chunkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.mutateParticipantIn(w, r, id, req.CeremonyID, func(_ context.Context, p *types.Participant) error {
		return fsm.AppendChunk(p, id.IsCoordinator, req.Chunk)
	}, nil)
}

// resumeAfterTimeout moves an exhumed caller back to READY on their circuit.
func (s *Service) resumeAfterTimeout(w http.ResponseWriter, r *http.Request, id *identity) {
	s.mutateParticipant(w, r, id, func(_ context.Context, p *types.Participant) error {
		return fsm.Resume(p)
	}, nil)
}

// mutateParticipant decodes a plain ceremony request and applies fn to the
// caller's participant document under a compare-and-set guard.
func (s *Service) mutateParticipant(
	w http.ResponseWriter, r *http.Request, id *identity,
	fn func(ctx context.Context, p *types.Participant) error,
	respond func() interface{},
) {
	var req ceremonyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.mutateParticipantIn(w, r, id, req.CeremonyID, fn, respond)
}

func (s *Service) mutateParticipantIn(
	w http.ResponseWriter, r *http.Request, id *identity, ceremonyID string,
	fn func(ctx context.Context, p *types.Participant) error,
	respond func() interface{},
) {
	ctx := r.Context()
	participant, err := s.participant(ctx, ceremonyID, id.UID)
	if err != nil {
		writeError(w, err)
		return
	}
	expect := participant.LastUpdated
	if err := fn(ctx, participant); err != nil {
		writeError(w, err)
		return
	}
	batch := s.cfg.Database.NewBatch()
	batch.SaveParticipantGuarded(participant, expect)
	if err := s.cfg.Database.ApplyBatch(ctx, batch); err != nil {
		writeError(w, err)
		return
	}
	if respond != nil {
		httputil.WriteJson(w, respond())
		return
	}
	httputil.WriteJson(w, struct{}{})
}

func (s *Service) ceremony(ctx context.Context, id string) (*types.Ceremony, error) {
	if id == "" {
		return nil, errors.Wrap(errs.ErrInvalidArgument, "missing ceremony id")
	}
	ceremony, err := s.cfg.Database.Ceremony(ctx, id)
	if err != nil {
		return nil, err
	}
	if ceremony == nil {
		return nil, errors.Wrapf(errs.ErrNotFound, "ceremony %q", id)
	}
	return ceremony, nil
}

func (s *Service) participant(ctx context.Context, ceremonyID, uid string) (*types.Participant, error) {
	if ceremonyID == "" {
		return nil, errors.Wrap(errs.ErrInvalidArgument, "missing ceremony id")
	}
	participant, err := s.cfg.Database.Participant(ctx, ceremonyID, uid)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, errors.Wrapf(errs.ErrNotFound, "participant %q", uid)
	}
	return participant, nil
}
