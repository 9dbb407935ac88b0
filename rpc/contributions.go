package rpc

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/zkmpc/ceremonyd/ceremony/errs"
	"github.com/zkmpc/ceremonyd/ceremony/fsm"
	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/ceremony/verify"
	"github.com/zkmpc/ceremonyd/network/httputil"
	"github.com/zkmpc/ceremonyd/params"
)

type verifyRequest struct {
	CeremonyID string `json:"ceremonyId"`
	CircuitID  string `json:"circuitId"`
}

type verifyResponse struct {
	Valid                bool  `json:"valid"`
	VerifyTime           int64 `json:"verifyTime"`
	FullContributionTime int64 `json:"fullContributionTime"`
}

// verifyContribution runs the verification pipeline for the caller's pending
// contribution on the named circuit.
func (s *Service) verifyContribution(w http.ResponseWriter, r *http.Request, id *identity) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ceremony, err := s.ceremony(r.Context(), req.CeremonyID)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.cfg.Verifier.VerifyContribution(r.Context(), &verify.Request{
		CeremonyID:    ceremony.ID,
		CircuitID:     req.CircuitID,
		UserID:        id.UID,
		BucketName:    types.BucketName(ceremony.Prefix, params.CoordinatorConfig().BucketPostfix),
		IsCoordinator: id.IsCoordinator,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, &verifyResponse{
		Valid:                res.Valid,
		VerifyTime:           res.VerifyTime,
		FullContributionTime: res.FullContributionTime,
	})
}

// prepareForFinalization moves the coordinator's participant to FINALIZING
// once the ceremony closed and every circuit was contributed to.
func (s *Service) prepareForFinalization(w http.ResponseWriter, r *http.Request, id *identity) {
	if err := requireCoordinator(id); err != nil {
		writeError(w, err)
		return
	}
	var req ceremonyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	ceremony, err := s.ceremony(ctx, req.CeremonyID)
	if err != nil {
		writeError(w, err)
		return
	}
	participant, err := s.participant(ctx, ceremony.ID, id.UID)
	if err != nil {
		writeError(w, err)
		return
	}
	circuits, err := s.cfg.Database.Circuits(ctx, ceremony.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	expect := participant.LastUpdated
	if err := fsm.PrepareFinalization(participant, ceremony.State, len(circuits)); err != nil {
		writeError(w, err)
		return
	}
	batch := s.cfg.Database.NewBatch()
	batch.SaveParticipantGuarded(participant, expect)
	if err := s.cfg.Database.ApplyBatch(ctx, batch); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, struct{}{})
}

type finalizeCircuitRequest struct {
	CeremonyID string `json:"ceremonyId"`
	CircuitID  string `json:"circuitId"`
	Beacon     string `json:"beacon"`
}

// finalizeCircuit seals one circuit of a closed ceremony with the provided
// public randomness beacon.
func (s *Service) finalizeCircuit(w http.ResponseWriter, r *http.Request, id *identity) {
	if err := requireCoordinator(id); err != nil {
		writeError(w, err)
		return
	}
	var req finalizeCircuitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ceremony, err := s.ceremony(r.Context(), req.CeremonyID)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.cfg.Verifier.FinalizeCircuit(r.Context(), &verify.FinalizeCircuitRequest{
		CeremonyID:  ceremony.ID,
		CircuitID:   req.CircuitID,
		UserID:      id.UID,
		BucketName:  types.BucketName(ceremony.Prefix, params.CoordinatorConfig().BucketPostfix),
		BeaconValue: req.Beacon,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, struct{}{})
}

// finalizeCeremony closes the books: it requires a sealed final contribution
// on every circuit, then marks the coordinator FINALIZED and the ceremony
// FINALIZED in one batch.
func (s *Service) finalizeCeremony(w http.ResponseWriter, r *http.Request, id *identity) {
	if err := requireCoordinator(id); err != nil {
		writeError(w, err)
		return
	}
	var req ceremonyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	ceremony, err := s.ceremony(ctx, req.CeremonyID)
	if err != nil {
		writeError(w, err)
		return
	}
	participant, err := s.participant(ctx, ceremony.ID, id.UID)
	if err != nil {
		writeError(w, err)
		return
	}
	circuits, err := s.cfg.Database.Circuits(ctx, ceremony.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, circuit := range circuits {
		final, err := s.cfg.Database.ContributionByZkeyIndex(ctx, ceremony.ID, circuit.ID, types.FinalZkeyIndex)
		if err != nil {
			writeError(w, err)
			return
		}
		if final == nil || final.Beacon == nil {
			writeError(w, errors.Wrapf(errs.ErrFailedPrecondition,
				"circuit %q is not finalized yet", circuit.ID))
			return
		}
	}
	expect := participant.LastUpdated
	if err := fsm.CompleteFinalization(participant, ceremony.State); err != nil {
		writeError(w, err)
		return
	}
	finalized := *ceremony
	finalized.State = types.CeremonyFinalized

	batch := s.cfg.Database.NewBatch()
	batch.SaveParticipantGuarded(participant, expect)
	batch.SaveCeremony(&finalized)
	if err := s.cfg.Database.ApplyBatch(ctx, batch); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, struct{}{})
}
