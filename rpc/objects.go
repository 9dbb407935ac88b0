package rpc

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/zkmpc/ceremonyd/ceremony/errs"
	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/network/httputil"
	"github.com/zkmpc/ceremonyd/params"
)

// createBucket provisions the object storage bucket of a ceremony.
func (s *Service) createBucket(w http.ResponseWriter, r *http.Request, id *identity) {
	if err := requireCoordinator(id); err != nil {
		writeError(w, err)
		return
	}
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
	bucket := types.BucketName(ceremony.Prefix, params.CoordinatorConfig().BucketPostfix)
	if err := s.cfg.Blobs.CreateBucket(r.Context(), bucket); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, &struct {
		BucketName string `json:"bucketName"`
	}{BucketName: bucket})
}

type objectRequest struct {
	BucketName string `json:"bucketName"`
	ObjectKey  string `json:"objectKey"`
}

type headObjectResponse struct {
	Size int64  `json:"size"`
	ETag string `json:"eTag"`
}

func (s *Service) headObject(w http.ResponseWriter, r *http.Request, _ *identity) {
	var req objectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	info, err := s.cfg.Blobs.HeadObject(r.Context(), req.BucketName, req.ObjectKey)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, &headObjectResponse{Size: info.Size, ETag: info.ETag})
}

// presignGetObject hands out a short-lived download URL. Only buckets that
// belong to a known ceremony may be presigned.
func (s *Service) presignGetObject(w http.ResponseWriter, r *http.Request, _ *identity) {
	var req objectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.checkBucketOwnership(r.Context(), req.BucketName); err != nil {
		writeError(w, err)
		return
	}
	cfg := params.CoordinatorConfig()
	url, err := s.cfg.Blobs.PresignGetURL(r.Context(), req.BucketName, req.ObjectKey, cfg.PresignExpiration)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, &struct {
		URL string `json:"url"`
	}{URL: url})
}

// checkBucketOwnership rejects buckets that do not map onto a stored
// ceremony. Ownership rarely changes, so positive answers are cached.
func (s *Service) checkBucketOwnership(ctx context.Context, bucket string) error {
	if _, ok := s.bucketCache.Get(bucket); ok {
		return nil
	}
	prefix, ok := types.CeremonyPrefixFromBucket(bucket, params.CoordinatorConfig().BucketPostfix)
	if !ok {
		return errors.Wrapf(errs.ErrPermissionDenied, "bucket %q does not belong to a ceremony", bucket)
	}
	ceremony, err := s.cfg.Database.CeremonyByPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	if ceremony == nil {
		return errors.Wrapf(errs.ErrPermissionDenied, "bucket %q does not belong to a ceremony", bucket)
	}
	s.bucketCache.SetDefault(bucket, ceremony.ID)
	return nil
}

type multipartRequest struct {
	CeremonyID string        `json:"ceremonyId"`
	BucketName string        `json:"bucketName"`
	ObjectKey  string        `json:"objectKey"`
	UploadID   string        `json:"uploadId,omitempty"`
	Parts      int           `json:"parts,omitempty"`
	Chunks     []types.Chunk `json:"chunks,omitempty"`
}

// startMultipartUpload opens a multipart upload for the caller's next zkey.
func (s *Service) startMultipartUpload(w http.ResponseWriter, r *http.Request, id *identity) {
	var req multipartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.authorizeZkeyUpload(r.Context(), id, &req, false); err != nil {
		writeError(w, err)
		return
	}
	uploadID, err := s.cfg.Blobs.StartMultipartUpload(r.Context(), req.BucketName, req.ObjectKey)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, &struct {
		UploadID string `json:"uploadId"`
	}{UploadID: uploadID})
}

// presignUploadParts hands out one PUT URL per part of the caller's open
// multipart upload.
func (s *Service) presignUploadParts(w http.ResponseWriter, r *http.Request, id *identity) {
	var req multipartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Parts <= 0 {
		writeError(w, errors.Wrap(errs.ErrInvalidArgument, "parts must be positive"))
		return
	}
	if _, err := s.authorizeZkeyUpload(r.Context(), id, &req, true); err != nil {
		writeError(w, err)
		return
	}
	cfg := params.CoordinatorConfig()
	urls, err := s.cfg.Blobs.PresignUploadParts(
		r.Context(), req.BucketName, req.ObjectKey, req.UploadID, req.Parts, cfg.PresignExpiration)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, &struct {
		URLs []string `json:"urls"`
	}{URLs: urls})
}

// completeMultipartUpload assembles the uploaded parts into the zkey object.
func (s *Service) completeMultipartUpload(w http.ResponseWriter, r *http.Request, id *identity) {
	var req multipartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	participant, err := s.authorizeZkeyUpload(r.Context(), id, &req, true)
	if err != nil {
		writeError(w, err)
		return
	}
	chunks := req.Chunks
	if len(chunks) == 0 {
		chunks = participant.TempData.Chunks
	}
	location, err := s.cfg.Blobs.CompleteMultipartUpload(
		r.Context(), req.BucketName, req.ObjectKey, req.UploadID, chunks)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, &struct {
		Location string `json:"location"`
	}{Location: location})
}

// authorizeZkeyUpload checks that the caller may write the named object: a
// contributing participant at the UPLOADING step may only touch the next
// zkey of their current circuit, a finalizing coordinator only a circuit's
// final zkey. With matchUploadID set the request must also name the stored
// multipart upload id.
func (s *Service) authorizeZkeyUpload(ctx context.Context, id *identity, req *multipartRequest, matchUploadID bool) (*types.Participant, error) {
	ceremony, err := s.ceremony(ctx, req.CeremonyID)
	if err != nil {
		return nil, err
	}
	expectedBucket := types.BucketName(ceremony.Prefix, params.CoordinatorConfig().BucketPostfix)
	if req.BucketName != expectedBucket {
		return nil, errors.Wrapf(errs.ErrPermissionDenied,
			"bucket %q is not ceremony %q's bucket", req.BucketName, ceremony.ID)
	}
	participant, err := s.participant(ctx, ceremony.ID, id.UID)
	if err != nil {
		return nil, err
	}

	finalizing := id.IsCoordinator && participant.Status == types.StatusFinalizing
	if finalizing {
		if !s.isFinalZkeyKey(ctx, ceremony.ID, req.ObjectKey) {
			return nil, errors.Wrapf(errs.ErrPermissionDenied,
				"key %q is not a final zkey of ceremony %q", req.ObjectKey, ceremony.ID)
		}
	} else {
		if participant.Status != types.StatusContributing || participant.Step != types.StepUploading {
			return nil, errors.Wrapf(errs.ErrFailedPrecondition,
				"upload requires status %s at step %s, participant is %s at %s",
				types.StatusContributing, types.StepUploading, participant.Status, participant.Step)
		}
		circuit, err := s.cfg.Database.CircuitAtPosition(ctx, ceremony.ID, participant.Progress)
		if err != nil {
			return nil, err
		}
		if circuit == nil {
			return nil, errors.Wrapf(errs.ErrNotFound, "no circuit at position %d", participant.Progress)
		}
		next := types.ZkeyStoragePath(circuit.Prefix,
			types.FormatZkeyIndex(circuit.WaitingQueue.CompletedContributions+1))
		if req.ObjectKey != next {
			return nil, errors.Wrapf(errs.ErrPermissionDenied,
				"key %q is not the next zkey of circuit %q", req.ObjectKey, circuit.ID)
		}
	}

	if matchUploadID && participant.TempData.UploadID != req.UploadID {
		return nil, errors.Wrap(errs.ErrFailedPrecondition,
			"upload id does not match the stored multipart upload")
	}
	return participant, nil
}

func (s *Service) isFinalZkeyKey(ctx context.Context, ceremonyID, key string) bool {
	circuits, err := s.cfg.Database.Circuits(ctx, ceremonyID)
	if err != nil {
		log.WithError(err).Error("Could not list circuits for upload authorization")
		return false
	}
	for _, circuit := range circuits {
		if key == types.ZkeyStoragePath(circuit.Prefix, types.FinalZkeyIndex) {
			return true
		}
	}
	return false
}
