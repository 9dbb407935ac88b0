package rpc

import (
	"context"
	"net/http"
	"testing"

	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/params"
	"github.com/zkmpc/ceremonyd/testing/assert"
	"github.com/zkmpc/ceremonyd/testing/require"
)

func ceremonyBucket() string {
	return types.BucketName("groth16-test", params.CoordinatorConfig().BucketPostfix)
}

func TestCreateBucket_CoordinatorOnly(t *testing.T) {
	s, store, blobs, _ := setupAPI(t)
	seedOpenCeremony(t, store)

	user := mintToken(t, "alice", "alice@example.org", "")
	rec := doJSON(t, s, http.MethodPost, "/v1/storage/bucket", user, ceremonyRequest{CeremonyID: "c1"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, len(blobs.buckets))

	coordinator := mintToken(t, "coord", "coord@zkmpc.example", "")
	rec = doJSON(t, s, http.MethodPost, "/v1/storage/bucket", coordinator, ceremonyRequest{CeremonyID: "c1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, len(blobs.buckets))
	assert.Equal(t, ceremonyBucket(), blobs.buckets[0])
}

func TestPresignGet_RequiresCeremonyBucket(t *testing.T) {
	s, store, blobs, _ := setupAPI(t)
	seedOpenCeremony(t, store)
	token := mintToken(t, "alice", "", "")

	rec := doJSON(t, s, http.MethodPost, "/v1/storage/presign-get", token,
		objectRequest{BucketName: "some-random-bucket", ObjectKey: "x"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/storage/presign-get", token,
		objectRequest{BucketName: ceremonyBucket(), ObjectKey: "circuits/mul2/contributions/mul2_00001.zkey"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		URL string `json:"url"`
	}
	decodeInto(t, rec, &resp)
	require.NotEqual(t, "", resp.URL)
	require.Equal(t, 1, len(blobs.presigns))

	// Second call hits the ownership cache but still presigns.
	rec = doJSON(t, s, http.MethodPost, "/v1/storage/presign-get", token,
		objectRequest{BucketName: ceremonyBucket(), ObjectKey: "other"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, len(blobs.presigns))
}

func TestHeadObject(t *testing.T) {
	s, store, _, _ := setupAPI(t)
	seedOpenCeremony(t, store)
	token := mintToken(t, "alice", "", "")

	rec := doJSON(t, s, http.MethodPost, "/v1/storage/head-object", token,
		objectRequest{BucketName: ceremonyBucket(), ObjectKey: "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp headObjectResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, int64(42), resp.Size)
}

func seedUploadingParticipant(t *testing.T, s *Service, uid string) {
	store := s.cfg.Database
	b := store.NewBatch()
	b.SaveParticipant(&types.Participant{
		UserID: uid, CeremonyID: "c1",
		Status: types.StatusContributing, Step: types.StepUploading, Progress: 1,
	})
	require.NoError(t, store.ApplyBatch(context.Background(), b))
}

func TestStartMultipartUpload_KeyMustBeNextZkey(t *testing.T) {
	s, store, blobs, _ := setupAPI(t)
	seedOpenCeremony(t, store)
	seedUploadingParticipant(t, s, "alice")
	token := mintToken(t, "alice", "", "")

	rec := doJSON(t, s, http.MethodPost, "/v1/storage/multipart/start", token, multipartRequest{
		CeremonyID: "c1", BucketName: ceremonyBucket(),
		ObjectKey: types.ZkeyStoragePath("mul2", "00007"),
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/storage/multipart/start", token, multipartRequest{
		CeremonyID: "c1", BucketName: ceremonyBucket(),
		ObjectKey: types.ZkeyStoragePath("mul2", "00001"),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		UploadID string `json:"uploadId"`
	}
	decodeInto(t, rec, &resp)
	assert.Equal(t, "upload-1", resp.UploadID)
	require.Equal(t, 1, len(blobs.uploads))
}

func TestStartMultipartUpload_WrongBucketRejected(t *testing.T) {
	s, store, _, _ := setupAPI(t)
	seedOpenCeremony(t, store)
	seedUploadingParticipant(t, s, "alice")
	token := mintToken(t, "alice", "", "")

	rec := doJSON(t, s, http.MethodPost, "/v1/storage/multipart/start", token, multipartRequest{
		CeremonyID: "c1", BucketName: "not-the-bucket",
		ObjectKey: types.ZkeyStoragePath("mul2", "00001"),
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPresignParts_RequiresStoredUploadID(t *testing.T) {
	s, store, _, _ := setupAPI(t)
	seedOpenCeremony(t, store)
	token := mintToken(t, "alice", "", "")
	ctx := context.Background()

	b := store.NewBatch()
	b.SaveParticipant(&types.Participant{
		UserID: "alice", CeremonyID: "c1",
		Status: types.StatusContributing, Step: types.StepUploading, Progress: 1,
		TempData: types.TempContributionData{UploadID: "upload-1"},
	})
	require.NoError(t, store.ApplyBatch(ctx, b))

	rec := doJSON(t, s, http.MethodPost, "/v1/storage/multipart/presign-parts", token, multipartRequest{
		CeremonyID: "c1", BucketName: ceremonyBucket(),
		ObjectKey: types.ZkeyStoragePath("mul2", "00001"),
		UploadID:  "someone-elses-upload", Parts: 3,
	})
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/storage/multipart/presign-parts", token, multipartRequest{
		CeremonyID: "c1", BucketName: ceremonyBucket(),
		ObjectKey: types.ZkeyStoragePath("mul2", "00001"),
		UploadID:  "upload-1", Parts: 3,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		URLs []string `json:"urls"`
	}
	decodeInto(t, rec, &resp)
	assert.Equal(t, 3, len(resp.URLs))
}

func TestCompleteMultipartUpload_FallsBackToStoredChunks(t *testing.T) {
	s, store, _, _ := setupAPI(t)
	seedOpenCeremony(t, store)
	token := mintToken(t, "alice", "", "")
	ctx := context.Background()

	b := store.NewBatch()
	b.SaveParticipant(&types.Participant{
		UserID: "alice", CeremonyID: "c1",
		Status: types.StatusContributing, Step: types.StepUploading, Progress: 1,
		TempData: types.TempContributionData{
			UploadID: "upload-1",
			Chunks:   []types.Chunk{{ETag: `"e1"`, PartNumber: 1}},
		},
	})
	require.NoError(t, store.ApplyBatch(ctx, b))

	rec := doJSON(t, s, http.MethodPost, "/v1/storage/multipart/complete", token, multipartRequest{
		CeremonyID: "c1", BucketName: ceremonyBucket(),
		ObjectKey: types.ZkeyStoragePath("mul2", "00001"),
		UploadID:  "upload-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Location string `json:"location"`
	}
	decodeInto(t, rec, &resp)
	require.NotEqual(t, "", resp.Location)
}

func TestPublicListings(t *testing.T) {
	s, store, _, _ := setupAPI(t)
	seedOpenCeremony(t, store)

	rec := doJSON(t, s, http.MethodGet, "/v1/ceremonies", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ceremonies []*types.Ceremony
	decodeInto(t, rec, &ceremonies)
	require.Equal(t, 1, len(ceremonies))
	assert.Equal(t, "c1", ceremonies[0].ID)

	rec = doJSON(t, s, http.MethodGet, "/v1/ceremonies/c1/circuits", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var circuits []*types.Circuit
	decodeInto(t, rec, &circuits)
	require.Equal(t, 1, len(circuits))
	assert.Equal(t, "mul2", circuits[0].Prefix)

	rec = doJSON(t, s, http.MethodGet, "/v1/ceremonies/missing/circuits", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
