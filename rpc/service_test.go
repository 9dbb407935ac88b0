package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/zkmpc/ceremonyd/ceremony/types"
	"github.com/zkmpc/ceremonyd/db"
	"github.com/zkmpc/ceremonyd/params"
	"github.com/zkmpc/ceremonyd/storage"
	"github.com/zkmpc/ceremonyd/testing/require"
	"github.com/zkmpc/ceremonyd/time/clock"
)

var testSecret = []byte("test-jwt-secret")

type stubBlobs struct {
	buckets  []string
	presigns []string
	uploads  []string
}

func (f *stubBlobs) CreateBucket(_ context.Context, bucket string) error {
	f.buckets = append(f.buckets, bucket)
	return nil
}

func (f *stubBlobs) HeadObject(_ context.Context, _, _ string) (*storage.ObjectInfo, error) {
	return &storage.ObjectInfo{Size: 42, ETag: `"abc"`}, nil
}

func (f *stubBlobs) DeleteObject(_ context.Context, _, _ string) error { return nil }

func (f *stubBlobs) PresignGetURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	f.presigns = append(f.presigns, bucket+"/"+key)
	return "https://signed.example/" + key, nil
}

func (f *stubBlobs) Download(_ context.Context, _, _ string, _ io.WriterAt) error { return nil }

func (f *stubBlobs) Upload(_ context.Context, _, _ string, _ io.Reader, _ bool) error { return nil }

func (f *stubBlobs) StartMultipartUpload(_ context.Context, _, key string) (string, error) {
	f.uploads = append(f.uploads, key)
	return "upload-1", nil
}

func (f *stubBlobs) PresignUploadParts(_ context.Context, _, _, _ string, parts int, _ time.Duration) ([]string, error) {
	urls := make([]string, parts)
	for i := range urls {
		urls[i] = "https://signed.example/part"
	}
	return urls, nil
}

func (f *stubBlobs) CompleteMultipartUpload(_ context.Context, bucket, key, _ string, _ []types.Chunk) (string, error) {
	return bucket + "/" + key, nil
}

func setupAPI(t *testing.T) (*Service, db.Database, *stubBlobs, *clock.Simulated) {
	params.SetupTestConfigCleanup(t)
	cfg := params.DefaultConfig()
	cfg.EmailDomain = "zkmpc.example"
	params.OverrideCoordinatorConfig(cfg)

	c := clock.NewSimulated(time.UnixMilli(1_000_000))
	store, err := db.NewDatabase(context.Background(), t.TempDir(), c)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	blobs := &stubBlobs{}
	s := New(context.Background(), &Config{
		Host:      "127.0.0.1",
		Port:      "0",
		JWTSecret: testSecret,
		Database:  store,
		Blobs:     blobs,
		Clock:     c,
	})
	return s, store, blobs, c
}

func mintToken(t *testing.T, uid, email, role string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &apiClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func doJSON(t *testing.T, s *Service, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func seedOpenCeremony(t *testing.T, store db.Database) {
	b := store.NewBatch()
	b.SaveCeremony(&types.Ceremony{
		ID: "c1", Prefix: "groth16-test", State: types.CeremonyOpened,
		TimeoutType: types.TimeoutFixed, Penalty: 10,
	})
	b.SaveCircuit(&types.Circuit{
		ID: "k1", CeremonyID: "c1", Prefix: "mul2", SequencePosition: 1,
		Timeouts: types.TimeoutParams{FixedTimeWindow: 10},
	})
	require.NoError(t, store.ApplyBatch(context.Background(), b))
}

func TestAuth_RejectsMissingAndForgedTokens(t *testing.T) {
	s, store, _, _ := setupAPI(t)
	seedOpenCeremony(t, store)

	rec := doJSON(t, s, http.MethodPost, "/v1/participants/admit", "", ceremonyRequest{CeremonyID: "c1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	forged := mintToken(t, "alice", "", "")
	require.NotEqual(t, "", forged)
	rec = doJSON(t, s, http.MethodPost, "/v1/participants/admit", forged+"tampered", ceremonyRequest{CeremonyID: "c1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_CoordinatorByRoleAndByEmailDomain(t *testing.T) {
	require.Equal(t, true, isCoordinator(&apiClaims{Role: "coordinator"}))
	require.Equal(t, false, isCoordinator(&apiClaims{Email: "user@zkmpc.example"}))

	params.SetupTestConfigCleanup(t)
	cfg := params.DefaultConfig()
	cfg.EmailDomain = "zkmpc.example"
	params.OverrideCoordinatorConfig(cfg)
	require.Equal(t, true, isCoordinator(&apiClaims{Email: "user@zkmpc.example"}))
	require.Equal(t, false, isCoordinator(&apiClaims{Email: "user@elsewhere.example"}))
}
