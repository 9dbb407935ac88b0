// Package rpc exposes the coordinator's HTTP JSON API: participant lifecycle
// operations, contribution verification, finalization and the object storage
// facade. Requests authenticate with a bearer JWT; a small set of read-only
// ceremony listings is public.
package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/zkmpc/ceremonyd/ceremony/verify"
	"github.com/zkmpc/ceremonyd/db"
	"github.com/zkmpc/ceremonyd/storage"
	"github.com/zkmpc/ceremonyd/time/clock"
)

var log = logrus.WithField("prefix", "rpc")

// Config holds the API service's dependencies and listen address.
type Config struct {
	Host      string
	Port      string
	JWTSecret []byte
	Database  db.Database
	Blobs     storage.BlobStore
	Verifier  *verify.Verifier
	Clock     clock.Clock
}

// Service serves the coordinator HTTP API.
type Service struct {
	cfg         *Config
	ctx         context.Context
	cancel      context.CancelFunc
	server      *http.Server
	router      *mux.Router
	bucketCache *cache.Cache
}

// New creates the API service and registers every route.
func New(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		// Bucket ownership rarely changes; cache lookups briefly.
		bucketCache: cache.New(5*time.Minute, 10*time.Minute),
	}
	s.router = s.newRouter()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Service) newRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/participants/admit", s.authed(s.admitParticipant)).Methods(http.MethodPost)
	r.HandleFunc("/v1/participants/advance-circuit", s.authed(s.advanceCircuit)).Methods(http.MethodPost)
	r.HandleFunc("/v1/participants/advance-step", s.authed(s.advanceStep)).Methods(http.MethodPost)
	r.HandleFunc("/v1/participants/contribution", s.authed(s.storeContributionRecord)).Methods(http.MethodPost)
	r.HandleFunc("/v1/participants/multipart/upload-id", s.authed(s.storeMultipartUploadID)).Methods(http.MethodPost)
	r.HandleFunc("/v1/participants/multipart/chunk", s.authed(s.storeUploadedChunk)).Methods(http.MethodPost)
	r.HandleFunc("/v1/participants/resume", s.authed(s.resumeAfterTimeout)).Methods(http.MethodPost)

	r.HandleFunc("/v1/contributions/verify", s.authed(s.verifyContribution)).Methods(http.MethodPost)
	r.HandleFunc("/v1/finalize/prepare", s.authed(s.prepareForFinalization)).Methods(http.MethodPost)
	r.HandleFunc("/v1/finalize/circuit", s.authed(s.finalizeCircuit)).Methods(http.MethodPost)
	r.HandleFunc("/v1/finalize/ceremony", s.authed(s.finalizeCeremony)).Methods(http.MethodPost)

	r.HandleFunc("/v1/storage/bucket", s.authed(s.createBucket)).Methods(http.MethodPost)
	r.HandleFunc("/v1/storage/head-object", s.authed(s.headObject)).Methods(http.MethodPost)
	r.HandleFunc("/v1/storage/presign-get", s.authed(s.presignGetObject)).Methods(http.MethodPost)
	r.HandleFunc("/v1/storage/multipart/start", s.authed(s.startMultipartUpload)).Methods(http.MethodPost)
	r.HandleFunc("/v1/storage/multipart/presign-parts", s.authed(s.presignUploadParts)).Methods(http.MethodPost)
	r.HandleFunc("/v1/storage/multipart/complete", s.authed(s.completeMultipartUpload)).Methods(http.MethodPost)

	r.HandleFunc("/v1/ceremonies", s.listCeremonies).Methods(http.MethodGet)
	r.HandleFunc("/v1/ceremonies/{id}/circuits", s.listCircuits).Methods(http.MethodGet)

	return r
}

// Start the HTTP server.
func (s *Service) Start() {
	log.WithField("address", s.server.Addr).Info("Starting API server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("API server failed")
		}
	}()
}

// Stop the HTTP server, draining in-flight requests briefly.
func (s *Service) Stop() error {
	defer s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status of the API service.
func (s *Service) Status() error {
	return nil
}
