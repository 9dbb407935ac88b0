package rpc

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/zkmpc/ceremonyd/network/httputil"
)

// listCeremonies returns every stored ceremony. Public.
func (s *Service) listCeremonies(w http.ResponseWriter, r *http.Request) {
	ceremonies, err := s.cfg.Database.Ceremonies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, ceremonies)
}

// listCircuits returns a ceremony's circuits in sequence order. Public.
func (s *Service) listCircuits(w http.ResponseWriter, r *http.Request) {
	ceremony, err := s.ceremony(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	circuits, err := s.cfg.Database.Circuits(r.Context(), ceremony.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJson(w, circuits)
}
