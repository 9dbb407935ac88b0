package rpc

import (
	"net/http"

	"github.com/zkmpc/ceremonyd/ceremony/errs"
	"github.com/zkmpc/ceremonyd/network/httputil"
)

// writeError translates a typed operation error into the API's JSON error
// shape. Internal failures are logged but not echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	code := errs.HTTPStatus(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		log.WithError(err).Error("Request failed")
		message = "internal server error"
	}
	httputil.HandleError(w, message, code)
}
