package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zkmpc/ceremonyd/testing/assert"
	"github.com/zkmpc/ceremonyd/testing/require"
)

func TestWriteJson(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJson(w, map[string]string{"step": "DOWNLOADING"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "DOWNLOADING", body["step"])
}

func TestHandleError(t *testing.T) {
	w := httptest.NewRecorder()
	HandleError(w, "document not found", http.StatusNotFound)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var errJson DefaultErrorJson
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errJson))
	assert.Equal(t, http.StatusNotFound, errJson.Code)
	assert.Equal(t, "document not found", errJson.Message)
}
