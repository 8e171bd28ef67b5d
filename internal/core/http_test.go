package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AminBhst/brisk-engine/internal/testutil"
)

func TestServeMux_AddAndList(t *testing.T) {
	downloadServer := testutil.NewMockServerT(t, testutil.WithFileSize(2048), testutil.WithFilename("thing.bin"))
	service := newTestService(t)
	mux := NewServeMux(service)

	body := strings.NewReader(`{"url":"` + downloadServer.Server.URL + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/download", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var added map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	require.NotEmpty(t, added["id"])

	listReq := httptest.NewRequest(http.MethodGet, "/list", nil)
	listRec := httptest.NewRecorder()
	mux.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)
}

func TestServeMux_PauseRequiresID(t *testing.T) {
	service := newTestService(t)
	mux := NewServeMux(service)

	req := httptest.NewRequest(http.MethodPost, "/pause", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeMux_DeleteUnknownID(t *testing.T) {
	service := newTestService(t)
	mux := NewServeMux(service)

	req := httptest.NewRequest(http.MethodPost, "/delete?id=nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeMux_DownloadMethodNotAllowed(t *testing.T) {
	service := newTestService(t)
	mux := NewServeMux(service)

	req := httptest.NewRequest(http.MethodDelete, "/download", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
