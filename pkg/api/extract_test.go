// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/sessionboot/pkg/apiresponses"
	"github.com/telekom/sessionboot/pkg/config"
	"github.com/telekom/sessionboot/pkg/extractor"
	"github.com/telekom/sessionboot/pkg/tokencache"
)

const brokenDocument = "%broken"

// plainTextConverter treats uploads as text already.
type plainTextConverter struct{}

func (plainTextConverter) Text(_ context.Context, document io.Reader) (string, error) {
	raw, err := io.ReadAll(document)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(string(raw), brokenDocument) {
		return "", errors.New("Unrecoverable error, exit code 1")
	}
	return string(raw), nil
}

func (ts *testServer) upload(t *testing.T, field, content string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile(field, "sdb.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/extract", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func (ts *testServer) bearer(t *testing.T) http.Header {
	t.Helper()
	header := http.Header{}
	header.Set(AuthHeaderKey, "Bearer "+ts.provider.AccessToken(t, testAudience, time.Hour))
	return header
}

const sampleSheet = `1.1 Produktidentifikator
Handelsname: Natriumhydroxid
Signalwort
Gefahr
H290 Kann gegenüber Metallen korrosiv sein.
H314 Verursacht schwere Verätzungen der Haut.
P280 Schutzhandschuhe tragen.
P303+P361+P353 BEI BERÜHRUNG MIT DER HAUT: Sofort ausziehen.
Lagerklasse 8B
WGK 1
`

func TestServer_Extract(t *testing.T) {
	ts := newTestServer(t)

	w := ts.upload(t, UploadField, sampleSheet, ts.bearer(t))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "natriumhydroxid", got["bezeichnung"])
	assert.Equal(t, "Gefahr", got["signalwort"])
	assert.Equal(t, "8B", got["lagerklasse"])
	assert.Equal(t, "1", got["wgk"])
	assert.Equal(t, []any{"H290", "H314"}, got["hSaezte"])
	assert.Equal(t, []any{"P280", "P303+P361+P353"}, got["pSaezte"])
}

func TestServer_ExtractRejected(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.Extract.MaxUploadBytes = 1024
	})

	tests := []struct {
		name       string
		field      string
		content    string
		header     http.Header
		wantStatus int
		wantCode   string
	}{
		{name: "no token", field: UploadField, content: sampleSheet, wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "wrong field", field: "document", content: sampleSheet, header: ts.bearer(t), wantStatus: http.StatusBadRequest, wantCode: "BAD_REQUEST"},
		{name: "too large", field: UploadField, content: strings.Repeat("x", 4096), header: ts.bearer(t), wantStatus: http.StatusRequestEntityTooLarge, wantCode: "REQUEST_TOO_LARGE"},
		{name: "conversion fails", field: UploadField, content: brokenDocument, header: ts.bearer(t), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.upload(t, tt.field, tt.content, tt.header)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			var body apiresponses.APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotContains(t, w.Body.String(), "Unrecoverable")
		})
	}
}

func TestServer_ExtractNotAMultipartForm(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/extract", strings.NewReader(sampleSheet))
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set(AuthHeaderKey, ts.bearer(t).Get(AuthHeaderKey))
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ExtractDefaultsToGhostscript(t *testing.T) {
	cfg := config.Defaults()
	cfg.Identity.Domain = "http://127.0.0.1:1"
	cfg.Identity.ClientID = "x"
	srv, err := NewServer(ServerConfig{Config: cfg, Cache: tokencache.NewMemory()})
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	assert.Equal(t, extractor.Ghostscript{Binary: "gs"}, srv.converter)
}

func TestServer_Token(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/auth/token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	cookie := ts.login(t)
	w = ts.do(http.MethodGet, "/auth/token", cookie, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var got TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.NotEmpty(t, got.AccessToken)

	// the application calls the API with it
	header := http.Header{}
	header.Set(AuthHeaderKey, "Bearer "+got.AccessToken)
	w = ts.do(http.MethodGet, "/api/session", nil, header)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
