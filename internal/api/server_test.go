package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fpang/item-identify/internal/embedding"
	"github.com/fpang/item-identify/internal/feedback"
	"github.com/fpang/item-identify/internal/identify"
	"github.com/fpang/item-identify/internal/imagesource"
	"github.com/fpang/item-identify/internal/match"
	"github.com/fpang/item-identify/internal/store"
)

type fakeIdentifier struct {
	err  error
	last identify.Request
}

func (f *fakeIdentifier) Identify(_ context.Context, req identify.Request) (identify.Result, error) {
	f.last = req
	if f.err != nil {
		return identify.Result{}, f.err
	}
	return identify.Result{
		SessionID: "0b1c7a52-9d7e-4a8e-9f63-2f9c6f7d2a11",
		Category:  "watches",
		ImageHash: req.Image.Hash(),
		Decision:  autoSelected("omega-speedmaster"),
	}, nil
}

type fakeLoader struct {
	img imagesource.Image
	err error
}

func (f *fakeLoader) Load(context.Context, string) (imagesource.Image, error) { return f.img, f.err }

func (f *fakeLoader) FromS3Key(context.Context, string) (imagesource.Image, error) {
	return f.img, f.err
}

func autoSelected(family string) match.Decision {
	c := match.Candidate{FamilyID: family, Category: "watches", Brand: "Omega", BestScore: 0.97}
	return match.AutoSelected{
		Outcome:   match.Outcome{BestScore: 0.97, TopMatches: match.RankedResult{c}, Band: match.BandFull},
		Candidate: c,
	}
}

func pngBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

type harness struct {
	handler    http.Handler
	identifier *fakeIdentifier
	loader     *fakeLoader
	sessions   *store.MemoryStore
}

func newHarness(secret string) *harness {
	h := &harness{
		identifier: &fakeIdentifier{},
		loader:     &fakeLoader{},
		sessions:   store.NewMemoryStore(),
	}
	h.handler = NewServer(Options{
		Identifier:    h.identifier,
		Feedback:      feedback.NewRecorder(h.sessions, nil),
		Sessions:      h.sessions,
		Loader:        h.loader,
		OriginSecret:  secret,
		MetricsOutput: io.Discard,
	}).Handler()
	return h
}

func (h *harness) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) seedSession(t *testing.T) string {
	t.Helper()
	s, _, err := h.sessions.CreateSession(context.Background(), &store.MatchSession{
		Category:  "watches",
		ImageHash: "abc",
		Decision:  match.Wrap(autoSelected("omega-speedmaster")),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s.ID
}

func TestHealth(t *testing.T) {
	h := newHarness("s3cret")
	rec := h.do(http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestOriginVerify(t *testing.T) {
	h := newHarness("s3cret")
	body := `{"imageBase64":"` + pngBase64(t) + `"}`

	if rec := h.do(http.MethodPost, "/api/identify", body); rec.Code != http.StatusForbidden {
		t.Errorf("missing header status = %d, want 403", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/api/identify", body, "x-origin-verify", "wrong"); rec.Code != http.StatusForbidden {
		t.Errorf("wrong header status = %d, want 403", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/api/identify", body, "x-origin-verify", "s3cret"); rec.Code != http.StatusOK {
		t.Errorf("valid header status = %d, want 200", rec.Code)
	}
}

func TestIdentify(t *testing.T) {
	h := newHarness("")
	body := `{"imageBase64":"` + pngBase64(t) + `","category":"Watches","userId":"u1"}`

	rec := h.do(http.MethodPost, "/api/identify", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if h.identifier.last.Category != "Watches" || h.identifier.last.UserID != "u1" {
		t.Errorf("request = %+v", h.identifier.last)
	}

	var got struct {
		SessionID             string          `json:"sessionId"`
		Decision              match.Kind      `json:"decision"`
		AutoSelectedCandidate match.Candidate `json:"autoSelectedCandidate"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Decision != match.KindAutoSelected || got.AutoSelectedCandidate.FamilyID != "omega-speedmaster" {
		t.Errorf("response = %+v", got)
	}
	if got.SessionID == "" {
		t.Error("sessionId missing")
	}
}

func TestIdentify_Errors(t *testing.T) {
	valid := `{"imageBase64":"` + pngBase64(t) + `"}`
	tests := []struct {
		name      string
		body      string
		identErr  error
		loaderErr error
		want      int
	}{
		{"no source", `{}`, nil, nil, http.StatusBadRequest},
		{"two sources", `{"imageKey":"a.jpg","imageBase64":"xx"}`, nil, nil, http.StatusBadRequest},
		{"not json", `{`, nil, nil, http.StatusBadRequest},
		{"unknown field", `{"image":"x"}`, nil, nil, http.StatusBadRequest},
		{"bad base64", `{"imageBase64":"%%%"}`, nil, nil, http.StatusBadRequest},
		{"plain http url", `{"imageUrl":"http://example.com/a.jpg"}`, nil, nil, http.StatusBadRequest},
		{"key traversal", `{"imageKey":"../etc/passwd"}`, nil, nil, http.StatusBadRequest},
		{"fetch failure", `{"imageKey":"uploads/a.jpg"}`, nil, errors.New("NoSuchKey"), http.StatusBadGateway},
		{"embedding failure", valid, embedding.ErrEmbeddingFailure, nil, http.StatusServiceUnavailable},
		{"invalid request", valid, identify.ErrInvalidRequest, nil, http.StatusBadRequest},
		{"unexpected", valid, errors.New("boom"), nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness("")
			h.identifier.err = tt.identErr
			h.loader.err = tt.loaderErr
			rec := h.do(http.MethodPost, "/api/identify", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusServiceUnavailable && rec.Header().Get("Retry-After") == "" {
				t.Error("Retry-After not set")
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "boom") {
				t.Error("internal error leaked to client")
			}
		})
	}
}

func TestGetSession(t *testing.T) {
	h := newHarness("")
	id := h.seedSession(t)

	rec := h.do(http.MethodGet, "/api/sessions/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["id"] != id || got["category"] != "watches" {
		t.Errorf("session = %v", got)
	}
	if _, ok := got["feedback"]; ok {
		t.Error("feedback present before any was recorded")
	}

	if rec := h.do(http.MethodGet, "/api/sessions/not-a-uuid", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/api/sessions/6f1d2a7e-3b4c-4d5e-8f90-123456789abc", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d", rec.Code)
	}
}

func TestFeedback(t *testing.T) {
	h := newHarness("")
	id := h.seedSession(t)
	path := "/api/sessions/" + id + "/feedback"

	rec := h.do(http.MethodPost, path, `{"chosenFamilyId":"omega-speedmaster"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var fb store.Feedback
	if err := json.Unmarshal(rec.Body.Bytes(), &fb); err != nil {
		t.Fatal(err)
	}
	if fb.Action != store.ActionConfirmed || !fb.WasAutoSelected {
		t.Errorf("feedback = %+v", fb)
	}

	if rec := h.do(http.MethodPost, path, `{"chosenFamilyId":"omega-seamaster"}`); rec.Code != http.StatusConflict {
		t.Errorf("second feedback status = %d, want 409", rec.Code)
	}

	rec = h.do(http.MethodGet, "/api/sessions/"+id, "")
	if !strings.Contains(rec.Body.String(), `"resolvedFamilyId":"omega-speedmaster"`) {
		t.Errorf("session not resolved: %s", rec.Body.String())
	}
}

func TestFeedback_Errors(t *testing.T) {
	h := newHarness("")
	id := h.seedSession(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"empty family", "/api/sessions/" + id + "/feedback", `{"chosenFamilyId":" "}`, http.StatusBadRequest},
		{"unknown session", "/api/sessions/6f1d2a7e-3b4c-4d5e-8f90-123456789abc/feedback", `{"chosenFamilyId":"x"}`, http.StatusNotFound},
		{"bad id", "/api/sessions/abc/feedback", `{"chosenFamilyId":"x"}`, http.StatusBadRequest},
		{"bad body", "/api/sessions/" + id + "/feedback", `[]`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := h.do(http.MethodPost, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness("")
	if rec := h.do(http.MethodGet, "/api/identify", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/health", "/api/health"},
		{"/api/identify", "/api/identify"},
		{"/api/sessions/6f1d2a7e-3b4c-4d5e-8f90-123456789abc", "/api/sessions/*"},
		{"/api/sessions/6f1d2a7e-3b4c-4d5e-8f90-123456789abc/feedback", "/api/sessions/*/feedback"},
	}
	for _, tt := range tests {
		if got := normalizeEndpoint(tt.path); got != tt.want {
			t.Errorf("normalizeEndpoint(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestWithMetrics_EmitsEMF(t *testing.T) {
	var buf bytes.Buffer
	handler := NewServer(Options{MetricsOutput: &buf}).Handler()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	out := buf.String()
	if !strings.Contains(out, `"Endpoint":"/api/health"`) || !strings.Contains(out, `"statusCode":200`) {
		t.Errorf("EMF output = %s", out)
	}
}
