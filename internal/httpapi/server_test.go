package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"diffstudio/internal/device"
	"diffstudio/internal/diffusion"
	"diffstudio/internal/manager"
	"diffstudio/internal/pipeline"
	"diffstudio/internal/studio"
	"diffstudio/pkg/types"
)

type mockService struct {
	status   types.StatusResponse
	ready    bool
	genErr   error
	images   int
	gotTask  manager.TaskKind
	gotParam studio.Params
	history  []types.HistoryEntry
	gotLimit int
}

func (m *mockService) Generate(_ context.Context, task manager.TaskKind, p studio.Params) (studio.Result, error) {
	m.gotTask, m.gotParam = task, p
	if m.genErr != nil {
		return studio.Result{}, m.genErr
	}
	res := studio.Result{RequestID: "rid", Seed: 42, Task: task, Family: "fake"}
	for range m.images {
		res.Images = append(res.Images, image.NewNRGBA(image.Rect(0, 0, 8, 8)))
	}
	return res, nil
}
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Families() types.FamiliesResponse {
	return types.FamiliesResponse{Active: "fake", Families: []types.FamilyInfo{{Name: "fake"}}}
}
func (m *mockService) History(_ context.Context, limit int) ([]types.HistoryEntry, error) {
	m.gotLimit = limit
	return m.history, nil
}
func (m *mockService) Ready() bool { return m.ready }

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGenerateHandler(t *testing.T) {
	svc := &mockService{images: 2}
	w := postJSON(t, NewMux(svc), "/generate/t2i", `{"prompt":"cat","num_steps":"12","input_seed":42}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body types.GenerateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Seed != 42 || body.Task != "text2img" || len(body.Images) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
	raw, err := base64.StdEncoding.DecodeString(body.Images[0])
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(raw)); err != nil {
		t.Fatalf("png: %v", err)
	}
	if svc.gotTask != manager.Text2Img || svc.gotParam.NumSteps != 12 || svc.gotParam.Prompt != "cat" {
		t.Fatalf("service saw task=%v params=%+v", svc.gotTask, svc.gotParam)
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	h := NewMux(&mockService{})
	cases := []struct {
		name, path, body, ct string
		want                 int
	}{
		{"unknown task", "/generate/paint", `{}`, "application/json", http.StatusBadRequest},
		{"content type", "/generate/t2i", `{}`, "text/plain", http.StatusUnsupportedMediaType},
		{"bad json", "/generate/t2i", `{`, "application/json", http.StatusBadRequest},
		{"bad params", "/generate/t2i", `{"num_steps":-1}`, "application/json", http.StatusBadRequest},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, c.path, strings.NewReader(c.body))
		req.Header.Set("Content-Type", c.ct)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != c.want {
			t.Errorf("%s: status=%d want %d", c.name, w.Code, c.want)
		}
		var e types.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil || e.Code != c.want {
			t.Errorf("%s: error body %q", c.name, w.Body.String())
		}
	}
}

func TestGenerateBodyLimit(t *testing.T) {
	SetMaxBodyBytes(64)
	t.Cleanup(func() { SetMaxBodyBytes(0) })
	h := NewMux(&mockService{images: 1})

	big := `{"prompt":"` + strings.Repeat("x", 128) + `"}`
	w := postJSON(t, h, "/generate/t2i", big)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d want 413 body=%s", w.Code, w.Body.String())
	}
	if w := postJSON(t, h, "/generate/t2i", `{"prompt":"x"}`); w.Code != http.StatusOK {
		t.Fatalf("small body: status=%d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{manager.ErrUnsupportedTask("kd31", manager.Inpainting), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: bad", studio.ErrInvalidParams), http.StatusBadRequest},
		{fmt.Errorf("%w: validate: %w", pipeline.ErrGenerationFailed, pipeline.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: denoise: %w", pipeline.ErrGenerationFailed, device.ErrOutOfMemory), http.StatusInsufficientStorage},
		{fmt.Errorf("%w: denoise: %w", pipeline.ErrGenerationFailed, diffusion.ErrNumericDivergence), http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v)=%d want %d", c.err, got, c.want)
		}
	}
}

func TestGenerateMapsServiceErrors(t *testing.T) {
	svc := &mockService{genErr: manager.ErrUnsupportedTask("diffusers30", manager.Img2Img)}
	w := postJSON(t, NewMux(svc), "/generate/img2img", `{}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestStatusAndFamilies(t *testing.T) {
	svc := &mockService{status: types.StatusResponse{Family: "kd21", MaxQueueDepth: 3}}
	h := NewMux(svc)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	var st types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil || st.Family != "kd21" || st.MaxQueueDepth != 3 {
		t.Fatalf("status body=%s err=%v", w.Body.String(), err)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/families", nil))
	var fams types.FamiliesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &fams); err != nil || fams.Active != "fake" {
		t.Fatalf("families body=%s err=%v", w.Body.String(), err)
	}
}

func TestHistoryHandler(t *testing.T) {
	svc := &mockService{history: []types.HistoryEntry{{RequestID: "a"}}}
	h := NewMux(svc)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history?limit=5", nil))
	if w.Code != http.StatusOK || svc.gotLimit != 5 {
		t.Fatalf("status=%d limit=%d", w.Code, svc.gotLimit)
	}
	var body types.HistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || len(body.Entries) != 1 {
		t.Fatalf("body=%s err=%v", w.Body.String(), err)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history?limit=x", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d", w.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	svc := &mockService{ready: false}
	h := NewMux(svc)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz=%d", w.Code)
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz=%d", w.Code)
	}
	svc.ready = true
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("readyz=%d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewMux(&mockService{})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "diffstudio_http_requests_total") {
		t.Fatalf("metrics status=%d", w.Code)
	}
}

func TestRequestLogLevel(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/status?log=debug", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("query level=%v", got)
	}
	r = httptest.NewRequest(http.MethodGet, "/status", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r); got != LevelError {
		t.Fatalf("header level=%v", got)
	}
}
