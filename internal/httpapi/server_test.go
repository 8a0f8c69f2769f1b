package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"microd/pkg/types"
)

// stubService implements Service with canned data and injectable errors.
type stubService struct {
	models   []types.Model
	status   types.StatusResponse
	inferErr error
	infer    *types.InferResponse
	compile  *types.CompileResponse
	ready    bool
}

func (s *stubService) ListModels() []types.Model { return s.models }
func (s *stubService) Status() types.StatusResponse { return s.status }
func (s *stubService) Ready() bool { return s.ready }
func (s *stubService) Infer(ctx context.Context, req types.InferRequest) (*types.InferResponse, error) {
	if s.inferErr != nil {
		return nil, s.inferErr
	}
	return s.infer, nil
}
func (s *stubService) Compile(ctx context.Context, req types.CompileRequest) (*types.CompileResponse, error) {
	if s.inferErr != nil {
		return nil, s.inferErr
	}
	return s.compile, nil
}

// kindErr is a minimal taxonomy error for mapping tests.
type kindErr struct {
	kind types.ErrorKind
}

func (e kindErr) Error() string { return "boom: " + string(e.kind) }
func (e kindErr) Kind() types.ErrorKind { return e.kind }

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestModelsEndpoint(t *testing.T) {
	svc := &stubService{models: []types.Model{{ID: "sine_model.tflite", Name: "sine_model"}}}
	h := NewMux(svc)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/models", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Models []types.Model `json:"models"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Models) != 1 || body.Models[0].ID != "sine_model.tflite" {
		t.Fatalf("models = %+v", body.Models)
	}
}

func TestStatusEndpoint(t *testing.T) {
	svc := &stubService{status: types.StatusResponse{State: "ready", Target: "generic-c", Models: 2}}
	h := NewMux(svc)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != "ready" || st.Target != "generic-c" || st.Models != 2 {
		t.Fatalf("status body = %+v", st)
	}
}

func TestInferSuccess(t *testing.T) {
	svc := &stubService{infer: &types.InferResponse{
		Model:   "sine_model.tflite",
		Target:  "generic-c",
		Outputs: []types.TensorResult{{Name: "Identity", DType: "float32", Shape: []int{1}, Data: []byte{0, 0, 128, 63}}},
	}}
	h := NewMux(svc)
	rr := postJSON(t, h, "/infer", `{"model":"sine_model.tflite","inputs":[]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	var resp types.InferResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Model != "sine_model.tflite" || len(resp.Outputs) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestInferErrorMapping(t *testing.T) {
	cases := []struct {
		kind types.ErrorKind
		want int
	}{
		{types.KindModelNotFound, http.StatusNotFound},
		{types.KindSessionBusy, http.StatusTooManyRequests},
		{types.KindMalformedModel, http.StatusUnprocessableEntity},
		{types.KindUnsupportedOperator, http.StatusUnprocessableEntity},
		{types.KindShapeMismatch, http.StatusUnprocessableEntity},
		{types.KindUnknownTarget, http.StatusUnprocessableEntity},
		{types.KindUnknownBuffer, http.StatusUnprocessableEntity},
		{types.KindSizeMismatch, http.StatusUnprocessableEntity},
		{types.KindConnectError, http.StatusBadGateway},
		{types.KindTimeout, http.StatusBadGateway},
		{types.KindBuildError, http.StatusBadGateway},
		{types.KindExecutionFault, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			h := NewMux(&stubService{inferErr: kindErr{kind: tc.kind}})
			rr := postJSON(t, h, "/infer", `{"model":"m"}`)
			if rr.Code != tc.want {
				t.Fatalf("kind %s: status = %d, want %d", tc.kind, rr.Code, tc.want)
			}
			var er types.ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &er); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if er.Kind != string(tc.kind) || er.Code != tc.want {
				t.Fatalf("error body = %+v", er)
			}
		})
	}
}

func TestInferUntaggedErrorIs500(t *testing.T) {
	h := NewMux(&stubService{inferErr: context.DeadlineExceeded})
	rr := postJSON(t, h, "/infer", `{"model":"m"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestInferContentTypeRequired(t *testing.T) {
	h := NewMux(&stubService{})
	req := httptest.NewRequest(http.MethodPost, "/infer", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestInferInvalidJSON(t *testing.T) {
	h := NewMux(&stubService{})
	rr := postJSON(t, h, "/infer", `{"model":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCompileEndpoint(t *testing.T) {
	svc := &stubService{compile: &types.CompileResponse{Artifact: &types.Artifact{
		Name:        "sine_model",
		Target:      "generic-c",
		Fingerprint: "abc",
		Source:      []byte("int run(void** buffers);"),
	}}}
	h := NewMux(svc)
	rr := postJSON(t, h, "/compile", `{"model":"sine_model.tflite"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	var resp types.CompileResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Artifact == nil || resp.Artifact.Fingerprint != "abc" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCompileErrorMapping(t *testing.T) {
	h := NewMux(&stubService{inferErr: kindErr{kind: types.KindCyclicGraph}})
	rr := postJSON(t, h, "/compile", `{"model":"m"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	svc := &stubService{ready: true}
	h := NewMux(svc)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rr.Code)
	}
	svc.ready = false
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz when closed = %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewMux(&stubService{})
	// Touch an instrumented route first so the labeled series exist.
	warm := httptest.NewRecorder()
	h.ServeHTTP(warm, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "microd_http_requests_total") {
		t.Fatal("metrics output missing http request counter")
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := NewMux(&stubService{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
}
