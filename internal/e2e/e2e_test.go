package e2e

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"microd/internal/httpapi"
	"microd/internal/pipeline"
	"microd/internal/registry"
	"microd/internal/tflite/tflitetest"
	"microd/pkg/types"
)

// createModelsDir materializes real TFLite flatbuffers in a temp directory.
func createModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, tflitetest.SineModel(1.5, 0.25), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

func newServerForDir(t *testing.T, modelsDir, defaultModel string, cfg pipeline.Config) (*httptest.Server, *pipeline.Pipeline) {
	t.Helper()
	reg, err := registry.LoadDir(modelsDir)
	if err != nil {
		t.Fatalf("scan models dir: %v", err)
	}
	cfg.Registry = reg
	cfg.DefaultModel = defaultModel
	cfg.Logger = zerolog.Nop()
	p, err := pipeline.New(cfg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(p))
	t.Cleanup(func() {
		srv.Close()
		_ = p.Close()
	})
	return srv, p
}

func postInfer(t *testing.T, url string, req types.InferRequest) (*http.Response, []byte) {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url+"/infer", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func f32le(v float32) []byte {
	return binary.LittleEndian.AppendUint32(nil, math.Float32bits(v))
}

func TestE2E_InferOverHTTP(t *testing.T) {
	dir := createModelsDir(t, "sine_model.tflite")
	srv, _ := newServerForDir(t, dir, "sine_model.tflite", pipeline.Config{Simulate: true})

	req := types.InferRequest{
		Inputs: []types.TensorBinding{{Name: "dense_4_input", Data: f32le(0.5)}},
	}
	resp, raw := postInfer(t, srv.URL, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.StatusCode, raw)
	}
	var out types.InferResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Model != "sine_model.tflite" || out.CacheHit {
		t.Fatalf("resp = %+v", out)
	}
	if len(out.Outputs) != 1 || out.Outputs[0].Name != "Identity" {
		t.Fatalf("outputs = %+v", out.Outputs)
	}
	got := math.Float32frombits(binary.LittleEndian.Uint32(out.Outputs[0].Data))
	if got != 1.0 { // relu(1.5*0.5 + 0.25)
		t.Fatalf("output = %v, want 1.0", got)
	}

	// Same request again must reuse the cached artifact.
	resp, raw = postInfer(t, srv.URL, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second status = %d body=%s", resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.CacheHit {
		t.Fatal("second infer must hit the artifact cache")
	}
}

func TestE2E_ModelsAndStatus(t *testing.T) {
	dir := createModelsDir(t, "a.tflite", "b.tflite")
	srv, _ := newServerForDir(t, dir, "", pipeline.Config{Simulate: true})

	resp, err := http.Get(srv.URL + "/models")
	if err != nil {
		t.Fatalf("get models: %v", err)
	}
	defer resp.Body.Close()
	var listing struct {
		Models []types.Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Models) != 2 || listing.Models[0].ID != "a.tflite" {
		t.Fatalf("models = %+v", listing.Models)
	}

	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	var st types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != "ready" || st.Models != 2 || st.DeviceAddr == "" {
		t.Fatalf("status = %+v", st)
	}
}

func TestE2E_UnknownModel404(t *testing.T) {
	dir := createModelsDir(t, "sine_model.tflite")
	srv, _ := newServerForDir(t, dir, "", pipeline.Config{Simulate: true})

	resp, raw := postInfer(t, srv.URL, types.InferRequest{Model: "absent.tflite"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d body=%s", resp.StatusCode, raw)
	}
	var er types.ErrorResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if er.Kind != string(types.KindModelNotFound) {
		t.Fatalf("error kind = %q", er.Kind)
	}
}

func TestE2E_DeviceDown502(t *testing.T) {
	dir := createModelsDir(t, "sine_model.tflite")
	// Point at a port nothing listens on.
	srv, _ := newServerForDir(t, dir, "sine_model.tflite", pipeline.Config{
		DeviceAddr: "127.0.0.1:1",
	})
	resp, raw := postInfer(t, srv.URL, types.InferRequest{
		Inputs: []types.TensorBinding{{Name: "dense_4_input", Data: f32le(0.5)}},
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d body=%s", resp.StatusCode, raw)
	}
	var er types.ErrorResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if er.Kind != string(types.KindConnectError) {
		t.Fatalf("error kind = %q", er.Kind)
	}
}

func TestE2E_Health(t *testing.T) {
	dir := createModelsDir(t, "sine_model.tflite")
	srv, p := newServerForDir(t, dir, "", pipeline.Config{Simulate: true})

	for path, want := range map[string]int{"/healthz": http.StatusOK, "/readyz": http.StatusOK} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s = %d, want %d", path, resp.StatusCode, want)
		}
	}
	_ = p.Close()
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz after close = %d", resp.StatusCode)
	}
}
