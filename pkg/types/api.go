package types

// TensorBinding names an input tensor and binds a concrete shape, dtype and
// payload to it. Data is base64 in JSON per encoding/json []byte rules.
type TensorBinding struct {
	// Tensor name as stored in the model.
	// example: dense_4_input
	Name  string `json:"name" example:"dense_4_input"`
	DType string `json:"dtype,omitempty" example:"float32"`
	Shape []int  `json:"shape,omitempty" example:"1"`
	Data  []byte `json:"data,omitempty"`
}

// TensorResult carries one named output tensor back to the caller.
type TensorResult struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
	Data  []byte `json:"data"`
}

// InferRequest is a single end-to-end inference: compile the named model for
// the target and run it on the configured device.
type InferRequest struct {
	Model  string          `json:"model,omitempty"`
	Target string          `json:"target,omitempty"`
	Inputs []TensorBinding `json:"inputs"`
}

// InferResponse holds the output tensors of a completed run.
type InferResponse struct {
	Model    string         `json:"model"`
	Target   string         `json:"target"`
	Outputs  []TensorResult `json:"outputs"`
	CacheHit bool           `json:"cache_hit"`
	RunMS    int64          `json:"run_ms"`
}

// CompileRequest compiles a model without touching a device. Inputs may omit
// Data; only shape/dtype bindings matter for compilation.
type CompileRequest struct {
	Model  string          `json:"model,omitempty"`
	Target string          `json:"target,omitempty"`
	Inputs []TensorBinding `json:"inputs,omitempty"`
}

// CompileResponse returns the generated artifact.
type CompileResponse struct {
	Artifact *Artifact `json:"artifact"`
}

// StatusResponse is the /status projection of pipeline state.
type StatusResponse struct {
	State         string `json:"state"`
	Target        string `json:"target"`
	DeviceAddr    string `json:"device_addr"`
	Models        int    `json:"models"`
	CacheEntries  int    `json:"cache_entries"`
	CacheCapacity int    `json:"cache_capacity"`
	Error         string `json:"error,omitempty"`
}

// ErrorResponse is the uniform JSON error payload. Kind is a stable error
// taxonomy tag; Error is the human-readable detail.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  int    `json:"code"`
}
