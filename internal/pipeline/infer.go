package pipeline

import (
	"context"
	"os"
	"time"

	"microd/internal/codegen"
	"microd/internal/device"
	"microd/internal/ir"
	"microd/internal/tflite"
	"microd/pkg/types"
)

// Compile resolves, parses, lowers and code-generates a model without
// touching the device. The artifact lands in the cache, so a later Infer
// for the same shapes skips codegen.
func (p *Pipeline) Compile(ctx context.Context, req types.CompileRequest) (*types.CompileResponse, error) {
	model, err := p.resolveModel(req.Model)
	if err != nil {
		return nil, err
	}
	art, _, err := p.artifact(model, req.Target, req.Inputs)
	if err != nil {
		return nil, err
	}
	return &types.CompileResponse{Artifact: art}, nil
}

// Infer runs the full flow: compile (or reuse) the artifact, dial the
// device, upload, bind inputs, execute and collect every output tensor.
// Sessions are per-request; the device protocol is cheap to re-handshake
// and a dropped connection never poisons later requests.
func (p *Pipeline) Infer(ctx context.Context, req types.InferRequest) (*types.InferResponse, error) {
	model, err := p.resolveModel(req.Model)
	if err != nil {
		return nil, err
	}
	art, cacheHit, err := p.artifact(model, req.Target, req.Inputs)
	if err != nil {
		return nil, err
	}

	sess, err := device.Dial(p.cfg.DeviceAddr, device.Options{
		ConnectTimeout: p.cfg.ConnectTimeout,
		RunTimeout:     p.cfg.RunTimeout,
		Logger:         p.log,
	})
	if err != nil {
		p.setLastErr(err)
		return nil, err
	}
	defer sess.Close()

	if err := sess.Upload(ctx, art); err != nil {
		p.setLastErr(err)
		return nil, err
	}
	for _, b := range req.Inputs {
		if len(b.Data) == 0 {
			continue
		}
		if err := sess.SetInput(b.Name, b.Data); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	if err := sess.Run(ctx); err != nil {
		runsTotal.WithLabelValues("error").Inc()
		p.setLastErr(err)
		return nil, err
	}
	elapsed := time.Since(start)
	runsTotal.WithLabelValues("ok").Inc()
	runDuration.Observe(elapsed.Seconds())

	outputs := make([]types.TensorResult, 0, 1)
	for _, spec := range art.Manifest.ByRole(types.RoleOutput) {
		data, err := sess.GetOutput(spec.Name)
		if err != nil {
			p.setLastErr(err)
			return nil, err
		}
		outputs = append(outputs, types.TensorResult{
			Name:  spec.Name,
			DType: string(spec.DType),
			Shape: spec.Shape,
			Data:  data,
		})
	}
	p.setLastErr(nil)
	return &types.InferResponse{
		Model:    model.ID,
		Target:   art.Target,
		Outputs:  outputs,
		CacheHit: cacheHit,
		RunMS:    elapsed.Milliseconds(),
	}, nil
}

// artifact returns the compiled artifact for (model, target, bindings),
// consulting the fingerprint cache first. Concurrent misses on the same
// fingerprint collapse into one generation.
func (p *Pipeline) artifact(model types.Model, targetID string, inputs []types.TensorBinding) (*types.Artifact, bool, error) {
	if targetID == "" {
		targetID = p.cfg.Target
	}
	tgt, err := codegen.Resolve(targetID)
	if err != nil {
		return nil, false, err
	}
	g, err := p.lowerModel(model, inputs)
	if err != nil {
		return nil, false, err
	}
	key := g.Fingerprint(tgt.ID)
	if a, ok := p.cache.Get(key); ok {
		cacheHitsTotal.Inc()
		return a, true, nil
	}
	v, err, _ := p.group.Do(key, func() (any, error) {
		if a, ok := p.cache.Get(key); ok {
			return a, nil
		}
		a, err := codegen.Generate(g, tgt)
		if err != nil {
			return nil, err
		}
		compilesTotal.Inc()
		p.cache.Put(key, a)
		p.log.Debug().
			Str("model", model.ID).
			Str("target", tgt.ID).
			Str("fingerprint", key).
			Int("arena_bytes", a.Manifest.ArenaSize).
			Msg("artifact generated")
		return a, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*types.Artifact), false, nil
}

// lowerModel reads the model file, parses the flatbuffer and lowers it with
// the request's shape and dtype bindings applied.
func (p *Pipeline) lowerModel(model types.Model, inputs []types.TensorBinding) (*ir.Graph, error) {
	raw, err := os.ReadFile(model.Path)
	if err != nil {
		// Registered but unreadable reads the same as absent to callers.
		return nil, modelNotFoundError{id: model.ID}
	}
	m, err := tflite.Parse(raw)
	if err != nil {
		return nil, err
	}
	opts := ir.LowerOptions{}
	for _, b := range inputs {
		if len(b.Shape) > 0 {
			if opts.ShapeOverrides == nil {
				opts.ShapeOverrides = make(map[string][]int)
			}
			opts.ShapeOverrides[b.Name] = b.Shape
		}
		if b.DType != "" {
			dt, err := types.ParseDType(b.DType)
			if err != nil {
				return nil, badBindingError{msg: err.Error()}
			}
			if opts.DTypeOverrides == nil {
				opts.DTypeOverrides = make(map[string]types.DType)
			}
			opts.DTypeOverrides[b.Name] = dt
		}
	}
	return ir.Lower(m, opts)
}
