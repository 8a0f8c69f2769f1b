package pipeline

import (
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"microd/internal/codegen"
	"microd/internal/device"
	"microd/pkg/types"
)

type Pipeline struct {
	mu      sync.RWMutex
	cfg     Config
	models  map[string]types.Model
	listing []types.Model
	lastErr string
	closed  bool

	cache *artifactCache
	group singleflight.Group

	// sim is non-nil when the pipeline owns a loopback simulator.
	sim *device.Simulator
	log zerolog.Logger
}

// New validates the configuration and constructs a Pipeline. When
// cfg.Simulate is set it also starts an in-process device simulator and
// points the pipeline at it.
func New(cfg Config) (*Pipeline, error) {
	cfg.applyDefaults()
	if _, err := codegen.Resolve(cfg.Target); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:    cfg,
		models: make(map[string]types.Model, len(cfg.Registry)),
		cache:  newArtifactCache(cfg.ArtifactCacheSize),
		log:    cfg.Logger,
	}
	for _, m := range cfg.Registry {
		p.models[m.ID] = m
		p.listing = append(p.listing, m)
	}
	if cfg.Simulate {
		sim, err := device.StartSimulator("127.0.0.1:0", cfg.Logger)
		if err != nil {
			return nil, err
		}
		p.sim = sim
		p.cfg.DeviceAddr = sim.Addr()
		p.log.Info().Str("addr", sim.Addr()).Msg("device simulator started")
	}
	return p, nil
}

// Close releases the owned simulator, if any. In-flight sessions fail on
// their own once the listener is gone.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.sim != nil {
		return p.sim.Close()
	}
	return nil
}

// Ready reports whether the pipeline can accept requests.
func (p *Pipeline) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

func (p *Pipeline) ListModels() []types.Model {
	p.mu.RLock()
	defer p.mu.RUnlock()
	// return a copy to avoid external mutation
	out := make([]types.Model, len(p.listing))
	copy(out, p.listing)
	return out
}

// Status builds a detailed status response for /status.
func (p *Pipeline) Status() types.StatusResponse {
	p.mu.RLock()
	defer p.mu.RUnlock()
	state := "ready"
	if p.closed {
		state = "closed"
	}
	return types.StatusResponse{
		State:         state,
		Target:        p.cfg.Target,
		DeviceAddr:    p.cfg.DeviceAddr,
		Models:        len(p.models),
		CacheEntries:  p.cache.Len(),
		CacheCapacity: p.cfg.ArtifactCacheSize,
		Error:         p.lastErr,
	}
}

// resolveModel maps a request model id (possibly empty) to a registry entry.
func (p *Pipeline) resolveModel(id string) (types.Model, error) {
	if id == "" {
		id = p.cfg.DefaultModel
		if id == "" {
			return types.Model{}, modelNotFoundError{id: "(unspecified)"}
		}
	}
	p.mu.RLock()
	m, ok := p.models[id]
	p.mu.RUnlock()
	if !ok {
		return types.Model{}, modelNotFoundError{id: id}
	}
	return m, nil
}

func (p *Pipeline) setLastErr(err error) {
	p.mu.Lock()
	if err != nil {
		p.lastErr = err.Error()
	} else {
		p.lastErr = ""
	}
	p.mu.Unlock()
}
