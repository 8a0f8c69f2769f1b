package pipeline

import (
	"time"

	"github.com/rs/zerolog"

	"microd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultTarget         = "generic-c"
	defaultConnectTimeout = 5 * time.Second
	defaultRunTimeout     = 30 * time.Second
	defaultCacheSize      = 32
)

// Config encapsulates all tunables for Pipeline construction.
type Config struct {
	Registry     []types.Model
	DefaultModel string
	// Target is the default compilation target when a request omits one.
	Target string
	// DeviceAddr is the host:port of the micro target. Ignored when
	// Simulate is set; the pipeline then owns a loopback simulator.
	DeviceAddr string
	Simulate   bool

	ConnectTimeout time.Duration
	RunTimeout     time.Duration
	// ArtifactCacheSize bounds the number of cached compilation results.
	ArtifactCacheSize int

	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.Target == "" {
		c.Target = defaultTarget
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaultRunTimeout
	}
	if c.ArtifactCacheSize <= 0 {
		c.ArtifactCacheSize = defaultCacheSize
	}
}
