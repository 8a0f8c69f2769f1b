package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"microd/internal/config"
	"microd/internal/pipeline"
	"microd/internal/registry"
	"microd/pkg/types"
)

// defaults when neither config file nor flags specify a value.
const (
	defaultAddr      = ":8080"
	defaultModelsDir = "~/models/tflite"
)

func setupLogging(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

// buildRootCmd constructs the Cobra command tree. Precedence for every
// setting is flags over config file over built-in defaults.
func buildRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		cfg        config.Config
		log        zerolog.Logger
	)
	root := &cobra.Command{
		Use:           "microd",
		Short:         "Compile TFLite models to C and run them on micro targets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to config file (.yaml/.yml/.json/.toml)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	pf.String("models-dir", defaultModelsDir, "Directory to scan for *.tflite model files")
	pf.String("target", "", "Default compilation target (generic-c|cortex-m7-dsp|x86-64-sse2|native)")
	pf.String("device-addr", "", "host:port of the micro target device")
	pf.Bool("simulate", false, "Run against an in-process device simulator")
	pf.String("default-model", "", "Default model id when a request omits one")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			c, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = c
		}
		f := cmd.Flags()
		if v, _ := f.GetString("models-dir"); cfg.ModelsDir == "" || f.Changed("models-dir") {
			cfg.ModelsDir = v
		}
		if v, _ := f.GetString("target"); f.Changed("target") || cfg.Target == "" && v != "" {
			cfg.Target = v
		}
		if v, _ := f.GetString("device-addr"); f.Changed("device-addr") {
			cfg.DeviceAddr = v
		}
		if v, _ := f.GetBool("simulate"); f.Changed("simulate") {
			cfg.Simulate = v
		}
		if v, _ := f.GetString("default-model"); f.Changed("default-model") {
			cfg.DefaultModel = v
		}
		log = setupLogging(logLevel)
		return nil
	}

	root.AddCommand(serveCmd(&cfg, &log), compileCmd(&cfg, &log), runCmd(&cfg, &log))
	return root
}

// buildPipeline scans the models directory and constructs the pipeline.
func buildPipeline(cfg *config.Config, log zerolog.Logger) (*pipeline.Pipeline, error) {
	reg, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	return pipeline.New(pipeline.Config{
		Registry:          reg,
		DefaultModel:      cfg.DefaultModel,
		Target:            cfg.Target,
		DeviceAddr:        cfg.DeviceAddr,
		Simulate:          cfg.Simulate,
		ConnectTimeout:    time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
		RunTimeout:        time.Duration(cfg.RunTimeoutMS) * time.Millisecond,
		ArtifactCacheSize: cfg.ArtifactCache,
		Logger:            log,
	})
}

// parseInputFlags turns repeated name=path flags into tensor bindings with
// the file contents as raw little-endian payloads.
func parseInputFlags(inputs []string) ([]types.TensorBinding, error) {
	var bindings []types.TensorBinding
	for _, in := range inputs {
		name, path, ok := strings.Cut(in, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("input %q: want name=path", in)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		bindings = append(bindings, types.TensorBinding{Name: name, Data: data})
	}
	return bindings, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
