package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"microd/internal/config"
	"microd/pkg/types"
)

func compileCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "compile",
		Short:   "Compile a model to C without touching a device",
		Example: "  microd compile --models-dir ./models --model sine_model.tflite --target cortex-m7-dsp --out sine.c",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, _ := cmd.Flags().GetString("model")
			target, _ := cmd.Flags().GetString("target")
			out, _ := cmd.Flags().GetString("out")
			manifestOut, _ := cmd.Flags().GetString("manifest")

			p, err := buildPipeline(cfg, *log)
			if err != nil {
				return err
			}
			defer p.Close()

			resp, err := p.Compile(context.Background(), types.CompileRequest{Model: model, Target: target})
			if err != nil {
				return err
			}
			a := resp.Artifact
			log.Info().Str("model", a.Name).Str("target", a.Target).
				Str("fingerprint", a.Fingerprint).Int("arena_bytes", a.Manifest.ArenaSize).
				Msg("compiled")
			if out == "" || out == "-" {
				if _, err := os.Stdout.Write(a.Source); err != nil {
					return err
				}
			} else if err := os.WriteFile(out, a.Source, 0o644); err != nil {
				return err
			}
			if manifestOut != "" {
				b, err := json.MarshalIndent(a.Manifest, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(manifestOut, b, 0o644); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("model", "", "Model id to compile (default: configured default model)")
	cmd.Flags().String("out", "-", "Path for the generated C source (- for stdout)")
	cmd.Flags().String("manifest", "", "Optional path for the buffer manifest as JSON")
	return cmd
}
