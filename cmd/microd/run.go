package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"microd/internal/config"
	"microd/pkg/types"
)

func runCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Compile a model and execute it once on the device",
		Example: "  microd run --models-dir ./models --model sine_model.tflite --simulate --input dense_4_input=x.bin",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, _ := cmd.Flags().GetString("model")
			target, _ := cmd.Flags().GetString("target")
			inputFlags, _ := cmd.Flags().GetStringArray("input")

			inputs, err := parseInputFlags(inputFlags)
			if err != nil {
				return err
			}
			p, err := buildPipeline(cfg, *log)
			if err != nil {
				return err
			}
			defer p.Close()

			resp, err := p.Infer(context.Background(), types.InferRequest{
				Model:  model,
				Target: target,
				Inputs: inputs,
			})
			if err != nil {
				return err
			}
			log.Info().Str("model", resp.Model).Str("target", resp.Target).
				Bool("cache_hit", resp.CacheHit).Int64("run_ms", resp.RunMS).
				Msg("run complete")
			return printJSON(resp)
		},
	}
	cmd.Flags().String("model", "", "Model id to run (default: configured default model)")
	cmd.Flags().StringArray("input", nil, "Input binding name=path; file holds raw little-endian tensor bytes (repeatable)")
	return cmd
}
