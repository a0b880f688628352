// Command ggufrt exercises the loader, forward evaluator, and session
// packages end to end: load a container into a Model for a named
// architecture, then optionally run an inference_with_prompt loop
// against it.
package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgerun/ggufrt/internal/config"
	"github.com/edgerun/ggufrt/internal/loader"
	"github.com/edgerun/ggufrt/internal/logging"
	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/sampler"
	"github.com/edgerun/ggufrt/internal/session"
	"github.com/edgerun/ggufrt/internal/tensor"
	"github.com/edgerun/ggufrt/internal/vocab"
)

func main() {
	defer logging.Close()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:           "ggufrt",
		Short:         "run a quantized transformer container",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetDebug(debug)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug-level diagnostics from internal/eval")
	root.AddCommand(newLoadCmd(), newGenerateCmd())
	return root
}

func loadModel(cfg config.Config) (*model.Model, error) {
	if err := logging.Init(cfg.Logging.ToFile); err != nil {
		return nil, err
	}

	arch, err := model.ParseArchitecture(cfg.Model.Architecture)
	if err != nil {
		return nil, err
	}
	preferMmap := cfg.Model.PreferMmap == nil || *cfg.Model.PreferMmap

	m, err := loader.Load(cfg.Model.Path, loader.Params{
		Arch:       arch,
		PreferMmap: preferMmap,
		OnProgress: func(ev loader.ProgressEvent) error {
			log.Printf("ggufrt: %+v", ev)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ggufrt: load %q: %w", cfg.Model.Path, err)
	}
	return m, nil
}

func newLoadCmd() *cobra.Command {
	var modelPath, arch string

	cmd := &cobra.Command{
		Use:   "load",
		Short: "load a model and print its hyperparameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve()
			if err != nil {
				return err
			}
			if modelPath != "" {
				cfg.Model.Path = modelPath
			}
			if arch != "" {
				cfg.Model.Architecture = arch
			}

			m, err := loadModel(cfg)
			if err != nil {
				return err
			}
			defer m.Close()

			fmt.Printf("architecture  %s\n", m.Arch)
			fmt.Printf("n_vocab       %d\n", m.HP.NVocab)
			fmt.Printf("n_embd        %d\n", m.HP.NEmbd)
			fmt.Printf("n_layer       %d\n", m.HP.NLayer)
			fmt.Printf("n_head        %d\n", m.HP.NHead)
			fmt.Printf("n_context     %d\n", m.HP.NContext)
			fmt.Printf("file_type     %s\n", m.HP.FileType)
			return nil
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "", "path to the model container")
	cmd.Flags().StringVar(&arch, "arch", "", "architecture: llama|bloom|gpt2|gptj|codegen|neox")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var modelPath, arch, prompt string
	var seed int64

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "feed a prompt and sample tokens until end-of-text",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve()
			if err != nil {
				return err
			}
			if modelPath != "" {
				cfg.Model.Path = modelPath
			}
			if arch != "" {
				cfg.Model.Architecture = arch
			}

			m, err := loadModel(cfg)
			if err != nil {
				return err
			}
			defer m.Close()

			sess, err := session.New(m, session.Params{
				NBatch:       cfg.Runtime.BatchSize,
				NThreads:     cfg.Runtime.Threads,
				KVMemoryType: tensor.F16,
				Sampler: sampler.Params{
					RepeatPenalty: float32(cfg.Sampler.RepeatPenalty),
					RepeatLastN:   cfg.Sampler.RepeatLastN,
					Temperature:   float32(cfg.Sampler.Temperature),
					TopK:          cfg.Sampler.TopK,
					TopP:          cfg.Sampler.TopP,
					BiasTokens:    map[vocab.TokenID]float32{},
				},
				MaximumTokenCount:      cfg.Sampler.MaximumTokenCount,
				PlayBackPreviousTokens: cfg.Sampler.PlayBackPrevious,
			})
			if err != nil {
				return err
			}

			rngSeed := seed
			if rngSeed == 0 {
				rngSeed = cfg.Sampler.Seed
			}
			if rngSeed == 0 {
				rngSeed = time.Now().UnixNano()
			}
			rng := rand.New(rand.NewSource(rngSeed))

			return sess.InferenceWithPrompt(prompt, rng, func(piece []byte) error {
				_, err := os.Stdout.Write(piece)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "", "path to the model container")
	cmd.Flags().StringVar(&arch, "arch", "", "architecture: llama|bloom|gpt2|gptj|codegen|neox")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text")
	cmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed (0 picks one from config or the clock)")
	return cmd
}
