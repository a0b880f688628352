// Command ggufquant exercises internal/quantize end to end: stream a
// source container into a re-encoded destination file at a target
// tensor encoding.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/edgerun/ggufrt/internal/logging"
	"github.com/edgerun/ggufrt/internal/model"
	"github.com/edgerun/ggufrt/internal/quantize"
)

func main() {
	if err := logging.Init(false); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logging.Close()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ggufquant",
		Short:         "re-quantize a model container",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newQuantizeCmd())
	return root
}

var targetNames = map[string]model.FileType{
	"f32":  model.FileTypeF32,
	"f16":  model.FileTypeMostlyF16,
	"q4_0": model.FileTypeMostlyQ4_0,
	"q4_1": model.FileTypeMostlyQ4_1,
	"q4_2": model.FileTypeMostlyQ4_2,
	"q5_0": model.FileTypeMostlyQ5_0,
	"q5_1": model.FileTypeMostlyQ5_1,
	"q8_0": model.FileTypeMostlyQ8_0,
}

func parseTargetName(s string) (model.FileType, error) {
	ft, ok := targetNames[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("ggufquant: unknown target type %q", s)
	}
	return ft, nil
}

func newQuantizeCmd() *cobra.Command {
	var source, dest, target string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "quantize",
		Short: "re-encode a container's tensors into a target type",
		RunE: func(cmd *cobra.Command, args []string) error {
			ft, err := parseTargetName(target)
			if err != nil {
				return err
			}

			logger := logrus.New()
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}

			return quantize.Quantize(source, dest, quantize.Params{
				Target: ft,
				Logger: logger,
				OnProgress: func(ev quantize.ProgressEvent) error {
					switch ev.Kind {
					case quantize.TensorQuantized:
						fmt.Printf("[%d/%d] %s: %s -> %s (%d -> %d bytes)\n",
							ev.Index+1, ev.TensorCount, ev.TensorName, ev.SourceType, ev.TargetType, ev.BytesBefore, ev.BytesAfter)
					case quantize.TensorSkipped:
						fmt.Printf("[%d/%d] %s: kept as %s\n", ev.Index+1, ev.TensorCount, ev.TensorName, ev.SourceType)
					case quantize.Finished:
						fmt.Printf("done: %d tensors\n", ev.TensorCount)
					}
					return nil
				},
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source container path")
	cmd.Flags().StringVar(&dest, "dest", "", "destination container path")
	cmd.Flags().StringVar(&target, "target", "q4_0", "target type: q4_0|q4_1|q4_2|q5_0|q5_1|q8_0")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level per-tensor logging")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("dest")
	return cmd
}
