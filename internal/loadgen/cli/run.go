/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/textgen-gateway/internal/loadgen"
)

var (
	targetOverride      string
	concurrencyOverride int
	totalOverride       int
	promptOverride      string
	maxLengthOverride   int
	temperatureOverride float64
	timeoutOverride     time.Duration
	outFile             string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test",
	Long: `Issues the configured number of POST requests with the same JSON payload, keeping
at most --concurrency of them in flight. A request succeeds when it returns HTTP 200
with a JSON body; everything else, including transport errors, counts as a failure.

Failed requests never abort the run. Interrupting the run (Ctrl-C) stops issuing new
requests and reports what completed.`,
	Example: `  # 50 requests, 5 at a time, against a local gateway
  loadgen run

  # Heavier run against another host, saving every outcome
  loadgen run --target http://gateway:8000/generate -c 16 -n 500 --out outcomes.jsonl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadgen.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		applyOverrides(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = klog.NewContext(ctx, klog.Background().WithName("loadgen"))

		return runLoadTest(ctx, cmd, cfg)
	},
}

// applyOverrides copies only the flags the user set, so config file values survive.
func applyOverrides(cmd *cobra.Command, cfg *loadgen.Config) {
	flags := cmd.Flags()
	if flags.Changed("target") {
		cfg.Target = targetOverride
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = concurrencyOverride
	}
	if flags.Changed("total") {
		cfg.TotalRequests = totalOverride
	}
	if flags.Changed("prompt") {
		cfg.Payload.Prompt = promptOverride
	}
	if flags.Changed("max-length") {
		cfg.Payload.MaxLength = maxLengthOverride
	}
	if flags.Changed("temperature") {
		cfg.Payload.Temperature = temperatureOverride
	}
	if flags.Changed("timeout") {
		cfg.RequestTimeout = timeoutOverride
	}
}

func runLoadTest(ctx context.Context, cmd *cobra.Command, cfg *loadgen.Config) (err error) {
	var opts []loadgen.RunnerOption
	if outFile != "" {
		w, werr := loadgen.NewOutcomeWriter(outFile)
		if werr != nil {
			return werr
		}
		defer func() {
			err = errors.Join(err, w.Close())
		}()
		logger := klog.FromContext(ctx)
		opts = append(opts, loadgen.WithObserver(func(o loadgen.Outcome) {
			if werr := w.Write(o); werr != nil {
				logger.Error(werr, "Failed to write outcome", "index", o.Index)
			}
		}))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Starting load test with %d concurrent users...\n", cfg.Concurrency)
	runner := loadgen.NewRunner(loadgen.NewHTTPRequester(cfg.Concurrency), opts...)
	stats, _, runErr := runner.Run(ctx, cfg.RunConfig())
	if stats != nil {
		if werr := loadgen.WriteReport(cmd.OutOrStdout(), *stats); werr != nil {
			return errors.Join(runErr, werr)
		}
	}
	return runErr
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&targetOverride, "target", "", "URL receiving the generation requests")
	runCmd.Flags().IntVarP(&concurrencyOverride, "concurrency", "c", 0, "maximum requests in flight")
	runCmd.Flags().IntVarP(&totalOverride, "total", "n", 0, "total number of requests")
	runCmd.Flags().StringVar(&promptOverride, "prompt", "", "prompt sent with every request")
	runCmd.Flags().IntVar(&maxLengthOverride, "max-length", 0, "max_length sent with every request")
	runCmd.Flags().Float64Var(&temperatureOverride, "temperature", 0, "temperature sent with every request")
	runCmd.Flags().DurationVar(&timeoutOverride, "timeout", 0, "per-request timeout (0 disables)")
	runCmd.Flags().StringVarP(&outFile, "out", "o", "", "write every outcome to this JSON Lines file")
}
