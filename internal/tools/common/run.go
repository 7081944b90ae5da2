package common

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/reading-diary/internal/tools/ui"
)

// ExitCodeFailed is returned to the shell when an action fails.
const ExitCodeFailed = 3

type Options struct {
	EnvFile string
	Timeout time.Duration
	CI      bool
	Out     io.Writer
}

// Bind registers the shared flags and routes CI output through the command's writer.
func (o *Options) Bind(cmd *cobra.Command) {
	cmd.PersistentPreRun = func(c *cobra.Command, _ []string) {
		o.Out = c.OutOrStdout()
	}
	cmd.PersistentFlags().StringVar(&o.EnvFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&o.Timeout, "timeout", 30*time.Second, "operation timeout")
	cmd.PersistentFlags().BoolVar(&o.CI, "ci", false, "non-interactive machine-readable output")
}

// Run loads the env file and executes action either headless with a JSON
// result (--ci) or under the interactive progress view.
func Run(opts *Options, title string, action func(context.Context) ([]string, error)) error {
	if err := LoadEnvFile(opts.EnvFile); err != nil {
		return err
	}
	if !opts.CI {
		_, err := ui.Run(title, opts.Timeout, action)
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	start := time.Now()
	details, err := action(ctx)
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if printErr := PrintCIResult(out, title, details, time.Since(start), err); printErr != nil && err == nil {
		return printErr
	}
	return err
}
