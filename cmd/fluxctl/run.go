package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"fluxpipe/internal/vtime"
)

func newRunCommand() *cobra.Command {
	var strictOverride bool
	var setStrict bool

	cmd := &cobra.Command{
		Use:   "run <script.marble>",
		Short: "Run a marble script against the virtual-time scheduler and report the diff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("strict") {
				setStrict = true
			}
			return runScript(afero.NewOsFs(), args[0], strictOverride, setStrict)
		},
	}
	cmd.Flags().BoolVar(&strictOverride, "strict", false, "override the script's strict setting")
	return cmd
}

func runScript(fs afero.Fs, path string, strictOverride bool, setStrict bool) error {
	script, err := vtime.LoadScript(fs, path)
	if err != nil {
		return err
	}
	if setStrict {
		script.Strict = strictOverride
	}

	values := vtime.IdentityValues(script.Source + script.Expect)

	sched := vtime.NewScheduler()
	ctx := sched.Context(context.Background())

	factory, err := vtime.Cold[string](script.Source, values, nil)
	if err != nil {
		return fmt.Errorf("parsing source marble: %w", err)
	}
	out := factory(ctx)

	expectation, err := vtime.ExpectStream[string](ctx, out, script.Strict)
	if err != nil {
		return fmt.Errorf("subscribing to source: %w", err)
	}

	sched.Run(func(h vtime.Helpers) {})

	ok, msg := expectation.ToBe(script.Expect, values, nil)
	if !ok {
		fmt.Printf("FAIL %s\n  source: %s\n  expect: %s\n  %s\n", path, script.Source, script.Expect, msg)
		return fmt.Errorf("marble expectation failed")
	}
	fmt.Printf("PASS %s\n", path)
	return nil
}
