package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/roast-sub000/internal/engine"
	"github.com/martinemde/roast-sub000/internal/loader"
	"github.com/martinemde/roast-sub000/internal/streaming"
	"github.com/martinemde/roast-sub000/pkg/mcp"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

type executeFlags struct {
	target      string
	replay      string
	sessionID   string
	retries     map[string]int
	exitOnError map[string]string
	metricsAddr string
	jsonOut     bool
	output      string
	events      bool
}

func newExecuteCmd(a *app) *cobra.Command {
	f := &executeFlags{}
	cmd := &cobra.Command{
		Use:   "execute <workflow> [target]",
		Short: "Run a workflow",
		Example: `  roast execute review/workflow.yml src/app.go
  roast execute review/workflow.yml --replay 20261019_101500_000:lint`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 && f.target == "" {
				f.target = args[1]
			}
			return runExecute(cmd, a, args[0], f)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.target, "target", "t", "", "target file or glob the workflow operates on")
	flags.StringVarP(&f.replay, "replay", "r", "", "resume from a step: <step> or <timestamp>:<step>")
	flags.StringVar(&f.sessionID, "session-id", "", "session id (defaults to one derived from workflow name and target)")
	flags.StringToIntVar(&f.retries, "retries", nil, "per-step retry overrides, e.g. lint=3")
	flags.StringToStringVar(&f.exitOnError, "exit-on-error", nil, "per-step exit_on_error overrides, e.g. lint=false")
	flags.StringVar(&f.metricsAddr, "metrics-addr", a.cfg.MetricsAddr, "serve Prometheus metrics on this address while running")
	flags.BoolVar(&f.jsonOut, "json", false, "print the run result as JSON")
	flags.StringVarP(&f.output, "output", "o", "", "also write the final output to this file")
	flags.BoolVar(&f.events, "events", false, "stream run events to stderr as JSON lines")
	return cmd
}

func runExecute(cmd *cobra.Command, a *app, path string, f *executeFlags) error {
	ctx := cmd.Context()

	exitOnError, err := parseExitOnError(f.exitOnError)
	if err != nil {
		return err
	}
	validator, err := a.Validator()
	if err != nil {
		return err
	}
	wf, err := loader.Load(path, loader.Options{Validator: validator, Target: f.target, Logger: a.Logger()})
	if err != nil {
		return err
	}
	eng, err := a.Engine(ctx)
	if err != nil {
		return err
	}
	if f.metricsAddr != "" {
		a.ServeMetrics(ctx, f.metricsAddr)
	}

	opts := engine.RunOptions{
		SessionID:   f.sessionID,
		Replay:      f.replay,
		Retries:     f.retries,
		ExitOnError: exitOnError,
	}
	stopEvents := func() {}
	if f.events {
		if stopEvents, err = streamEvents(ctx, cmd.ErrOrStderr(), &opts); err != nil {
			return err
		}
	}

	result, runErr := eng.Run(ctx, wf, opts)
	stopEvents()
	if runErr != nil {
		if result != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "session %s (%s) failed after %d steps\n", result.SessionID, result.Timestamp, result.StepsRun)
		}
		return runErr
	}

	if f.output != "" {
		if err := os.WriteFile(f.output, []byte(result.FinalOutput()+"\n"), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	if f.jsonOut {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	if out := result.FinalOutput(); out != "" {
		fmt.Fprintln(cmd.OutOrStdout(), out)
	}
	return nil
}

// streamEvents publishes the run's events through a hub and writes them to
// w as JSON lines. stop drains the subscription and must be called once the
// run returns.
func streamEvents(ctx context.Context, w io.Writer, opts *engine.RunOptions) (stop func(), err error) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(ctx, streaming.Filter{})
	if err != nil {
		return nil, err
	}
	opts.Observer = hub.Observer()

	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(w)
		for ev := range ch {
			_ = enc.Encode(ev)
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

// parseExitOnError converts step=bool pairs from the command line.
func parseExitOnError(raw map[string]string) (map[string]bool, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]bool, len(raw))
	for step, v := range raw {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, schema.ConfigurationError("--exit-on-error %s=%q: want true or false", step, v)
		}
		out[step] = b
	}
	return out, nil
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Check a workflow file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			validator, err := a.Validator()
			if err != nil {
				return err
			}
			wf, err := loader.Load(args[0], loader.Options{Validator: validator, Logger: a.Logger()})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d steps, valid\n", wf.Name, len(wf.Steps))
			return nil
		},
	}
}

func newSnapshotsCmd(a *app) *cobra.Command {
	var (
		timestamp string
		jsonOut   bool
	)
	cmd := &cobra.Command{
		Use:   "snapshots <session-id>",
		Short: "List the state snapshots of a session run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.Store(cmd.Context())
			if err != nil {
				return err
			}
			recs, err := repo.List(cmd.Context(), args[0], timestamp)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			if len(recs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no snapshots for session %s\n", args[0])
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tSTEP\tTIMESTAMP\tCREATED")
			for _, rec := range recs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", rec.Order, rec.StepName, rec.Timestamp, rec.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "run timestamp (defaults to the latest run)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print snapshots as JSON")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	var workflowDir string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve roast tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			validator, err := a.Validator()
			if err != nil {
				return err
			}
			eng, err := a.Engine(ctx)
			if err != nil {
				return err
			}
			repo, err := a.Store(ctx)
			if err != nil {
				return err
			}
			srv := mcp.NewRoastServer(mcp.RoastServerDeps{
				Runner:      eng,
				Store:       repo,
				Steps:       a.steps,
				Validator:   validator,
				WorkflowDir: workflowDir,
				Version:     version,
				Logger:      a.Logger(),
			})
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&workflowDir, "workflow-dir", "", "directory relative workflow paths resolve against")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
