package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/BaSui01/agentgraph/checkpoint"
	"github.com/BaSui01/agentgraph/events"
	"github.com/BaSui01/agentgraph/gate"
	"github.com/BaSui01/agentgraph/scheduler"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph-file>",
		Short: "Validate a graph definition (YAML or JSON)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := workflow.LoadGraphFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "graph %q is valid\n", g.Name)
			fmt.Fprintf(out, "  entry:       %s\n", g.Entry)
			fmt.Fprintf(out, "  nodes:       %s\n", strings.Join(g.NodeIDs(), ", "))
			fmt.Fprintf(out, "  edges:       %d\n", len(g.Edges()))
			fmt.Fprintf(out, "  fingerprint: %s\n", g.Fingerprint())
			return nil
		},
	}
}

// eventsFlag 把事件以 JSON 行写到 stderr
type eventsFlag struct {
	enabled bool
}

func (f *eventsFlag) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.enabled, "events", false, "Stream execution events to stderr as JSON lines")
}

// start 返回事件出口与等待其排空的函数
func (f *eventsFlag) start(a *app, w io.Writer) (events.Publisher, func()) {
	if !f.enabled {
		return events.Discard{}, func() {}
	}
	sink := events.NewSink(a.cfg.Engine.SinkBuffer, events.OverflowPolicy(a.cfg.Engine.SinkPolicy), a.logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(w)
		for env := range sink.C() {
			if err := enc.Encode(env); err != nil {
				a.logger.Debug("failed to write event", zap.Error(err))
			}
		}
	}()
	return sink, func() {
		sink.Close()
		<-done
		if n := sink.Dropped(); n > 0 {
			a.logger.Warn("events dropped", zap.Int64("count", n))
		}
	}
}

func newRunCommand(a *app) *cobra.Command {
	var (
		input       string
		executionID string
		ev          eventsFlag
	)
	cmd := &cobra.Command{
		Use:   "run <graph-file>",
		Short: "Run a graph workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := workflow.LoadGraphFile(args[0])
			if err != nil {
				return err
			}
			engine, finish, err := a.engine(cmd, &ev)
			if err != nil {
				return err
			}
			res, err := engine.Run(cmd.Context(), g, input, workflow.RunOptions{ExecutionID: executionID})
			finish()
			if res != nil {
				printRunResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Input for the entry node")
	cmd.Flags().StringVar(&executionID, "execution-id", "", "Execution id (generated when empty)")
	ev.register(cmd)
	return cmd
}

func newResumeCommand(a *app) *cobra.Command {
	var (
		reject bool
		input  string
		reason string
		ev     eventsFlag
	)
	cmd := &cobra.Command{
		Use:   "resume <execution-id> <graph-file>",
		Short: "Resume an interrupted or crashed graph run",
		Long:  "Resume continues a run from its last checkpoint. A pending review interrupt is approved unless --reject is given.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := workflow.LoadGraphFile(args[1])
			if err != nil {
				return err
			}
			engine, finish, err := a.engine(cmd, &ev)
			if err != nil {
				return err
			}
			res, err := engine.Resume(cmd.Context(), g, args[0], workflow.Decision{
				Approved: !reject,
				Input:    input,
				Reason:   reason,
			})
			finish()
			if res != nil {
				printRunResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject the pending interrupt")
	cmd.Flags().StringVarP(&input, "input", "i", "", "Replacement input (before) or output (after) for the interrupted node")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the decision")
	ev.register(cmd)
	return cmd
}

func (a *app) engine(cmd *cobra.Command, ev *eventsFlag) (*workflow.Engine, func(), error) {
	registry, err := a.agentRegistry()
	if err != nil {
		return nil, nil, err
	}
	manager, err := a.checkpointManager(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	sink, finish := ev.start(a, cmd.ErrOrStderr())
	engine := workflow.NewEngineFromConfig(registry, a.cfg.Engine,
		workflow.WithCheckpointManager(manager),
		workflow.WithSink(sink),
		workflow.WithMetrics(a.metrics),
		workflow.WithLogger(a.logger),
	)
	return engine, finish, nil
}

func printRunResult(w io.Writer, res *workflow.RunResult) {
	fmt.Fprintf(w, "execution %s: %s after %d iteration(s)\n", res.ExecutionID, res.Status, res.Iterations)
	if res.Interrupt != nil {
		fmt.Fprintf(w, "waiting for review %s node %s (interrupt %s)\n",
			res.Interrupt.Phase, res.Interrupt.NodeID, res.Interrupt.ID)
		fmt.Fprintf(w, "resume with: agentgraph resume %s <graph-file> [--reject]\n", res.ExecutionID)
	}
	if res.Output != "" {
		fmt.Fprintf(w, "output:\n%s\n", res.Output)
	}
}

func newPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <plan-file>",
		Short: "Show the dependency layers of a batch plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := scheduler.LoadPlan(args[0])
			if err != nil {
				return err
			}
			batches, err := plan.Batches()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d stories in %d layer(s)\n", len(plan.Stories), len(batches))
			for _, b := range batches {
				fmt.Fprintf(out, "layer %d: %s\n", b.Index, strings.Join(b.Stories, ", "))
			}
			return nil
		},
	}
}

func newBatchCommand(a *app) *cobra.Command {
	var (
		executionID string
		resume      bool
		ev          eventsFlag
	)
	cmd := &cobra.Command{
		Use:   "batch <plan-file>",
		Short: "Execute a batch plan layer by layer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resume && executionID == "" {
				return errors.New("--resume requires --execution-id")
			}
			plan, err := scheduler.LoadPlan(args[0])
			if err != nil {
				return err
			}
			registry, err := a.agentRegistry()
			if err != nil {
				return err
			}
			gates, err := gate.NewPipelineFromConfig(a.cfg.Gate, a.logger, gate.WithMetrics(a.metrics))
			if err != nil {
				return err
			}
			manager, err := a.checkpointManager(cmd.Context())
			if err != nil {
				return err
			}
			sink, finish := ev.start(a, cmd.ErrOrStderr())

			s := scheduler.NewFromConfig(registry, a.cfg.Scheduler,
				scheduler.WithGates(gates),
				scheduler.WithCheckpointManager(manager),
				scheduler.WithSink(sink),
				scheduler.WithMetrics(a.metrics),
				scheduler.WithLogger(a.logger),
			)

			var res *scheduler.BatchResult
			if resume {
				res, err = s.Resume(cmd.Context(), executionID, plan.Stories)
			} else {
				res, err = s.Run(cmd.Context(), plan.Stories, scheduler.WithExecutionID(executionID))
			}
			finish()
			if res != nil {
				printBatchResult(cmd.OutOrStdout(), res)
			}
			if err != nil {
				return err
			}
			return res.Err()
		},
	}
	cmd.Flags().StringVar(&executionID, "execution-id", "", "Execution id (generated when empty)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue from the last checkpoint of --execution-id")
	ev.register(cmd)
	return cmd
}

func printBatchResult(w io.Writer, res *scheduler.BatchResult) {
	fmt.Fprintf(w, "execution %s\n", res.ExecutionID)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tSTORY\tSTATUS\tAGENT\tATTEMPTS\tDETAIL")
	for _, b := range res.Batches {
		for _, id := range b.Stories {
			u := res.Units[id]
			detail := u.Error
			if detail == "" && len(u.Warnings) > 0 {
				detail = fmt.Sprintf("%d warning(s)", len(u.Warnings))
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", b.Index, id, u.Status, u.Agent, u.Attempts, firstLine(detail))
		}
	}
	_ = tw.Flush()
}

func newGateCommand(a *app) *cobra.Command {
	var unitID string
	cmd := &cobra.Command{
		Use:   "gate <file>",
		Short: "Run the configured quality gates against a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			p, err := gate.NewPipelineFromConfig(a.cfg.Gate, a.logger, gate.WithMetrics(a.metrics))
			if err != nil {
				return err
			}
			if unitID == "" {
				unitID = args[0]
			}
			res, err := p.Run(cmd.Context(), gate.Artifact{UnitID: unitID, Content: string(content)})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, ph := range res.Phases {
				fmt.Fprintf(out, "%s (%s): %s\n", ph.Phase, ph.Mode, ph.Outcome)
				for _, g := range ph.Gates {
					fmt.Fprintf(out, "  %-20s %s %s\n", g.Gate, g.Outcome, g.Duration)
				}
			}
			if d := res.Diagnostics(); d != "" {
				fmt.Fprintf(out, "\n%s\n", d)
			}
			return res.Err()
		},
	}
	cmd.Flags().StringVar(&unitID, "unit", "", "Unit id passed to the gates (defaults to the file name)")
	return cmd
}

func newCheckpointCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect stored checkpoints",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List execution ids with a checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.checkpointManager(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <execution-id>",
		Short: "Print a checkpoint as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := loadCheckpoint(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <execution-id>",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.checkpointManager(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func loadCheckpoint(ctx context.Context, a *app, id string) (*checkpoint.GraphCheckpoint, error) {
	m, err := a.checkpointManager(ctx)
	if err != nil {
		return nil, err
	}
	return m.Load(ctx, id)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
