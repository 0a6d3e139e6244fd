package cmd

import (
	"sort"

	"github.com/spf13/cobra"
)

type runTargetFlags struct {
	flowID string
	scope  string
}

func (f *runTargetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.flowID, "flow-id", "", "flow the run belongs to; looked up from the run record when empty")
	cmd.Flags().StringVar(&f.scope, "scope", "", "scope of the flow; looked up from the flow record when empty")
}

func newStatusCmd(a *app) *cobra.Command {
	target := &runTargetFlags{}
	statusCmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Poll a run once and print its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]
			flowID, scope, err := a.runTarget(ctx, runID, target.flowID, target.scope)
			if err != nil {
				return err
			}
			b, err := a.newBackend(ctx)
			if err != nil {
				return err
			}
			handle, err := b.Status(ctx, flowID, scope, runID)
			if err != nil {
				return err
			}
			a.saveRun(ctx, a.store, handle)
			displayRun(a.out, handle)
			return nil
		},
	}
	target.register(statusCmd)
	return statusCmd
}

func newLogCmd(a *app) *cobra.Command {
	var limit int
	target := &runTargetFlags{}
	logCmd := &cobra.Command{
		Use:   "log <run-id>",
		Short: "List the events recorded for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]
			flowID, scope, err := a.runTarget(ctx, runID, target.flowID, target.scope)
			if err != nil {
				return err
			}
			b, err := a.newBackend(ctx)
			if err != nil {
				return err
			}
			entries, err := b.Log(ctx, flowID, scope, runID, limit)
			if err != nil {
				return err
			}
			displayLog(a.out, entries)
			return nil
		},
	}
	target.register(logCmd)
	logCmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events, 0 for all")
	return logCmd
}

func newCancelCmd(a *app) *cobra.Command {
	target := &runTargetFlags{}
	cancelCmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Ask the service to stop a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]
			flowID, scope, err := a.runTarget(ctx, runID, target.flowID, target.scope)
			if err != nil {
				return err
			}
			b, err := a.newBackend(ctx)
			if err != nil {
				return err
			}
			handle, err := b.Cancel(ctx, flowID, scope, runID)
			if err != nil {
				return err
			}
			a.saveRun(ctx, a.store, handle)
			displayRun(a.out, handle)
			return nil
		},
	}
	target.register(cancelCmd)
	return cancelCmd
}

func newRunsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List the runs recorded under the output location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			handles, err := st.ListRuns(ctx)
			if err != nil {
				return err
			}
			sort.Slice(handles, func(i, j int) bool { return handles[i].StartTime.Before(handles[j].StartTime) })
			displayRuns(a.out, handles)
			return nil
		},
	}
}
