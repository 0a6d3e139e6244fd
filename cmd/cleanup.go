package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowrunner/flows"
	"flowrunner/globus"
)

func newCleanupCmd(a *app) *cobra.Command {
	var (
		endpointID string
		ruleID     string
		path       string
		runID      string
	)
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete the access rule and the transferred directory of a run",
		Long: `cleanup removes what a transfer-and-share run left on the destination
endpoint. The access rule id is read from the recorded run when --run-id is
given; the directory is removed by an asynchronous delete task.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireGlobus("cleanup"); err != nil {
				return err
			}
			ctx := cmd.Context()
			if runID != "" && ruleID == "" {
				st, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				handle, err := st.LoadRun(ctx, runID)
				if err != nil {
					return fmt.Errorf("failed to load run %s: %w", runID, err)
				}
				if ruleID, err = flows.ExtractResultString(handle, flows.PermissionStep, flows.AccessIDField); err != nil {
					return err
				}
			}
			if ruleID == "" && path == "" {
				return flows.Validationf("nothing to clean up: give --rule-id, --run-id or --path")
			}

			tokens, err := a.tokens(ctx)
			if err != nil {
				return err
			}
			transfer := globus.NewTransferClient(a.cfg.GlobusTransferURL, tokens, globus.WithLogger(a.logger))
			if ruleID != "" {
				err := transfer.DeleteAccessRule(ctx, globus.AccessRule{EndpointID: endpointID, RuleID: ruleID})
				switch {
				case flows.IsCode(err, flows.CodeNotFound):
					fmt.Fprintf(a.out, "Access rule %s was already deleted\n", ruleID)
				case err != nil:
					return err
				default:
					fmt.Fprintf(a.out, "Deleted access rule %s\n", ruleID)
				}
			}
			if path != "" {
				taskID, err := transfer.DeleteTree(ctx, endpointID, path, true)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Submitted delete task %s for %s\n", taskID, path)
			}
			return nil
		},
	}
	cleanupCmd.Flags().StringVar(&endpointID, "endpoint", "", "destination endpoint id")
	cleanupCmd.Flags().StringVar(&ruleID, "rule-id", "", "access rule to delete")
	cleanupCmd.Flags().StringVar(&runID, "run-id", "", "read the access rule id from this recorded run")
	cleanupCmd.Flags().StringVar(&path, "path", "", "directory to delete recursively")
	_ = cleanupCmd.MarkFlagRequired("endpoint")
	return cleanupCmd
}
