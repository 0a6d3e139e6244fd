package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"flowrunner/internal/store"
	"flowrunner/stepfunctions"
)

const inventoryDir = "state_machines"

// stateMachineLister is satisfied by *stepfunctions.Client.
type stateMachineLister interface {
	ListStateMachines(ctx context.Context) ([]stepfunctions.StateMachine, error)
}

func newStateMachinesCmd(a *app) *cobra.Command {
	var details bool
	stateMachinesCmd := &cobra.Command{
		Use:   "state-machines",
		Short: "List Step Functions state machines with their states and recent executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := a.newBackend(ctx)
			if err != nil {
				return err
			}
			lister, ok := b.(stateMachineLister)
			if !ok {
				return fmt.Errorf("backend %s cannot list state machines, use --backend stepfunctions", a.cfg.Backend)
			}
			stateMachines, err := lister.ListStateMachines(ctx)
			if err != nil {
				return fmt.Errorf("failed to list state machines: %w", err)
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			displayStateMachines(a.out, stateMachines)
			if details {
				for _, sm := range stateMachines {
					displayStates(a.out, sm)
					displayExecutions(a.out, sm)
				}
			}
			location, err := a.saveInventory(ctx, st, stateMachines)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "State machine definitions saved to %s\n", location)
			fmt.Fprintln(a.out, "Note: executions of EXPRESS state machines are read from CloudWatch Logs and need logging enabled.")
			return nil
		},
	}
	stateMachinesCmd.Flags().BoolVar(&details, "details", false, "also print the states and executions of every state machine")
	return stateMachinesCmd
}

func displayStateMachines(w io.Writer, stateMachines []stepfunctions.StateMachine) {
	smTable := tablewriter.NewWriter(w)
	smTable.SetHeader([]string{"Name", "ARN", "Type", "Role ARN", "Creation Date"})
	for _, sm := range stateMachines {
		smTable.Append([]string{
			sm.Name,
			sm.ARN,
			sm.Type,
			sm.RoleARN,
			sm.CreationDate,
		})
	}
	fmt.Fprintln(w, "State Machines:")
	smTable.Render()
	fmt.Fprintln(w)
}

func displayStates(w io.Writer, sm stepfunctions.StateMachine) {
	stateTable := tablewriter.NewWriter(w)
	stateTable.SetHeader([]string{"State Name", "Type", "Next", "End", "Definition"})
	for _, state := range sm.States {
		rawDef, err := json.Marshal(state.RawDefinition)
		if err != nil {
			continue
		}
		stateTable.Append([]string{
			state.Name,
			state.Type,
			state.Next,
			fmt.Sprintf("%v", state.End),
			truncate(string(rawDef)),
		})
	}
	fmt.Fprintf(w, "States for %s:\n", sm.Name)
	stateTable.Render()
	fmt.Fprintln(w)
}

func displayExecutions(w io.Writer, sm stepfunctions.StateMachine) {
	execTable := tablewriter.NewWriter(w)
	execTable.SetHeader([]string{"Execution ARN", "Status", "Start Time", "End Time", "Duration"})
	for _, exec := range sm.Executions {
		execTable.Append([]string{
			exec.ExecutionArn,
			exec.Status,
			exec.StartTime,
			exec.EndTime,
			exec.Duration,
		})
	}
	fmt.Fprintf(w, "Executions for %s:\n", sm.Name)
	execTable.Render()
	fmt.Fprintln(w)
}

// saveInventory writes one document per state machine plus the full listing and returns
// the listing's location.
func (a *app) saveInventory(ctx context.Context, st *store.Store, stateMachines []stepfunctions.StateMachine) (string, error) {
	for _, sm := range stateMachines {
		data, err := json.MarshalIndent(sm, "", "  ")
		if err != nil {
			a.logger.Warn("failed to marshal state machine", "name", sm.Name, "error", err)
			continue
		}
		if _, err := st.Save(ctx, path.Join(inventoryDir, store.Key(sm.Name)+".json"), data); err != nil {
			a.logger.Warn("failed to save state machine", "name", sm.Name, "error", err)
		}
	}
	data, err := json.MarshalIndent(stateMachines, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal state machines: %w", err)
	}
	return st.Save(ctx, path.Join(inventoryDir, "state_machines.json"), data)
}
