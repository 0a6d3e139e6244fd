package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"flowrunner/flows"
	"flowrunner/globus"
	"flowrunner/internal/store"
)

const defaultFlowTitle = "Transfer and Share Files"

// flowOptions locate the flow to run: an already registered id, or a definition to deploy.
type flowOptions struct {
	flowID        string
	scope         string
	definitionURL string
	schemaURL     string
	title         string
}

func (o *flowOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.definitionURL, "definition", "", "definition document (JSON or YAML, any afs URL); the bundled transfer-and-share flow when empty")
	cmd.Flags().StringVar(&o.schemaURL, "schema", "", "input schema document; the bundled schema when no definition is given")
	cmd.Flags().StringVar(&o.title, "title", defaultFlowTitle, "title of the deployed flow")
}

// loadDefinition returns the definition and schema to deploy.
func (a *app) loadDefinition(ctx context.Context, st *store.Store, opts *flowOptions) (*flows.Definition, map[string]any, error) {
	var (
		def    *flows.Definition
		schema map[string]any
		err    error
	)
	if opts.definitionURL == "" {
		if def, err = flows.TransferShareDefinition(); err != nil {
			return nil, nil, err
		}
		if opts.schemaURL == "" {
			if schema, err = flows.TransferShareInputSchema(); err != nil {
				return nil, nil, err
			}
		}
	} else if def, err = st.LoadDefinition(ctx, opts.definitionURL); err != nil {
		return nil, nil, err
	}
	if opts.schemaURL != "" {
		if schema, err = st.LoadDocument(ctx, opts.schemaURL); err != nil {
			return nil, nil, err
		}
	}
	return def, schema, nil
}

func (a *app) deploy(ctx context.Context, b backend, st *store.Store, opts *flowOptions) (*flows.Flow, error) {
	def, schema, err := a.loadDefinition(ctx, st, opts)
	if err != nil {
		return nil, err
	}
	flow, err := a.runner(b).Deploy(ctx, b, def, opts.title, schema)
	if err != nil {
		return nil, err
	}
	if _, err := st.SaveFlow(ctx, flow); err != nil {
		a.logger.Warn("failed to record deployed flow", "flow_id", flow.ID, "error", err)
	}
	return flow, nil
}

// resolveFlow returns the flow named by --flow-id, or deploys a new one.
func (a *app) resolveFlow(ctx context.Context, b backend, st *store.Store, opts *flowOptions) (*flows.Flow, error) {
	if opts.flowID == "" {
		return a.deploy(ctx, b, st, opts)
	}
	flow, err := st.LoadFlow(ctx, opts.flowID)
	if err != nil {
		if !flows.IsCode(err, flows.CodeNotFound) {
			return nil, err
		}
		flow = &flows.Flow{ID: opts.flowID}
	}
	if opts.scope != "" {
		flow.Scope = opts.scope
	}
	if opts.definitionURL != "" {
		def, schema, err := a.loadDefinition(ctx, st, opts)
		if err != nil {
			return nil, err
		}
		flow.Definition = def
		if schema != nil {
			flow.InputSchema = schema
		}
	}
	return flow, nil
}

func newDeployCmd(a *app) *cobra.Command {
	opts := &flowOptions{}
	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Register a flow definition and print its id and scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := a.newBackend(ctx)
			if err != nil {
				return err
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			flow, err := a.deploy(ctx, b, st, opts)
			if err != nil {
				return err
			}
			displayFlow(a.out, flow)
			if flow.Scope != "" {
				fmt.Fprintf(a.out, "Consent to the flow scope before running it: flowrunner login --flow-scope %s\n", flow.Scope)
			}
			return nil
		},
	}
	opts.register(deployCmd)
	return deployCmd
}

func newRunCmd(a *app) *cobra.Command {
	var (
		opts     = &flowOptions{}
		inputURL string
		label    string
		strict   bool
		noWait   bool
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a run, wait for it to finish and report what it shared",
		Long: `run submits the input document to a flow and polls the run until it
succeeds, fails or is canceled. Without --flow-id the definition is deployed
first. A failed run is not compensated: files already transferred stay in
place until removed with the cleanup command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := a.newBackend(ctx)
			if err != nil {
				return err
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			input, err := st.LoadInput(ctx, inputURL)
			if err != nil {
				return err
			}
			flow, err := a.resolveFlow(ctx, b, st, opts)
			if err != nil {
				return err
			}

			runner := a.runner(b)
			handle, err := runner.Submit(ctx, flow, input, label)
			if err != nil {
				return err
			}
			a.saveRun(ctx, st, handle)
			fmt.Fprintf(a.out, "Submitted run %s of flow %s\n", handle.RunID, flow.ID)
			if noWait {
				displayRun(a.out, handle)
				return nil
			}

			await := runner.AwaitCompletion
			if strict {
				await = runner.AwaitSuccess
			}
			final, err := await(ctx, handle, a.cfg.PollInterval, flow.Scope)
			var failed *flows.RunFailedError
			if errors.As(err, &failed) {
				final = failed.Handle
			}
			if final != nil {
				a.saveRun(ctx, st, final)
				displayRun(a.out, final)
				if conflict := a.reportOutcome(final, input); conflict != nil && err != nil {
					return conflict.WithCause(err)
				}
			}
			return err
		},
	}
	opts.register(runCmd)
	runCmd.Flags().StringVar(&opts.flowID, "flow-id", "", "run an already deployed flow instead of deploying one")
	runCmd.Flags().StringVar(&opts.scope, "scope", "", "scope of the flow given by --flow-id")
	runCmd.Flags().StringVarP(&inputURL, "input", "i", "", "run input document (JSON or YAML, any afs URL)")
	runCmd.Flags().StringVar(&label, "label", "", "run label; generated when empty")
	runCmd.Flags().BoolVar(&strict, "strict", false, "exit with an error unless the run succeeds")
	runCmd.Flags().BoolVar(&noWait, "no-wait", false, "return right after submission")
	_ = runCmd.MarkFlagRequired("input")
	return runCmd
}

func (a *app) saveRun(ctx context.Context, st *store.Store, handle *flows.RunHandle) {
	location, err := st.SaveRun(ctx, handle)
	if err != nil {
		a.logger.Warn("failed to record run", "run_id", handle.RunID, "error", err)
		return
	}
	a.logger.Debug("run recorded", "run_id", handle.RunID, "location", location)
}

// reportOutcome prints the access rule and viewer link of a transfer-and-share run, or
// what was left behind when it did not succeed. It returns a CONFLICT error when the run
// failed because the access rule already exists.
func (a *app) reportOutcome(final *flows.RunHandle, input flows.RunInput) *flows.Error {
	endpoint, _ := input["destination_endpoint"].(string)
	path, _ := input["destination_path"].(string)

	if final.Status != flows.StatusSucceeded {
		if flows.PermissionExists(final) {
			principal, _ := input["principal_identifier"].(string)
			fmt.Fprintf(a.out, "Run %s: an access rule for %s on %s already exists. The transferred data is in place; remove the old rule before running again:\n", final.Status, principal, path)
			fmt.Fprintf(a.out, "  flowrunner cleanup --endpoint %s --rule-id <rule-id>\n", endpoint)
			return flows.Conflictf("access rule for %s on endpoint %s path %s already exists", principal, endpoint, path)
		}
		if _, err := flows.ExtractResultField(final, flows.TransferStep, ""); err == nil && endpoint != "" {
			fmt.Fprintf(a.out, "Run %s: the transfer completed but the run did not. The copied data is not removed automatically:\n", final.Status)
			fmt.Fprintf(a.out, "  flowrunner cleanup --endpoint %s --path %s\n", endpoint, path)
		}
		return nil
	}

	accessID, err := flows.ExtractResultString(final, flows.PermissionStep, flows.AccessIDField)
	if err != nil {
		a.logger.Debug("run result has no access rule", "run_id", final.RunID, "error", err)
	} else {
		fmt.Fprintf(a.out, "Access rule %s created on endpoint %s\n", accessID, endpoint)
	}
	if endpoint != "" && path != "" {
		fmt.Fprintf(a.out, "View the shared data at %s\n", globus.FileManagerURL(globus.DefaultWebAppURL, endpoint, path))
	}
	return nil
}
