package cmd

import (
	"context"

	"flowrunner/flows"
	"flowrunner/globus"
	"flowrunner/internal/config"
	"flowrunner/internal/store"
	"flowrunner/stepfunctions"
)

// backend is what every workflow service offers the CLI.
type backend interface {
	flows.Service
	flows.Registrar
	flows.RunLogger
	flows.Canceler
}

func (a *app) defaultBackend(ctx context.Context) (backend, error) {
	switch a.cfg.Backend {
	case config.BackendStepFunctions:
		client, err := stepfunctions.NewClient(ctx, a.cfg.AWSRegion, a.cfg.SFNRoleARN, a.logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		tokens, err := a.tokens(ctx)
		if err != nil {
			return nil, err
		}
		return globus.NewFlowsClient(a.cfg.GlobusFlowsURL, tokens, globus.WithLogger(a.logger)), nil
	}
}

// tokens loads the provisioned credential bundle, falling back to the one saved by login.
func (a *app) tokens(ctx context.Context) (*globus.TokenStore, error) {
	source := a.cfg.Bundle()
	if source.Data != "" || source.URL != "" {
		return globus.LoadBundle(ctx, source)
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	data, err := st.Download(ctx, st.URL(store.TokensName))
	if flows.IsCode(err, flows.CodeNotFound) {
		return nil, flows.Authorizationf("no Globus credentials: run flowrunner login or set GLOBUS_DATA")
	}
	if err != nil {
		return nil, err
	}
	return globus.DecodeBundle(data)
}

func (a *app) requireGlobus(command string) error {
	if a.cfg.Backend != config.BackendGlobus {
		return flows.Configf("%s is only available with the %s backend", command, config.BackendGlobus)
	}
	return nil
}

// runTarget fills in the flow id and scope of runID from the recorded run and flow when
// they were not given on the command line.
func (a *app) runTarget(ctx context.Context, runID, flowID, scope string) (string, string, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return "", "", err
	}
	if flowID == "" {
		handle, err := st.LoadRun(ctx, runID)
		if err != nil && !flows.IsCode(err, flows.CodeNotFound) {
			return "", "", err
		}
		if handle != nil {
			flowID = handle.FlowID
		}
	}
	if flowID == "" && a.cfg.Backend == config.BackendGlobus {
		return "", "", flows.Validationf("--flow-id is required for run %s", runID)
	}
	if scope == "" && flowID != "" {
		flow, err := st.LoadFlow(ctx, flowID)
		if err != nil && !flows.IsCode(err, flows.CodeNotFound) {
			return "", "", err
		}
		if flow != nil {
			scope = flow.Scope
		}
	}
	return flowID, scope, nil
}
