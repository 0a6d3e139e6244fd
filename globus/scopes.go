package globus

const (
	DefaultAuthURL     = "https://auth.globus.org"
	DefaultFlowsURL    = "https://flows.globus.org"
	DefaultTransferURL = "https://transfer.api.globus.org/v0.10"
	DefaultWebAppURL   = "https://app.globus.org"

	// NativeRedirectURL shows the authorization code to the user for copy/paste.
	NativeRedirectURL = "https://auth.globus.org/v2/web/auth-code"

	AuthResourceServer     = "auth.globus.org"
	TransferResourceServer = "transfer.api.globus.org"
	FlowsResourceServer    = "flows.globus.org"

	OpenIDScope   = "openid"
	ProfileScope  = "profile"
	EmailScope    = "email"
	TransferScope = "urn:globus:auth:scope:transfer.api.globus.org:all"

	ManageFlowsScope = "https://auth.globus.org/scopes/eec9b274-0c81-4334-bdc2-54e90e689b9a/manage_flows"
	RunStatusScope   = "https://auth.globus.org/scopes/eec9b274-0c81-4334-bdc2-54e90e689b9a/run_status"
)

// DefaultScopes are requested by login in addition to any flow scope.
var DefaultScopes = []string{OpenIDScope, ProfileScope, EmailScope, TransferScope, ManageFlowsScope, RunStatusScope}
