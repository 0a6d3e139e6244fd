package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"flowrunner/flows"
	"flowrunner/globus"
	"flowrunner/internal/store"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		clientID   string
		flowScopes []string
	)
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to Globus and save the credentials next to the run records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireGlobus("login"); err != nil {
				return err
			}
			if clientID == "" {
				clientID = a.cfg.GlobusClientID
			}
			if clientID == "" {
				return flows.Configf("a native app client id is required (--client-id or GLOBUS_CLIENT_ID)")
			}
			ctx := cmd.Context()
			scopes := append(append([]string{}, globus.DefaultScopes...), flowScopes...)
			auth := globus.NewAuthClient(a.cfg.GlobusAuthURL, clientID, scopes, globus.NewTokenStore(), globus.WithLogger(a.logger))

			fmt.Fprintf(a.out, "Please log in to Globus here:\n\n%s\n\n", auth.AuthorizeURL(uuid.NewString()))
			fmt.Fprint(a.out, "Enter the resulting Authorization Code here: ")
			code, err := bufio.NewReader(a.in).ReadString('\n')
			if err != nil && code == "" {
				return flows.Validationf("no authorization code entered").WithCause(err)
			}
			fmt.Fprintln(a.out)

			tokens, err := auth.Exchange(ctx, strings.TrimSpace(code))
			if err != nil {
				return err
			}
			auth.UseTokens(tokens)
			if identity, err := auth.Identity(ctx); err != nil {
				a.logger.Warn("failed to look up identity", "error", err)
			} else {
				displayIdentity(a.out, identity)
			}

			data, err := globus.EncodeBundle(tokens)
			if err != nil {
				return fmt.Errorf("failed to encode credentials: %w", err)
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			location, err := st.Save(ctx, store.TokensName, data)
			if err != nil {
				return err
			}
			displayGrants(a.out, tokens.Grants())
			fmt.Fprintf(a.out, "Credentials saved to %s\n", location)
			return nil
		},
	}
	loginCmd.Flags().StringVar(&clientID, "client-id", "", "native app client id (GLOBUS_CLIENT_ID)")
	loginCmd.Flags().StringSliceVar(&flowScopes, "flow-scope", nil, "additional flow scopes to consent to, e.g. the scope printed by deploy")
	return loginCmd
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity and scopes of the current credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireGlobus("whoami"); err != nil {
				return err
			}
			ctx := cmd.Context()
			tokens, err := a.tokens(ctx)
			if err != nil {
				return err
			}
			auth := globus.NewAuthClient(a.cfg.GlobusAuthURL, a.cfg.GlobusClientID, nil, tokens, globus.WithLogger(a.logger))
			identity, err := auth.Identity(ctx)
			if err != nil {
				return fmt.Errorf("failed to look up identity: %w", err)
			}
			displayIdentity(a.out, identity)
			displayGrants(a.out, tokens.Grants())
			return nil
		},
	}
}
