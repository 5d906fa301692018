// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/sessionboot/pkg/bootstrap"
	"github.com/telekom/sessionboot/pkg/identity"
	"github.com/telekom/sessionboot/pkg/loopback"
	"github.com/telekom/sessionboot/pkg/system"
)

func NewLoginCommand() *cobra.Command {
	var (
		noBrowser       bool
		callbackAddress string
		timeout         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through the browser",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			logger, err := rt.Logger()
			if err != nil {
				return err
			}
			addr := rt.cfg.CLI.CallbackAddress
			if callbackAddress != "" {
				addr = callbackAddress
			}
			opener := loopback.OpenBrowser
			if rt.opener != nil {
				opener = rt.opener
			}
			if noBrowser || !rt.cfg.CLI.OpenBrowser {
				opener = func(string) error { return nil }
			}

			loc, err := loopback.Listen(addr, loopback.WithOpener(opener), loopback.WithOutput(rt.Writer()))
			if err != nil {
				return err
			}
			defer func() { _ = loc.Close() }()

			cacheOpt, err := rt.cacheOption()
			if err != nil {
				return err
			}
			b := bootstrap.New(rt.cfg.Identity, bootstrap.NewClientFactory(cacheOpt),
				bootstrap.WithLogger(system.Logr(logger)),
				bootstrap.WithMode("cli"),
			)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			session, err := loopback.Login(ctx, b, loc)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("login timed out after %s", timeout)
				}
				return err
			}

			name := ""
			if c, ok := session.Client.(interface {
				User(context.Context) (identity.User, error)
			}); ok {
				if user, err := c.User(ctx); err == nil {
					name = user.DisplayName()
				}
			}
			if name == "" {
				_, _ = fmt.Fprintln(rt.Writer(), "Logged in.")
			} else {
				_, _ = fmt.Fprintf(rt.Writer(), "Logged in as %s.\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the login URL instead of opening a browser")
	cmd.Flags().StringVar(&callbackAddress, "callback-address", "", "Loopback address receiving the login callback (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for the login to complete")
	return cmd
}

type sessionStatus struct {
	Authenticated bool           `json:"authenticated" yaml:"authenticated"`
	Issuer        string         `json:"issuer" yaml:"issuer"`
	ClientID      string         `json:"clientId" yaml:"clientId"`
	Audience      string         `json:"audience,omitempty" yaml:"audience,omitempty"`
	User          *identity.User `json:"user,omitempty" yaml:"user,omitempty"`
	Expiry        *time.Time     `json:"expiry,omitempty" yaml:"expiry,omitempty"`
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is cached and for whom",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			client, err := rt.client(ctx)
			if err != nil {
				return err
			}
			status := sessionStatus{
				Issuer:   rt.cfg.Identity.Issuer(),
				ClientID: rt.cfg.Identity.ClientID,
				Audience: rt.cfg.Identity.Audience,
			}
			if status.Authenticated, err = client.IsAuthenticated(ctx); err != nil {
				return err
			}
			if status.Authenticated {
				if user, err := client.User(ctx); err == nil {
					status.User = &user
				}
				if entry, err := client.Token(ctx); err == nil && !entry.Expiry.IsZero() {
					expiry := entry.Expiry.UTC()
					status.Expiry = &expiry
				}
			}
			return writeObject(rt.Writer(), rt.OutputFormat(), status, func(w io.Writer) error {
				if !status.Authenticated {
					_, err := fmt.Fprintf(w, "Not logged in to %s. Run 'sessionboot login'.\n", status.Issuer)
					return err
				}
				_, _ = fmt.Fprintf(w, "Logged in to %s\n", status.Issuer)
				if status.User != nil {
					_, _ = fmt.Fprintf(w, "  user:    %s\n", status.User.DisplayName())
					_, _ = fmt.Fprintf(w, "  subject: %s\n", status.User.Subject)
				}
				if status.Expiry != nil {
					_, _ = fmt.Fprintf(w, "  expires: %s\n", status.Expiry.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func NewTokenCommand() *cobra.Command {
	var idToken bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the access token of the cached session, refreshing it when needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			client, err := rt.client(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := client.Token(cmd.Context())
			if err != nil {
				if errors.Is(err, identity.ErrNotAuthenticated) {
					return fmt.Errorf("%w: run 'sessionboot login' first", err)
				}
				return err
			}
			token := entry.AccessToken
			if idToken {
				if entry.IDToken == "" {
					return errors.New("the session has no id token")
				}
				token = entry.IDToken
			}
			_, _ = fmt.Fprintln(rt.Writer(), token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&idToken, "id-token", false, "Print the ID token instead of the access token")
	return cmd
}

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the cached session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			client, err := rt.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.Logout(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Logged out.")
			if u := client.LogoutURL(""); u != "" {
				_, _ = fmt.Fprintf(rt.Writer(), "To end the session at the identity provider as well, open:\n%s\n", u)
			}
			return nil
		},
	}
}
