// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/sessionboot/pkg/apiclient"
	"github.com/telekom/sessionboot/pkg/extractor"
	"github.com/telekom/sessionboot/pkg/identity"
	"github.com/telekom/sessionboot/pkg/version"
)

type serverFlags struct {
	server   string
	caFile   string
	insecure bool
}

func (f *serverFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "sessionboot server URL (default from cli.server-url)")
	cmd.Flags().StringVar(&f.caFile, "ca-file", "", "CA bundle for the server certificate")
	cmd.Flags().BoolVar(&f.insecure, "insecure-skip-tls-verify", false, "Skip server certificate verification")
}

// apiClient calls the server with the access token of the cached session.
func (rt *runtimeState) apiClient(cmd *cobra.Command, flags *serverFlags) (*apiclient.Client, error) {
	server := flags.server
	if server == "" {
		server = rt.cfg.CLI.ServerURL
	}
	if server == "" {
		return nil, errors.New("no server configured: pass --server or set cli.server-url")
	}
	client, err := rt.client(cmd.Context())
	if err != nil {
		return nil, err
	}
	entry, err := client.Token(cmd.Context())
	if err != nil {
		if errors.Is(err, identity.ErrNotAuthenticated) {
			return nil, fmt.Errorf("%w: run 'sessionboot login' first", err)
		}
		return nil, err
	}
	return apiclient.New(
		apiclient.WithServer(server),
		apiclient.WithToken(entry.AccessToken),
		apiclient.WithUserAgent("sessionboot/"+version.Version),
		apiclient.WithTLSConfig(flags.caFile, flags.insecure),
	)
}

func NewWhoamiCommand() *cobra.Command {
	flags := &serverFlags{}
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity a sessionboot server sees for the cached session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			api, err := rt.apiClient(cmd, flags)
			if err != nil {
				return err
			}
			session, err := api.Session(cmd.Context())
			if err != nil {
				return err
			}
			return writeObject(rt.Writer(), rt.OutputFormat(), session, func(w io.Writer) error {
				_, _ = fmt.Fprintf(w, "subject: %s\n", session.Subject)
				if session.Email != "" {
					_, _ = fmt.Fprintf(w, "email:   %s\n", session.Email)
				}
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func NewExtractCommand() *cobra.Command {
	flags := &serverFlags{}
	cmd := &cobra.Command{
		Use:   "extract FILE",
		Short: "Upload a safety data sheet PDF and print the extracted fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open document: %w", err)
			}
			defer func() { _ = file.Close() }()

			api, err := rt.apiClient(cmd, flags)
			if err != nil {
				return err
			}
			sheet, err := api.Extract(cmd.Context(), filepath.Base(args[0]), file)
			if err != nil {
				return err
			}
			return writeObject(rt.Writer(), rt.OutputFormat(), sheet, func(w io.Writer) error {
				return writeSheet(w, sheet)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func writeSheet(w io.Writer, sheet *extractor.SafetyDataSheet) error {
	rows := []struct{ label, value string }{
		{"Bezeichnung", sheet.Name},
		{"Signalwort", sheet.SignalWord},
		{"Lagerklasse", sheet.StorageClass},
		{"H-Sätze", strings.Join(sheet.HazardPhrases, ", ")},
		{"P-Sätze", strings.Join(sheet.SafetyPhrases, ", ")},
		{"GHS", strings.Join(sheet.GHS, ", ")},
		{"WGK", sheet.WaterHazard},
	}
	for _, row := range rows {
		if _, err := fmt.Fprintf(w, "%-12s %s\n", row.label+":", row.value); err != nil {
			return err
		}
	}
	return nil
}
