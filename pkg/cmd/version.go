// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telekom/sessionboot/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show sessionboot version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			writer := cmd.OutOrStdout()
			format := ""
			if rt, err := getRuntime(cmd); err == nil {
				writer = rt.Writer()
				format = rt.outputFormat
			}
			return version.GetBuildInfo().Write(writer, format)
		},
	}
}
