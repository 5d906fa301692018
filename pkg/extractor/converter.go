// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Converter turns an uploaded document into plain text.
type Converter interface {
	Text(ctx context.Context, document io.Reader) (string, error)
}

// Ghostscript converts PDF documents with the txtwrite device. The document
// is passed on stdin and the text read from stdout.
type Ghostscript struct {
	// Binary is the gs executable. Default: gs from PATH.
	Binary string
}

var ghostscriptArgs = []string{"-q", "-sDEVICE=txtwrite", "-dBATCH", "-dNOPAUSE", "-dSAFER", "-sOutputFile=-", "-"}

func (g Ghostscript) Text(ctx context.Context, document io.Reader) (string, error) {
	binary := g.Binary
	if binary == "" {
		binary = "gs"
	}
	cmd := exec.CommandContext(ctx, binary, ghostscriptArgs...)
	cmd.Stdin = document
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("ghostscript failed: %w: %s", err, msg)
		}
		return "", fmt.Errorf("ghostscript failed: %w", err)
	}
	return stdout.String(), nil
}
