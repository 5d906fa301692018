// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/gin-gonic/gin"
)

const errorPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{ .Title }}</title>
</head>
<body>
  <main>
    <h1>{{ .Title }}</h1>
    <p>{{ .Message | trunc 500 }}</p>
    {{- if .RequestID }}
    <p><small>Reference: {{ .RequestID | upper }}</small></p>
    {{- end }}
    <p><small>{{ .Time | date "2006-01-02 15:04:05 MST" }}</small></p>
    <p><a href="/">{{ .Retry | default "Try again" }}</a></p>
  </main>
</body>
</html>
`

var errorPage = template.Must(template.New("error").Funcs(sprig.FuncMap()).Parse(errorPageTemplate))

type errorPageData struct {
	Title     string
	Message   string
	RequestID string
	Retry     string
	Time      time.Time
}

// renderError answers a page load that could not be bootstrapped.
func renderError(c *gin.Context, status int, title, message string) {
	data := errorPageData{
		Title:     title,
		Message:   message,
		RequestID: c.GetHeader("X-Request-ID"),
		Time:      time.Now().UTC(),
	}
	var buf bytes.Buffer
	if err := errorPage.Execute(&buf, data); err != nil {
		c.String(status, "%s: %s", title, message)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

func renderInternalError(c *gin.Context) {
	renderError(c, http.StatusInternalServerError, "Sign-in is currently unavailable",
		"The session could not be set up. Please try again in a moment.")
}
