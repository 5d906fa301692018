// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telekom/sessionboot/pkg/apiresponses"
	"github.com/telekom/sessionboot/pkg/extractor"
	"github.com/telekom/sessionboot/pkg/metrics"
	"github.com/telekom/sessionboot/pkg/system"
)

// UploadField is the multipart field carrying the safety data sheet.
const UploadField = "file"

// extract converts an uploaded safety data sheet to text and returns the
// fields found in it.
func (s *Server) extract(c *gin.Context) {
	log := system.EnrichReqLogger(c, system.GetReqLogger(c, s.log))
	limit := s.cfg.Server.Extract.MaxUploadBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	file, header, err := c.Request.FormFile(UploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.Extractions.WithLabelValues("too_large").Inc()
			apiresponses.RespondRequestTooLarge(c, limit)
			return
		}
		metrics.Extractions.WithLabelValues("bad_request").Inc()
		log.Debugw("Rejected upload", "error", err)
		apiresponses.RespondBadRequest(c, "multipart form with a file field is required")
		return
	}
	defer func() { _ = file.Close() }()

	text, err := s.converter.Text(c.Request.Context(), file)
	if err != nil {
		metrics.Extractions.WithLabelValues("conversion_error").Inc()
		apiresponses.RespondInternalError(c, "convert document", err, log)
		return
	}

	result := extractor.Extract(text, log)
	metrics.Extractions.WithLabelValues("ok").Inc()
	log.Infow("Extracted safety data sheet", "file", header.Filename, "size", header.Size, "name", result.Name)
	c.JSON(http.StatusOK, result)
}
