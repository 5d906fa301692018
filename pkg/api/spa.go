// Source: https://github.com/mandrigin/gin-spa
//
// MIT License
//
// Copyright (c) 2020 Igor Mandrigin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package api

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"github.com/telekom/sessionboot/pkg/apiresponses"
	"github.com/telekom/sessionboot/pkg/config"
	"github.com/telekom/sessionboot/web"
)

// cacheControlWriter wraps http.ResponseWriter to set Cache-Control headers
// based on the request path before writing the response.
type cacheControlWriter struct {
	http.ResponseWriter
	path        string
	wroteHeader bool
}

func (w *cacheControlWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		// Vite builds produce hashed filenames below /assets/
		if strings.HasPrefix(w.path, "/assets/") {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		} else if strings.HasSuffix(w.path, ".html") || w.path == "/" {
			// the page carries session state, never cache it
			w.Header().Set("Cache-Control", "no-store")
		} else {
			w.Header().Set("Cache-Control", "public, max-age=3600, must-revalidate")
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *cacheControlWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// spa serves a built single page application. Files that exist are served as
// they are; every other path is a page load answered with index.html.
type spa struct {
	directory  static.ServeFileSystem
	fileserver http.Handler
}

// frontendFS is the embedded build, or FrontendDir on disk in dev mode so
// frontend rebuilds show up without restarting.
func frontendFS(cfg config.Server) (static.ServeFileSystem, error) {
	if cfg.Dev {
		return static.LocalFile(cfg.FrontendDir, false), nil
	}
	return static.EmbedFolder(web.Dist, web.DistDir)
}

func newSPA(directory static.ServeFileSystem) *spa {
	return &spa{
		directory:  directory,
		fileserver: http.FileServer(directory),
	}
}

func (s *spa) isAsset(path string) bool {
	if path == "/" || path == "/index.html" || strings.HasSuffix(path, "/") {
		return false
	}
	if !s.directory.Exists("/", path) {
		return false
	}
	// directories are page loads, not listings
	f, err := s.directory.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	return err == nil && !info.IsDir()
}

// serveAsset answers requests for static files and lets page loads through.
func (s *spa) serveAsset(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead ||
		strings.HasPrefix(c.Request.URL.Path, "/api/") {
		apiresponses.RespondNotFound(c)
		return
	}
	path := c.Request.URL.Path
	if !s.isAsset(path) {
		c.Next()
		return
	}
	s.fileserver.ServeHTTP(&cacheControlWriter{ResponseWriter: c.Writer, path: path}, c.Request)
	c.Abort()
}

func (s *spa) serveIndex(c *gin.Context) {
	req := c.Request.Clone(c.Request.Context())
	req.URL.Path = "/"
	req.URL.RawQuery = ""
	s.fileserver.ServeHTTP(&cacheControlWriter{ResponseWriter: c.Writer, path: "/"}, req)
}
