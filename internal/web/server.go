// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"go.xela.dev/mffilter/internal/cli"

	"github.com/benbjohnson/hashfs"
)

// ListenAndServeConfig is used to configure the HTTP server started by
// [ListenAndServe].
//
// All fields of ListenAndServeConfig can't be modified after [ListenAndServe]
// is called.
type ListenAndServeConfig struct {
	// Addr is a network address to listen on (in the form of "host:port").
	Addr string
	// Mux is a http.ServeMux to serve.
	Mux *http.ServeMux
	// Debuggable specifies whether to register debug handlers at /debug/.
	Debuggable bool
	// DebugAuth specifies an optional function that's invoked on every request
	// to debug handlers at /debug/ to allow or deny access to them. If not
	// provided, all access is allowed.
	DebugAuth func(r *http.Request) bool
	// Ready is an optional function invoked after the listener has been bound,
	// right before the server starts accepting connections.
	Ready func()
}

var (
	errNoAddr = errors.New("c.Addr is empty")
	errNilMux = errors.New("c.Mux is nil")
)

// ListenAndServe starts the HTTP server based on the provided
// [ListenAndServeConfig] and blocks until ctx is canceled, then gracefully
// shuts the server down.
//
// The [cli.Env] attached to ctx is propagated to every request context, so
// handlers can log through it.
func ListenAndServe(ctx context.Context, c *ListenAndServeConfig) error {
	env := cli.GetEnv(ctx)

	if c.Addr == "" {
		return errNoAddr
	}
	if c.Mux == nil {
		return errNilMux
	}

	l, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	defer l.Close()
	env.Logf("Listening on %s...", l.Addr().String())

	protectDebug := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/debug/") || c.DebugAuth == nil {
				next.ServeHTTP(w, r)
				return
			}
			// If access denied, pretend that debug endpoints don't exist.
			if !c.DebugAuth(r) {
				RespondError(w, r, ErrNotFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	s := &http.Server{
		ErrorLog: log.New(logfWriter(env.Logf), "", 0),
		Handler:  protectDebug(c.Mux),
		BaseContext: func(net.Listener) context.Context {
			return cli.WithEnv(context.Background(), env)
		},
	}
	initInternalRoutes(c)

	errCh := make(chan error, 1)

	go func() {
		if err := s.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				errCh <- err
			}
		}
	}()

	if c.Ready != nil {
		c.Ready()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		env.Logf("Gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	return nil
}

type logfWriter func(format string, args ...any)

func (w logfWriter) Write(p []byte) (n int, err error) {
	w("%s", strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func initInternalRoutes(c *ListenAndServeConfig) {
	c.Mux.Handle("/static/", hashfs.FileServer(StaticFS))
	Health(c.Mux)
	if c.Debuggable {
		Debugger(c.Mux)
	}
}
