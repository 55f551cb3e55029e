// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024-2026 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package daemon exposes the supervisor over a loopback-only HTTP+SSE
// control plane.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/coreos/go-systemd/activation"
	"github.com/gorilla/mux"
	"gopkg.in/tomb.v2"

	"github.com/devhostd/devhostd/logger"
	"github.com/devhostd/devhostd/overlord"
)

// DefaultPort is the control-plane port, the low end of the
// system-reserved range.
const DefaultPort = 2601

// toolOpTimeout bounds every non-streaming tool operation.
const toolOpTimeout = 30 * time.Second

// A Daemon listens for requests and routes them to the right command.
type Daemon struct {
	Version  string
	overlord *overlord.Overlord
	listener net.Listener
	tomb     tomb.Tomb
	router   *mux.Router
}

// A ResponseFunc handles one of the individual verbs for a method.
type ResponseFunc func(*Command, *http.Request) Response

// A Command routes a request to an individual per-verb ResponseFunc.
type Command struct {
	Path string

	GET    ResponseFunc
	POST   ResponseFunc
	DELETE ResponseFunc

	// Streaming commands manage their own lifetime and are exempt
	// from the tool operation deadline.
	Streaming bool

	d *Daemon
}

func (c *Command) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var rspf ResponseFunc
	var rsp Response = BadMethod("method %q not allowed", r.Method)

	switch r.Method {
	case "GET":
		rspf = c.GET
	case "POST":
		rspf = c.POST
	case "DELETE":
		rspf = c.DELETE
	}

	if rspf != nil {
		if !c.Streaming {
			ctx, cancel := context.WithTimeout(r.Context(), toolOpTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		rsp = rspf(c, r)
	}

	rsp.ServeHTTP(w, r)
}

type wrappedWriter struct {
	w http.ResponseWriter
	s int
}

func (w *wrappedWriter) Header() http.Header {
	return w.w.Header()
}

func (w *wrappedWriter) Write(bs []byte) (int, error) {
	return w.w.Write(bs)
}

func (w *wrappedWriter) WriteHeader(s int) {
	w.w.WriteHeader(s)
	w.s = s
}

func (w *wrappedWriter) Flush() {
	if f, ok := w.w.(http.Flusher); ok {
		f.Flush()
	}
}

func logit(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &wrappedWriter{w: w}
		t0 := time.Now()
		handler.ServeHTTP(ww, r)
		t := time.Since(t0)
		logger.Debugf("%s %s %s %s %d", r.RemoteAddr, r.Method, r.URL, t, ww.s)
	})
}

// listenAddr resolves the bind address from the environment; always
// loopback unless DEVHOSTD_ADDR says otherwise.
func listenAddr() string {
	if addr := os.Getenv("DEVHOSTD_ADDR"); addr != "" {
		return addr
	}
	port := DefaultPort
	if p := os.Getenv("DEVHOSTD_PORT"); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// getListener prefers a socket-activated listener and falls back to
// binding the loopback address directly.
func getListener() (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, err
	}
	if len(listeners) > 0 && listeners[0] != nil {
		logger.Debugf("using activated socket %s", listeners[0].Addr())
		return listeners[0], nil
	}

	addr := listenAddr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("cannot listen on %s: %v", addr, err)
	}
	logger.Debugf("socket was not activated; listening on %s", addr)
	return listener, nil
}

// New assembles a daemon around the given overlord.
func New(o *overlord.Overlord, version string) *Daemon {
	return &Daemon{
		Version:  version,
		overlord: o,
	}
}

// Init sets up the daemon's listener and routes.
// Don't call more than once.
func (d *Daemon) Init() error {
	listener, err := getListener()
	if err != nil {
		return err
	}
	d.listener = listener

	d.addRoutes()

	logger.Noticef("started devhostd %s on %s", d.Version, listener.Addr())
	return nil
}

func (d *Daemon) addRoutes() {
	d.router = mux.NewRouter()

	for _, c := range api {
		c.d = d
		d.router.Handle(c.Path, c).Name(c.Path)
	}

	d.router.NotFoundHandler = NotFound("not found")
}

// Router exposes the handler, for tests driving httptest servers.
func (d *Daemon) Router() http.Handler {
	if d.router == nil {
		d.addRoutes()
	}
	return logit(d.router)
}

// Start runs the overlord loop and begins serving requests.
func (d *Daemon) Start() {
	d.overlord.Loop()
	d.tomb.Go(func() error {
		err := http.Serve(d.listener, logit(d.router))
		select {
		case <-d.tomb.Dying():
			// expected error after shutdown
			return nil
		default:
			return err
		}
	})
}

// Stop shuts down the daemon; managed children are left running and
// are reconciled on the next start.
func (d *Daemon) Stop() error {
	d.tomb.Kill(nil)
	if d.listener != nil {
		d.listener.Close()
	}
	err := d.tomb.Wait()
	if oerr := d.overlord.Stop(); err == nil {
		err = oerr
	}
	return err
}

// Dying returns a channel that closes when the daemon shuts down.
func (d *Daemon) Dying() <-chan struct{} {
	return d.tomb.Dying()
}
