// MIT License
//
// Copyright (c) 2025 DaggerTech
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

// Package client implements an application's connection to an Altair hub.
// A Session registers with the hub, runs a local callback endpoint for
// inbound messages, dispatches them to bound handlers through a buffered
// queue and provides the send operations of the profile.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/markoxley/altair/lockfile"
	"github.com/markoxley/altair/samp"
	"github.com/markoxley/altair/xmlrpc"
)

// Config defines the parameters for connecting a session to a hub.
type Config struct {
	Name      string        // Display name declared to the hub (required)
	Meta      samp.Metadata // Additional metadata declared alongside the name
	HubURL    string        // Hub endpoint; empty discovers via the lockfile
	Secret    string        // Registration secret; empty discovers via the lockfile
	Lockfile  string        // Explicit lockfile path; empty resolves SAMP_HUB or ~/.samp
	Addr      string        // Callback binding address (default: "127.0.0.1")
	QueueSize int           // Inbound dispatch queue size (default: 100)
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
}

// Session is one application's live connection to a hub. All methods are
// safe for concurrent use. A Session holds a local HTTP listener for the
// hub's callbacks; Disconnect releases it.
type Session struct {
	log   zerolog.Logger
	name  string
	hub   *xmlrpc.Client
	id    string
	key   string
	hubID string

	hsrv  *http.Server
	cbURL string

	queue chan *inbound
	done  chan struct{}

	mu          sync.Mutex
	closed      bool
	notifyBinds []notifyBinding
	callBinds   []callBinding
	onReply     ReplyHandler
	pending     map[string]chan *samp.Response
}

// wireErr translates a transport-level error into the samp taxonomy:
// remote faults become their sentinel-wrapped forms and anything else is
// returned as-is.
func wireErr(err error) error {
	var f *xmlrpc.Fault
	if errors.As(err, &f) {
		return samp.FaultError(f.Code, f.String)
	}
	return err
}

// Connect registers with a hub and returns a live session. The hub is
// located by, in order: the explicit HubURL and Secret, the explicit
// lockfile path, then lockfile discovery (SAMP_HUB or ~/.samp). Connect
// fails with samp.ErrConnect when no hub is reachable. The context bounds
// the connection handshake only, not the session lifetime.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: session needs a display name", samp.ErrMalformed)
	}
	cfg.applyDefaults()

	url, secret := cfg.HubURL, cfg.Secret
	if url == "" || secret == "" {
		info, err := discover(cfg.Lockfile)
		if err != nil {
			return nil, err
		}
		if url == "" {
			url = info.URL
		}
		if secret == "" {
			secret = info.Secret
		}
	}

	s := &Session{
		log:     zlog.With().Str("component", "client").Str("name", cfg.Name).Logger(),
		name:    cfg.Name,
		hub:     xmlrpc.NewClient(url, 0),
		queue:   make(chan *inbound, cfg.QueueSize),
		done:    make(chan struct{}),
		pending: make(map[string]chan *samp.Response),
	}

	res, err := s.hub.Call(ctx, samp.MethodRegister, secret)
	if err != nil {
		var f *xmlrpc.Fault
		if errors.As(err, &f) {
			return nil, samp.FaultError(f.Code, f.String)
		}
		return nil, fmt.Errorf("%w: %s: %v", samp.ErrConnect, url, err)
	}
	reg, ok := res.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: registration result is not a map", samp.ErrMalformed)
	}
	s.key, _ = reg[samp.KeyPrivateKey].(string)
	s.id, _ = reg[samp.KeySelfID].(string)
	s.hubID, _ = reg[samp.KeyHubID].(string)
	if s.key == "" || s.id == "" {
		return nil, fmt.Errorf("%w: registration result lacks identity", samp.ErrMalformed)
	}

	if err := s.finishConnect(ctx, cfg); err != nil {
		// Local resources are torn down and the registration is released
		// on a best-effort basis; the hub will evict us regardless once
		// our callback endpoint stops answering.
		s.teardown()
		if _, uerr := s.hub.Call(ctx, samp.MethodUnregister, s.key); uerr != nil {
			s.log.Debug().Err(uerr).Msg("unregister after failed connect")
		}
		return nil, err
	}

	go s.dispatchLoop()
	s.log.Info().Str("id", s.id).Str("hub", url).Msg("connected")
	return s, nil
}

// discover resolves the hub lockfile. An explicit path skips SAMP_HUB.
func discover(path string) (*lockfile.Info, error) {
	if path == "" {
		return lockfile.Discover()
	}
	info, err := lockfile.Read(path)
	if err != nil {
		return nil, fmt.Errorf("%w: no hub lockfile at %s: %v", samp.ErrConnect, path, err)
	}
	return info, nil
}

// finishConnect declares metadata, starts the callback endpoint and
// declares an initial empty subscription set.
func (s *Session) finishConnect(ctx context.Context, cfg Config) error {
	md := cfg.Meta.Clone()
	if md == nil {
		md = samp.Metadata{}
	}
	md[samp.MetaName] = cfg.Name
	if _, err := s.hub.Call(ctx, samp.MethodDeclareMetadata, s.key, md.ToMap()); err != nil {
		return wireErr(err)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Addr, "0"))
	if err != nil {
		return fmt.Errorf("cannot bind callback endpoint: %w", err)
	}
	srv := xmlrpc.NewServer(s.log.With().Str("component", "callback").Logger(), cfg.QueueSize)
	srv.Register(samp.MethodReceiveNotification, s.handleReceiveNotification)
	srv.Register(samp.MethodReceiveCall, s.handleReceiveCall)
	srv.Register(samp.MethodReceiveResponse, s.handleReceiveResponse)
	s.hsrv = &http.Server{Handler: srv}
	s.cbURL = fmt.Sprintf("http://%s/", ln.Addr().String())
	go func() {
		if err := s.hsrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("callback server failed")
		}
	}()

	if _, err := s.hub.Call(ctx, samp.MethodSetXmlrpcCallback, s.key, s.cbURL); err != nil {
		return wireErr(err)
	}
	if _, err := s.hub.Call(ctx, samp.MethodDeclareSubscriptions, s.key, map[string]any{}); err != nil {
		return wireErr(err)
	}
	return nil
}

// Disconnect unregisters from the hub and releases the callback endpoint.
// Local teardown happens regardless of whether the hub could be reached;
// the wire failure, if any, is returned for the caller's information.
// Pending calls are failed out. Disconnect is idempotent.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	waiters := s.pending
	s.pending = make(map[string]chan *samp.Response)
	s.mu.Unlock()

	var uerr error
	if _, err := s.hub.Call(ctx, samp.MethodUnregister, s.key); err != nil {
		uerr = wireErr(err)
		s.log.Warn().Err(uerr).Msg("unregister failed, tearing down locally")
	}
	s.teardown()
	for _, ch := range waiters {
		close(ch)
	}
	s.log.Info().Str("id", s.id).Msg("disconnected")
	return uerr
}

func (s *Session) teardown() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if s.hsrv != nil {
		s.hsrv.Close()
	}
}

// ID returns the public identifier the hub assigned to this session.
func (s *Session) ID() string {
	return s.id
}

// HubID returns the hub's own client identifier.
func (s *Session) HubID() string {
	return s.hubID
}

// CallbackURL returns the local endpoint the hub delivers messages to.
func (s *Session) CallbackURL() string {
	return s.cbURL
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
