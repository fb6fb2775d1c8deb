// Package hub implements the message hub: it owns the client registry,
// accepts profile calls on an HTTP endpoint and routes messages between
// registered clients through a bounded worker pool. One Hub instance is
// one running message bus.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/markoxley/altair/config"
	"github.com/markoxley/altair/lockfile"
	"github.com/markoxley/altair/mtype"
	"github.com/markoxley/altair/registry"
	"github.com/markoxley/altair/samp"
	"github.com/markoxley/altair/xmlrpc"
)

// HubID is the public identifier the hub registers itself under.
const HubID = "hub"

// How long the hub waits on each client while announcing shutdown.
const shutdownNoticeTimeout = 2 * time.Second

// State is the hub lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// Hub arbitrates client registration and routes messages between clients.
// It manages a buffered delivery queue consumed by a pool of workers, so
// a slow recipient occupies one worker and never stalls the rest.
type Hub struct {
	cfg     *config.Config
	log     zerolog.Logger
	reg     *registry.Registry
	srv     *xmlrpc.Server
	pending *pendingSet
	metrics *Metrics
	secret  string
	selfID  string

	queue chan *job
	wg    sync.WaitGroup

	// Guards lifecycle transitions. Request handlers never take it.
	mu         sync.Mutex
	state      atomic.Int32
	ln         net.Listener
	hsrv       *http.Server
	workCtx    context.Context
	workCancel context.CancelFunc
	url        string
	lockPath   string
}

// New creates a stopped hub with the given configuration. A nil
// configuration selects the defaults.
func New(cfg *config.Config) *Hub {
	if cfg == nil {
		cfg = config.Default()
	}
	log := zlog.With().Str("component", "hub").Logger()
	h := &Hub{
		cfg:     cfg,
		log:     log,
		reg:     registry.New(),
		pending: newPendingSet(),
		metrics: NewMetrics(),
		secret:  samp.NewSecret(),
		selfID:  HubID,
		queue:   make(chan *job, cfg.QueueSize),
	}
	h.srv = xmlrpc.NewServer(log.With().Str("component", "xmlrpc").Logger(), cfg.MaxInFlight)
	h.srv.SetFaultMapper(hubFault)
	h.registerMethods()
	return h
}

// Start binds the hub endpoint, writes the discovery lockfile and starts
// the delivery workers. It returns samp.ErrBind when the configured
// address is already in use; port 0 selects an ephemeral port. When ctx
// is cancellable the hub stops itself on cancellation, so sockets and
// the lockfile are released on every exit path.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if State(h.state.Load()) != StateStopped {
		return fmt.Errorf("hub already started")
	}
	h.state.Store(int32(StateStarting))

	addr := net.JoinHostPort(h.cfg.Addr, strconv.Itoa(h.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		h.state.Store(int32(StateStopped))
		return fmt.Errorf("%w: %s: %v", samp.ErrBind, addr, err)
	}
	h.ln = ln
	h.url = fmt.Sprintf("http://%s/", ln.Addr().String())

	if err := h.registerSelf(); err != nil {
		ln.Close()
		h.state.Store(int32(StateStopped))
		return err
	}

	h.lockPath = h.cfg.Lockfile
	if h.lockPath == "" {
		h.lockPath, err = lockfile.Resolve()
		if err != nil {
			ln.Close()
			h.state.Store(int32(StateStopped))
			return err
		}
	}
	if err := lockfile.Write(h.lockPath, lockfile.Info{Secret: h.secret, URL: h.url}); err != nil {
		ln.Close()
		h.state.Store(int32(StateStopped))
		return fmt.Errorf("cannot write lockfile %s: %w", h.lockPath, err)
	}

	router := httprouter.New()
	router.Handler(http.MethodPost, "/", h.srv)
	router.HandlerFunc(http.MethodGet, "/status", h.handleStatus)
	h.hsrv = &http.Server{Handler: router}

	h.workCtx, h.workCancel = context.WithCancel(context.Background())
	for i := 0; i < h.cfg.WorkerCount; i++ {
		h.wg.Add(1)
		go h.worker()
	}
	h.wg.Add(1)
	go h.sweep()

	go func() {
		if err := h.hsrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.log.Error().Err(err).Msg("endpoint server failed")
		}
	}()
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			h.Stop()
		}()
	}

	h.state.Store(int32(StateRunning))
	h.log.Info().
		Str("url", h.url).
		Str("lockfile", h.lockPath).
		Int("workers", h.cfg.WorkerCount).
		Msg("hub running")
	return nil
}

// registerSelf records the hub's own client identity. The hub answers
// pings addressed to it like any other client.
func (h *Hub) registerSelf() error {
	rec, err := h.reg.RegisterWithID(h.selfID, samp.Metadata{
		samp.MetaName:        "Altair Hub",
		samp.MetaDescription: "Altair message hub",
	})
	if err != nil {
		return err
	}
	return h.reg.SetSubscriptions(rec.ID, rec.Key, mtype.Subscriptions{
		samp.MTypeAppPing: map[string]any{},
	})
}

// Stop shuts the hub down: it announces the shutdown to subscribed
// clients, fails every pending call with samp.ErrShutdown, stops the
// workers, closes the endpoint and removes the lockfile. Stop is
// idempotent and safe to call from any state.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if State(h.state.Load()) == StateStopped {
		return
	}
	h.state.Store(int32(StateStopping))
	h.log.Info().Msg("hub stopping")

	h.notifyShutdown()

	for _, pc := range h.pending.drain() {
		pc.resolve(callResult{err: samp.ErrShutdown})
	}

	if h.workCancel != nil {
		h.workCancel()
	}
	h.wg.Wait()
	if h.hsrv != nil {
		// Graceful window so released callers receive their shutdown
		// faults before the connections drop.
		ctx, cancel := context.WithTimeout(context.Background(), shutdownNoticeTimeout)
		if err := h.hsrv.Shutdown(ctx); err != nil {
			h.hsrv.Close()
		}
		cancel()
	}
	if h.lockPath != "" {
		if err := lockfile.Remove(h.lockPath); err != nil {
			h.log.Warn().Err(err).Str("path", h.lockPath).Msg("cannot remove lockfile")
		}
	}
	h.state.Store(int32(StateStopped))
	h.log.Info().Msg("hub stopped")
}

// notifyShutdown delivers the shutdown event directly rather than through
// the delivery queue, which is about to be abandoned. Each notice gets a
// bounded window and failures are only logged.
func (h *Hub) notifyShutdown() {
	raw := samp.New(samp.MTypeHubEventShutdown).ToMap()
	targets := h.broadcastTargets(h.selfID, samp.MTypeHubEventShutdown)
	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t *registry.Record) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), shutdownNoticeTimeout)
			defer cancel()
			cli := xmlrpc.NewClient(t.Callback, shutdownNoticeTimeout)
			if _, err := cli.Call(ctx, samp.MethodReceiveNotification, t.Key, h.selfID, raw); err != nil {
				h.log.Debug().Err(err).Str("recipient", t.ID).Msg("shutdown notice undelivered")
			}
		}(t)
	}
	wg.Wait()
}

// sweep reclaims pending entries whose callers never collected a reply,
// so abandoned asynchronous calls cannot grow the table without bound.
func (h *Hub) sweep() {
	defer h.wg.Done()
	t := time.NewTicker(sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-h.workCtx.Done():
			return
		case now := <-t.C:
			for _, pc := range h.pending.expired(now) {
				pc.resolve(callResult{err: samp.ErrTimeout})
				h.log.Debug().
					Str("msg-id", pc.msgID).
					Str("caller", pc.caller).
					Msg("pending call expired unanswered")
			}
		}
	}
}

// State returns the current lifecycle state.
func (h *Hub) State() State {
	return State(h.state.Load())
}

// URL returns the hub endpoint URL. It is empty until Start succeeds.
func (h *Hub) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.url
}

// Secret returns the registration secret published in the lockfile.
func (h *Hub) Secret() string {
	return h.secret
}

// Metrics returns a point-in-time copy of the hub counters and gauges.
func (h *Hub) Metrics() MetricsSnapshot {
	snap := h.metrics.Snapshot()
	snap.Clients = h.reg.Count()
	snap.PendingCalls = h.pending.len()
	return snap
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := struct {
		State string `json:"state"`
		MetricsSnapshot
	}{
		State:           h.State().String(),
		MetricsSnapshot: h.Metrics(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.log.Debug().Err(err).Msg("status write failed")
	}
}
