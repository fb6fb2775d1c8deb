package xmlrpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNoMethod reports a call to a method name with no registered handler.
var ErrNoMethod = errors.New("no such method")

const (
	defaultMaxInFlight = 32
	maxBodyBytes       = 10 << 20
)

// Handler processes one decoded call. Returning a *Fault sends that fault
// verbatim; any other error is translated by the server's fault mapper.
type Handler func(ctx context.Context, args []any) (any, error)

// Server dispatches incoming methodCall requests to registered handlers.
// Dispatch concurrency is bounded so a flood of slow calls cannot exhaust
// the process; excess requests wait for a slot or fail when the caller
// gives up.
type Server struct {
	log     zerolog.Logger
	mapper  func(error) *Fault
	sem     chan struct{}
	mu      sync.RWMutex
	methods map[string]Handler
}

// NewServer creates a server bounded to maxInFlight concurrent dispatches.
// Values below 1 select the default bound.
func NewServer(log zerolog.Logger, maxInFlight int) *Server {
	if maxInFlight < 1 {
		maxInFlight = defaultMaxInFlight
	}
	return &Server{
		log:     log,
		mapper:  func(err error) *Fault { return &Fault{Code: 1, String: err.Error()} },
		sem:     make(chan struct{}, maxInFlight),
		methods: make(map[string]Handler),
	}
}

// Register installs the handler for a method name, replacing any previous
// handler.
func (s *Server) Register(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[method] = h
}

// SetFaultMapper replaces the translation from handler errors to wire
// faults. The mapper is not consulted for errors that already are *Fault.
func (s *Server) SetFaultMapper(m func(error) *Fault) {
	if m != nil {
		s.mapper = m
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "xml-rpc requires POST", http.StatusMethodNotAllowed)
		return
	}
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-r.Context().Done():
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	method, args, err := DecodeRequest(body)
	if err != nil {
		s.log.Warn().Err(err).Msg("rejecting undecodable request")
		s.writeFault(w, s.fault(err))
		return
	}

	s.mu.RLock()
	h, ok := s.methods[method]
	s.mu.RUnlock()
	if !ok {
		s.writeFault(w, s.fault(fmt.Errorf("%w: %s", ErrNoMethod, method)))
		return
	}

	res, err := s.dispatch(r.Context(), method, h, args)
	if err != nil {
		s.writeFault(w, s.fault(err))
		return
	}
	if res == nil {
		res = ""
	}
	out, err := EncodeResponse(res)
	if err != nil {
		s.log.Error().Err(err).Str("method", method).Msg("cannot encode response")
		s.writeFault(w, s.fault(err))
		return
	}
	s.write(w, out)
}

// dispatch invokes the handler, converting a panic into an error so one
// bad call cannot take the transport down.
func (s *Server) dispatch(ctx context.Context, method string, h Handler, args []any) (res any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Interface("panic", rec).Str("method", method).Msg("handler panicked")
			res, err = nil, errors.New("internal server error")
		}
	}()
	return h(ctx, args)
}

func (s *Server) fault(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return s.mapper(err)
}

func (s *Server) writeFault(w http.ResponseWriter, f *Fault) {
	s.write(w, EncodeFault(f))
}

func (s *Server) write(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	if _, err := w.Write(body); err != nil {
		s.log.Debug().Err(err).Msg("response write failed")
	}
}
