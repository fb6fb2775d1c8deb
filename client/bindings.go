package client

import (
	"context"
	"fmt"
	"time"

	"github.com/markoxley/altair/mtype"
	"github.com/markoxley/altair/samp"
)

// How long the session allows itself for wire calls it originates on the
// caller's behalf, such as replies to routed calls.
const replyTimeout = 10 * time.Second

// NotificationHandler processes one inbound fire-and-forget message.
type NotificationHandler func(senderID string, m *samp.Message)

// CallHandler processes one inbound call and produces the result map for
// the reply. Returning an error sends an error reply to the caller.
type CallHandler func(senderID string, m *samp.Message) (map[string]any, error)

// ReplyHandler receives tag-correlated responses to asynchronous calls
// that no Call waiter claimed.
type ReplyHandler func(responderID, tag string, r *samp.Response)

type notifyBinding struct {
	pattern string
	fn      NotificationHandler
}

type callBinding struct {
	pattern string
	fn      CallHandler
}

// inbound is one unit of work for the dispatcher: a routed notification,
// a routed call awaiting a reply, or an unclaimed response.
type inbound struct {
	sender string
	msgID  string // non-empty marks a call needing a reply
	tag    string // non-empty marks a response
	m      *samp.Message
	resp   *samp.Response
}

// BindNotification registers a handler for inbound notifications whose
// mtype matches pattern, and re-declares the session's subscriptions to
// the hub. Handlers run in registration order when several match.
func (s *Session) BindNotification(ctx context.Context, pattern string, fn NotificationHandler) error {
	if !mtype.Valid(pattern) {
		return fmt.Errorf("%w: bad pattern %q", samp.ErrMalformed, pattern)
	}
	s.mu.Lock()
	s.notifyBinds = append(s.notifyBinds, notifyBinding{pattern: pattern, fn: fn})
	s.mu.Unlock()
	return s.declareSubscriptions(ctx)
}

// BindCall registers a handler for inbound calls whose mtype matches
// pattern, and re-declares the session's subscriptions. The session sends
// the reply itself once the handler returns.
func (s *Session) BindCall(ctx context.Context, pattern string, fn CallHandler) error {
	if !mtype.Valid(pattern) {
		return fmt.Errorf("%w: bad pattern %q", samp.ErrMalformed, pattern)
	}
	s.mu.Lock()
	s.callBinds = append(s.callBinds, callBinding{pattern: pattern, fn: fn})
	s.mu.Unlock()
	return s.declareSubscriptions(ctx)
}

// BindReply installs the handler for responses whose tag no Call waiter
// claims. Replacing the handler affects subsequent responses only.
func (s *Session) BindReply(fn ReplyHandler) {
	s.mu.Lock()
	s.onReply = fn
	s.mu.Unlock()
}

// declareSubscriptions sends the union of all bound patterns to the hub.
func (s *Session) declareSubscriptions(ctx context.Context) error {
	s.mu.Lock()
	subs := make(map[string]any, len(s.notifyBinds)+len(s.callBinds))
	for _, b := range s.notifyBinds {
		subs[b.pattern] = map[string]any{}
	}
	for _, b := range s.callBinds {
		subs[b.pattern] = map[string]any{}
	}
	s.mu.Unlock()
	if _, err := s.hub.Call(ctx, samp.MethodDeclareSubscriptions, s.key, subs); err != nil {
		return wireErr(err)
	}
	return nil
}

// Positional argument helpers for the callback methods.

func stringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: missing argument %d", samp.ErrMalformed, i)
	}
	v, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d is not a string", samp.ErrMalformed, i)
	}
	return v, nil
}

func mapArg(args []any, i int) (map[string]any, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("%w: missing argument %d", samp.ErrMalformed, i)
	}
	v, ok := args[i].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: argument %d is not a map", samp.ErrMalformed, i)
	}
	return v, nil
}

// checkKey verifies that the hub presented this session's private key.
func (s *Session) checkKey(args []any) error {
	key, err := stringArg(args, 0)
	if err != nil {
		return err
	}
	if key != s.key || s.isClosed() {
		return samp.ErrAuth
	}
	return nil
}

func (s *Session) handleReceiveNotification(ctx context.Context, args []any) (any, error) {
	if err := s.checkKey(args); err != nil {
		return nil, err
	}
	sender, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	raw, err := mapArg(args, 2)
	if err != nil {
		return nil, err
	}
	m, err := samp.FromMap(raw)
	if err != nil {
		return nil, err
	}
	s.enqueue(&inbound{sender: sender, m: m})
	return "", nil
}

func (s *Session) handleReceiveCall(ctx context.Context, args []any) (any, error) {
	if err := s.checkKey(args); err != nil {
		return nil, err
	}
	sender, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	msgID, err := stringArg(args, 2)
	if err != nil {
		return nil, err
	}
	raw, err := mapArg(args, 3)
	if err != nil {
		return nil, err
	}
	m, err := samp.FromMap(raw)
	if err != nil {
		return nil, err
	}
	s.enqueue(&inbound{sender: sender, msgID: msgID, m: m})
	return "", nil
}

func (s *Session) handleReceiveResponse(ctx context.Context, args []any) (any, error) {
	if err := s.checkKey(args); err != nil {
		return nil, err
	}
	responder, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	tag, err := stringArg(args, 2)
	if err != nil {
		return nil, err
	}
	raw, err := mapArg(args, 3)
	if err != nil {
		return nil, err
	}
	resp, err := samp.ResponseFromMap(raw)
	if err != nil {
		return nil, err
	}
	// A waiting Call claims the tag first; anything unclaimed goes to the
	// dispatcher for the reply handler.
	if ch, ok := s.takePending(tag); ok {
		ch <- resp
		return "", nil
	}
	s.enqueue(&inbound{sender: responder, tag: tag, resp: resp})
	return "", nil
}

// enqueue hands an inbound unit to the dispatcher, dropping it when the
// queue is full so the callback endpoint keeps answering the hub.
func (s *Session) enqueue(in *inbound) {
	select {
	case s.queue <- in:
	default:
		s.log.Warn().Str("sender", in.sender).Msg("inbound queue full, dropping message")
	}
}

// dispatchLoop consumes inbound units until Disconnect. A slow handler
// delays only this session's queue, never the hub.
func (s *Session) dispatchLoop() {
	for {
		select {
		case <-s.done:
			return
		case in := <-s.queue:
			s.dispatch(in)
		}
	}
}

// dispatch runs the bound handlers for one inbound unit. A panicking
// handler is contained here; for a call it turns into an error reply so
// the remote caller is not left waiting out its timeout.
func (s *Session) dispatch(in *inbound) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("handler panicked")
			if in.msgID != "" {
				s.sendReply(in.msgID, samp.Error("handler panicked"))
			}
		}
	}()

	switch {
	case in.tag != "":
		s.mu.Lock()
		fn := s.onReply
		s.mu.Unlock()
		if fn == nil {
			s.log.Debug().Str("tag", in.tag).Msg("response with unknown tag discarded")
			return
		}
		fn(in.sender, in.tag, in.resp)

	case in.msgID != "":
		var result map[string]any
		matched := false
		for _, b := range s.callBindings() {
			if !mtype.Matches(b.pattern, in.m.MType) {
				continue
			}
			matched = true
			res, err := b.fn(in.sender, in.m)
			if err != nil {
				s.sendReply(in.msgID, samp.Error(err.Error()))
				return
			}
			if res != nil {
				result = res
			}
		}
		if !matched {
			s.sendReply(in.msgID, samp.Error("no handler for "+in.m.MType))
			return
		}
		s.sendReply(in.msgID, samp.OK(result))

	default:
		for _, b := range s.notifyBindings() {
			if mtype.Matches(b.pattern, in.m.MType) {
				b.fn(in.sender, in.m)
			}
		}
	}
}

func (s *Session) notifyBindings() []notifyBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notifyBinding, len(s.notifyBinds))
	copy(out, s.notifyBinds)
	return out
}

func (s *Session) callBindings() []callBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]callBinding, len(s.callBinds))
	copy(out, s.callBinds)
	return out
}

// sendReply pushes a handler's response back through the hub.
func (s *Session) sendReply(msgID string, r *samp.Response) {
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	if err := s.Reply(ctx, msgID, r); err != nil {
		s.log.Warn().Err(err).Str("msg-id", msgID).Msg("cannot deliver reply")
	}
}
