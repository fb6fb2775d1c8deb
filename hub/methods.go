package hub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/markoxley/altair/mtype"
	"github.com/markoxley/altair/registry"
	"github.com/markoxley/altair/samp"
	"github.com/markoxley/altair/xmlrpc"
)

// hubFault maps handler errors onto wire faults using the samp taxonomy,
// so clients can reconstruct the matching sentinel on their side.
func hubFault(err error) *xmlrpc.Fault {
	code := samp.FaultCode(err)
	if code == samp.FaultGeneric && errors.Is(err, xmlrpc.ErrParse) {
		code = samp.FaultMalformed
	}
	return &xmlrpc.Fault{Code: code, String: err.Error()}
}

// The profile is positional; a missing or mistyped argument is a
// malformed call, never a crash.

func stringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: missing argument %d", samp.ErrMalformed, i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d is not a string", samp.ErrMalformed, i)
	}
	return s, nil
}

func mapArg(args []any, i int) (map[string]any, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("%w: missing argument %d", samp.ErrMalformed, i)
	}
	m, ok := args[i].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: argument %d is not a map", samp.ErrMalformed, i)
	}
	return m, nil
}

// intArg accepts an integer in any of the spellings peers send them:
// native ints, decimal strings or doubles.
func intArg(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("%w: missing argument %d", samp.ErrMalformed, i)
	}
	switch v := args[i].(type) {
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: argument %d is not an integer", samp.ErrMalformed, i)
		}
		return n, nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: argument %d is not an integer", samp.ErrMalformed, i)
}

func toAnyList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// authed resolves the private key in argument 0 to the caller's record.
func (h *Hub) authed(args []any) (*registry.Record, error) {
	key, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	return h.reg.ByKey(key)
}

func (h *Hub) running() error {
	if h.State() != StateRunning {
		return samp.ErrShutdown
	}
	return nil
}

func (h *Hub) registerMethods() {
	h.srv.Register(samp.MethodRegister, h.handleRegister)
	h.srv.Register(samp.MethodUnregister, h.handleUnregister)
	h.srv.Register(samp.MethodDeclareMetadata, h.handleDeclareMetadata)
	h.srv.Register(samp.MethodGetMetadata, h.handleGetMetadata)
	h.srv.Register(samp.MethodDeclareSubscriptions, h.handleDeclareSubscriptions)
	h.srv.Register(samp.MethodGetSubscriptions, h.handleGetSubscriptions)
	h.srv.Register(samp.MethodGetRegisteredClients, h.handleGetRegisteredClients)
	h.srv.Register(samp.MethodGetSubscribedClients, h.handleGetSubscribedClients)
	h.srv.Register(samp.MethodSetXmlrpcCallback, h.handleSetXmlrpcCallback)
	h.srv.Register(samp.MethodNotify, h.handleNotify)
	h.srv.Register(samp.MethodNotifyAll, h.handleNotifyAll)
	h.srv.Register(samp.MethodCall, h.handleCall)
	h.srv.Register(samp.MethodCallAll, h.handleCallAll)
	h.srv.Register(samp.MethodCallAndWait, h.handleCallAndWait)
	h.srv.Register(samp.MethodReply, h.handleReply)
	h.srv.Register(samp.MethodPing, h.handlePing)
}

func (h *Hub) handleRegister(ctx context.Context, args []any) (any, error) {
	if err := h.running(); err != nil {
		return nil, err
	}
	secret, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	if secret != h.secret {
		return nil, fmt.Errorf("%w: bad registration secret", samp.ErrAuth)
	}
	rec := h.reg.Register(nil)
	h.log.Info().Str("id", rec.ID).Msg("client registered")
	h.event(samp.MTypeHubEventRegister, samp.Params{"id": rec.ID})
	return map[string]any{
		samp.KeyPrivateKey: rec.Key,
		samp.KeySelfID:     rec.ID,
		samp.KeyHubID:      h.selfID,
	}, nil
}

func (h *Hub) handleUnregister(ctx context.Context, args []any) (any, error) {
	rec, err := h.authed(args)
	if err != nil {
		return nil, err
	}
	if err := h.reg.Unregister(rec.ID, rec.Key); err != nil {
		return nil, err
	}
	h.log.Info().Str("id", rec.ID).Msg("client unregistered")
	h.event(samp.MTypeHubEventUnregister, samp.Params{"id": rec.ID})
	return "", nil
}

func (h *Hub) handleDeclareMetadata(ctx context.Context, args []any) (any, error) {
	rec, err := h.authed(args)
	if err != nil {
		return nil, err
	}
	raw, err := mapArg(args, 1)
	if err != nil {
		return nil, err
	}
	if err := h.reg.SetMetadata(rec.ID, rec.Key, samp.MetadataFromMap(raw)); err != nil {
		return nil, err
	}
	h.event(samp.MTypeHubEventMetadata, samp.Params{"id": rec.ID})
	return "", nil
}

func (h *Hub) handleGetMetadata(ctx context.Context, args []any) (any, error) {
	if _, err := h.authed(args); err != nil {
		return nil, err
	}
	id, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	target, err := h.reg.Get(id)
	if err != nil {
		return nil, err
	}
	return target.Meta.ToMap(), nil
}

func (h *Hub) handleDeclareSubscriptions(ctx context.Context, args []any) (any, error) {
	rec, err := h.authed(args)
	if err != nil {
		return nil, err
	}
	raw, err := mapArg(args, 1)
	if err != nil {
		return nil, err
	}
	for p := range raw {
		if !mtype.Valid(p) {
			return nil, fmt.Errorf("%w: bad subscription pattern %q", samp.ErrMalformed, p)
		}
	}
	if err := h.reg.SetSubscriptions(rec.ID, rec.Key, mtype.SubscriptionsFromMap(raw)); err != nil {
		return nil, err
	}
	h.event(samp.MTypeHubEventSubscriptions, samp.Params{"id": rec.ID})
	return "", nil
}

func (h *Hub) handleGetSubscriptions(ctx context.Context, args []any) (any, error) {
	if _, err := h.authed(args); err != nil {
		return nil, err
	}
	id, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	target, err := h.reg.Get(id)
	if err != nil {
		return nil, err
	}
	return target.Subs.ToMap(), nil
}

func (h *Hub) handleGetRegisteredClients(ctx context.Context, args []any) (any, error) {
	rec, err := h.authed(args)
	if err != nil {
		return nil, err
	}
	return toAnyList(h.reg.List(rec.ID)), nil
}

func (h *Hub) handleGetSubscribedClients(ctx context.Context, args []any) (any, error) {
	rec, err := h.authed(args)
	if err != nil {
		return nil, err
	}
	mt, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	if strings.Contains(mt, "*") {
		return nil, fmt.Errorf("%w: mtype must be concrete, got %q", samp.ErrMalformed, mt)
	}
	out := map[string]any{}
	for _, other := range h.reg.Snapshot() {
		if other.ID == rec.ID {
			continue
		}
		if other.Subs.Matches(mt) {
			out[other.ID] = map[string]any{}
		}
	}
	return out, nil
}

func (h *Hub) handleSetXmlrpcCallback(ctx context.Context, args []any) (any, error) {
	rec, err := h.authed(args)
	if err != nil {
		return nil, err
	}
	url, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return nil, fmt.Errorf("%w: empty callback url", samp.ErrMalformed)
	}
	if err := h.reg.SetCallback(rec.ID, rec.Key, url); err != nil {
		return nil, err
	}
	h.log.Debug().Str("id", rec.ID).Str("callback", url).Msg("callback endpoint declared")
	return "", nil
}

func (h *Hub) handleNotify(ctx context.Context, args []any) (any, error) {
	rec, err := h.authed(args)
	if err != nil {
		return nil, err
	}
	target, err := stringArg(args, 1)
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
	if target == h.selfID {
		h.metrics.RecordRouted(1)
		h.deliverToSelf(rec.ID, "", m)
		return "", nil
	}
	t, err := h.callableTarget(target, m.MType)
	if err != nil {
		if errors.Is(err, samp.ErrNotSubscribed) {
			// Fire-and-forget: the recipient exists but does not want
			// this mtype, so the notification evaporates.
			h.log.Debug().Str("target", target).Str("mtype", m.MType).Msg("notify to unsubscribed client dropped")
			return "", nil
		}
		return nil, err
	}
	h.metrics.RecordRouted(1)
	h.enqueue(&job{
		recipient: t.ID,
		callback:  t.Callback,
		method:    samp.MethodReceiveNotification,
		args:      []any{t.Key, rec.ID, raw},
	})
	return "", nil
}

func (h *Hub) handleNotifyAll(ctx context.Context, args []any) (any, error) {
	rec, err := h.authed(args)
	if err != nil {
		return nil, err
	}
	raw, err := mapArg(args, 1)
	if err != nil {
		return nil, err
	}
	m, err := samp.FromMap(raw)
	if err != nil {
		return nil, err
	}
	h.metrics.RecordRouted(1)
	return toAnyList(h.broadcast(rec.ID, m.MType, raw)), nil
}

func (h *Hub) handleCall(ctx context.Context, args []any) (any, error) {
	rec, err := h.authed(args)
	if err != nil {
		return nil, err
	}
	target, err := stringArg(args, 1)
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
	m, err := samp.FromMap(raw)
	if err != nil {
		return nil, err
	}
	if target == h.selfID {
		msgID := samp.NewMsgID()
		if h.pending.addAsync(msgID, rec.ID, tag) == nil {
			return nil, samp.ErrShutdown
		}
		h.metrics.RecordRouted(1)
		h.deliverToSelf(rec.ID, msgID, m)
		return msgID, nil
	}
	t, err := h.callableTarget(target, m.MType)
	if err != nil {
		return nil, err
	}
	msgID := samp.NewMsgID()
	if h.pending.addAsync(msgID, rec.ID, tag) == nil {
		return nil, samp.ErrShutdown
	}
	h.metrics.RecordRouted(1)
	h.enqueue(&job{
		recipient: t.ID,
		callback:  t.Callback,
		method:    samp.MethodReceiveCall,
		args:      []any{t.Key, rec.ID, msgID, raw},
	})
	return msgID, nil
}

func (h *Hub) handleCallAll(ctx context.Context, args []any) (any, error) {
	rec, err := h.authed(args)
	if err != nil {
		return nil, err
	}
	tag, err := stringArg(args, 1)
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
	out := map[string]any{}
	for _, t := range h.broadcastTargets(rec.ID, m.MType) {
		msgID := samp.NewMsgID()
		if h.pending.addAsync(msgID, rec.ID, tag) == nil {
			return nil, samp.ErrShutdown
		}
		h.enqueue(&job{
			recipient: t.ID,
			callback:  t.Callback,
			method:    samp.MethodReceiveCall,
			args:      []any{t.Key, rec.ID, msgID, raw},
		})
		out[t.ID] = msgID
	}
	// The hub answers pings itself.
	if rec.ID != h.selfID && m.MType == samp.MTypeAppPing {
		msgID := samp.NewMsgID()
		if h.pending.addAsync(msgID, rec.ID, tag) == nil {
			return nil, samp.ErrShutdown
		}
		h.deliverToSelf(rec.ID, msgID, m)
		out[h.selfID] = msgID
	}
	h.metrics.RecordRouted(1)
	return out, nil
}

func (h *Hub) handleCallAndWait(ctx context.Context, args []any) (any, error) {
	rec, err := h.authed(args)
	if err != nil {
		return nil, err
	}
	target, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	raw, err := mapArg(args, 2)
	if err != nil {
		return nil, err
	}
	timeout, err := intArg(args, 3)
	if err != nil {
		return nil, err
	}
	m, err := samp.FromMap(raw)
	if err != nil {
		return nil, err
	}

	msgID := samp.NewMsgID()
	var pc *pendingCall
	if target == h.selfID {
		pc = h.pending.addSync(msgID, rec.ID, time.Duration(timeout)*time.Second)
		if pc == nil {
			return nil, samp.ErrShutdown
		}
		h.metrics.RecordRouted(1)
		h.deliverToSelf(rec.ID, msgID, m)
	} else {
		t, err := h.callableTarget(target, m.MType)
		if err != nil {
			return nil, err
		}
		pc = h.pending.addSync(msgID, rec.ID, time.Duration(timeout)*time.Second)
		if pc == nil {
			return nil, samp.ErrShutdown
		}
		h.metrics.RecordRouted(1)
		h.enqueue(&job{
			recipient: t.ID,
			callback:  t.Callback,
			method:    samp.MethodReceiveCall,
			args:      []any{t.Key, rec.ID, msgID, raw},
		})
	}

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(time.Duration(timeout) * time.Second)
		defer timer.Stop()
		timerC = timer.C
	}
	res := h.await(ctx, pc, timerC, target, timeout)
	if res.err != nil {
		return nil, res.err
	}
	return res.resp, nil
}

// await blocks until the pending entry resolves. Whichever of reply,
// timeout or caller cancellation takes the entry first owns the outcome;
// the losers receive that outcome from the entry's channel.
func (h *Hub) await(ctx context.Context, pc *pendingCall, timerC <-chan time.Time, target string, timeout int) callResult {
	select {
	case res := <-pc.ch:
		return res
	case <-timerC:
		h.expire(pc, fmt.Errorf("%w: no reply from %s within %ds", samp.ErrTimeout, target, timeout))
		return <-pc.ch
	case <-ctx.Done():
		h.log.Debug().Str("msg-id", pc.msgID).Msg("caller abandoned callAndWait")
		h.expire(pc, fmt.Errorf("caller cancelled: %v", ctx.Err()))
		return <-pc.ch
	}
}

// expire resolves pc with err unless reply or another path already took
// the entry.
func (h *Hub) expire(pc *pendingCall, err error) {
	if tk, ok := h.pending.take(pc.msgID); ok {
		tk.resolve(callResult{err: err})
	}
}

func (h *Hub) handleReply(ctx context.Context, args []any) (any, error) {
	rec, err := h.authed(args)
	if err != nil {
		return nil, err
	}
	msgID, err := stringArg(args, 1)
	if err != nil {
		return nil, err
	}
	raw, err := mapArg(args, 2)
	if err != nil {
		return nil, err
	}
	if _, err := samp.ResponseFromMap(raw); err != nil {
		return nil, err
	}
	if !h.resolveReply(rec.ID, msgID, raw) {
		// Duplicate, expired or plain wrong msg-id. The profile says
		// this is the responder's problem only to the extent of a log
		// line.
		h.log.Debug().Str("responder", rec.ID).Str("msg-id", msgID).Msg("reply for unknown msg-id ignored")
	}
	return "", nil
}

func (h *Hub) handlePing(ctx context.Context, args []any) (any, error) {
	return "", nil
}
