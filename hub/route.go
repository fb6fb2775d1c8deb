package hub

import (
	"fmt"
	"sort"

	"github.com/markoxley/altair/registry"
	"github.com/markoxley/altair/samp"
)

// broadcastTargets selects the recipients of a broadcast: every client
// other than the sender that has declared a callback endpoint and a
// subscription covering mt. The selection works on a registry snapshot,
// so a client unregistering mid-broadcast either receives the message or
// does not; the recipient set never tears.
func (h *Hub) broadcastTargets(senderID, mt string) []*registry.Record {
	recs := h.reg.Snapshot()
	out := make([]*registry.Record, 0, len(recs))
	for _, rec := range recs {
		if rec.ID == senderID || !rec.Callable() || !rec.Subs.Matches(mt) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// broadcast queues a notification for every matching recipient and
// returns their IDs.
func (h *Hub) broadcast(senderID string, mt string, msg map[string]any) []string {
	targets := h.broadcastTargets(senderID, mt)
	ids := make([]string, 0, len(targets))
	for _, rec := range targets {
		h.enqueue(&job{
			recipient: rec.ID,
			callback:  rec.Callback,
			method:    samp.MethodReceiveNotification,
			args:      []any{rec.Key, senderID, msg},
		})
		ids = append(ids, rec.ID)
	}
	return ids
}

// callableTarget resolves the recipient of a directed call and verifies
// it subscribes to mt and can be called back.
func (h *Hub) callableTarget(id, mt string) (*registry.Record, error) {
	rec, err := h.reg.Get(id)
	if err != nil {
		return nil, err
	}
	if !rec.Subs.Matches(mt) {
		return nil, fmt.Errorf("%w: %s does not subscribe to %s", samp.ErrNotSubscribed, id, mt)
	}
	if !rec.Callable() && id != h.selfID {
		return nil, fmt.Errorf("%w: %s has no callback endpoint", samp.ErrNotSubscribed, id)
	}
	return rec, nil
}

// event broadcasts a hub administrative notification under the hub's own
// identity.
func (h *Hub) event(mt string, params samp.Params) {
	m := samp.New(mt)
	m.Params = params
	h.broadcast(h.selfID, mt, m.ToMap())
}

// deliverToSelf handles a message routed at the hub's own client id. The
// hub only answers pings; anything else routed here is refused so a
// caller is not left waiting on a reply that will never come.
func (h *Hub) deliverToSelf(senderID, msgID string, m *samp.Message) {
	if msgID == "" {
		return
	}
	if m.MType == samp.MTypeAppPing {
		h.resolveReply(h.selfID, msgID, samp.OK(nil).ToMap())
		return
	}
	h.resolveReply(h.selfID, msgID, samp.Error("hub does not handle "+m.MType).ToMap())
}

// resolveReply completes the pending entry for msgID. A synchronous
// waiter is woken directly; an asynchronous caller gets the response
// forwarded to its callback endpoint. Returns false when the entry is
// unknown, already resolved or expired.
func (h *Hub) resolveReply(responderID, msgID string, resp map[string]any) bool {
	pc, ok := h.pending.take(msgID)
	if !ok {
		return false
	}
	h.metrics.RecordReplyRelayed(1)
	if pc.sync {
		pc.resolve(callResult{resp: resp})
		return true
	}
	caller, err := h.reg.Get(pc.caller)
	if err != nil || !caller.Callable() {
		h.log.Debug().
			Str("caller", pc.caller).
			Str("msg-id", msgID).
			Msg("reply arrived for departed caller")
		return true
	}
	h.enqueue(&job{
		recipient: caller.ID,
		callback:  caller.Callback,
		method:    samp.MethodReceiveResponse,
		args:      []any{caller.Key, responderID, pc.tag, resp},
	})
	return true
}
