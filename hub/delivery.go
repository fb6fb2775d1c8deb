package hub

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/markoxley/altair/samp"
	"github.com/markoxley/altair/xmlrpc"
)

// job is one outbound delivery: a client-side method invocation bound for
// a single recipient's callback endpoint.
type job struct {
	recipient string
	callback  string
	method    string
	args      []any
}

// enqueue hands a job to the worker pool. When the queue is full the job
// is dropped and counted; a slow recipient must not stall routing for
// everyone else.
func (h *Hub) enqueue(j *job) {
	select {
	case h.queue <- j:
	default:
		h.metrics.RecordQueueDropped(1)
		h.log.Warn().
			Str("recipient", j.recipient).
			Str("method", j.method).
			Msg("delivery queue full, dropping job")
	}
}

// worker consumes delivery jobs until the hub shuts down. Jobs still
// queued at shutdown are abandoned; deliveries are best-effort.
func (h *Hub) worker() {
	defer h.wg.Done()
	for {
		select {
		case <-h.workCtx.Done():
			return
		case j := <-h.queue:
			h.deliver(j)
		}
	}
}

// deliver pushes one job to its recipient, retrying transient transport
// failures with exponential backoff. A recipient that stays unreachable
// after the configured attempts is evicted from the registry. A fault
// returned by the recipient counts as delivered; the message reached the
// client and retrying would duplicate it.
func (h *Hub) deliver(j *job) {
	cli := xmlrpc.NewClient(j.callback, time.Duration(h.cfg.CallTimeout)*time.Millisecond)
	op := func() error {
		_, err := cli.Call(h.workCtx, j.method, j.args...)
		var f *xmlrpc.Fault
		if errors.As(err, &f) {
			h.log.Debug().
				Str("recipient", j.recipient).
				Str("method", j.method).
				Str("fault", f.String).
				Msg("recipient faulted on delivery")
			return nil
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	var retries uint64
	if h.cfg.MaxRetries > 1 {
		retries = uint64(h.cfg.MaxRetries - 1)
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, retries), h.workCtx))
	if err != nil {
		h.metrics.RecordDeliveryFailure(1)
		h.log.Error().Err(err).
			Str("recipient", j.recipient).
			Str("method", j.method).
			Int("attempts", h.cfg.MaxRetries).
			Msg("delivery failed")
		h.evict(j.recipient)
		return
	}
	h.metrics.RecordDelivered(1)
}

// evict removes a client whose transport has failed and announces the
// departure. The hub's own record is never evicted, and nothing is
// evicted once shutdown has begun.
func (h *Hub) evict(id string) {
	if id == h.selfID || h.State() != StateRunning {
		return
	}
	if !h.reg.Evict(id) {
		return
	}
	h.log.Info().Str("id", id).Msg("evicted unreachable client")
	h.event(samp.MTypeHubEventUnregister, samp.Params{"id": id})
}
