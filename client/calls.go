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

package client

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/markoxley/altair/mtype"
	"github.com/markoxley/altair/samp"
)

// Notify sends a fire-and-forget message to one client. Delivery is
// best-effort; a target that exists but does not subscribe to the mtype
// silently receives nothing.
func (s *Session) Notify(ctx context.Context, target string, m *samp.Message) error {
	if _, err := s.hub.Call(ctx, samp.MethodNotify, s.key, target, m.ToMap()); err != nil {
		return wireErr(err)
	}
	return nil
}

// NotifyAll broadcasts a fire-and-forget message to every subscribed
// client and returns the recipients the hub routed to.
func (s *Session) NotifyAll(ctx context.Context, m *samp.Message) ([]string, error) {
	res, err := s.hub.Call(ctx, samp.MethodNotifyAll, s.key, m.ToMap())
	if err != nil {
		return nil, wireErr(err)
	}
	return stringList(res), nil
}

// Call sends a message to one client and blocks until its reply arrives,
// the timeout elapses or ctx is cancelled. A zero timeout waits on ctx
// alone. The reply is claimed exactly once: a reply racing the timeout
// either wins and is returned, or loses and is discarded as unknown.
func (s *Session) Call(ctx context.Context, target string, m *samp.Message, timeout time.Duration) (*samp.Response, error) {
	tag := samp.NewMsgID()
	ch, err := s.pend(tag)
	if err != nil {
		return nil, err
	}
	if _, err := s.CallAsync(ctx, target, tag, m); err != nil {
		s.unpend(tag)
		return nil, err
	}

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case r, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: session closed", samp.ErrShutdown)
		}
		return r, nil
	case <-timerC:
		if !s.unpend(tag) {
			// The reply claimed the entry before the timeout could; it
			// is already in flight on the channel and wins.
			if r, ok := <-ch; ok {
				return r, nil
			}
		}
		return nil, fmt.Errorf("%w: no reply from %s within %s", samp.ErrTimeout, target, timeout)
	case <-ctx.Done():
		s.unpend(tag)
		return nil, ctx.Err()
	}
}

// CallAsync sends a message to one client, correlating the eventual
// response by tag. The response arrives through a waiting Call or, for
// tags no waiter owns, the handler installed with BindReply. Returns the
// hub-minted message id.
func (s *Session) CallAsync(ctx context.Context, target, tag string, m *samp.Message) (string, error) {
	res, err := s.hub.Call(ctx, samp.MethodCall, s.key, target, tag, m.ToMap())
	if err != nil {
		return "", wireErr(err)
	}
	msgID, _ := res.(string)
	return msgID, nil
}

// CallAll sends a message to every subscribed client, correlating each
// eventual response by tag. Returns recipient id to message id.
func (s *Session) CallAll(ctx context.Context, tag string, m *samp.Message) (map[string]string, error) {
	res, err := s.hub.Call(ctx, samp.MethodCallAll, s.key, tag, m.ToMap())
	if err != nil {
		return nil, wireErr(err)
	}
	raw, _ := res.(map[string]any)
	out := make(map[string]string, len(raw))
	for id, v := range raw {
		if msgID, ok := v.(string); ok {
			out[id] = msgID
		}
	}
	return out, nil
}

// Reply sends the response for a routed call back through the hub. A
// reply for an unknown or expired message id is a hub-side no-op.
func (s *Session) Reply(ctx context.Context, msgID string, r *samp.Response) error {
	if _, err := s.hub.Call(ctx, samp.MethodReply, s.key, msgID, r.ToMap()); err != nil {
		return wireErr(err)
	}
	return nil
}

// Ping checks that the hub is alive.
func (s *Session) Ping(ctx context.Context) error {
	if _, err := s.hub.Call(ctx, samp.MethodPing); err != nil {
		return wireErr(err)
	}
	return nil
}

// DeclareMetadata replaces this session's declared metadata. The display
// name from Connect is preserved unless md carries its own.
func (s *Session) DeclareMetadata(ctx context.Context, md samp.Metadata) error {
	out := md.Clone()
	if out == nil {
		out = samp.Metadata{}
	}
	if out.Name() == "" {
		out[samp.MetaName] = s.name
	}
	if _, err := s.hub.Call(ctx, samp.MethodDeclareMetadata, s.key, out.ToMap()); err != nil {
		return wireErr(err)
	}
	return nil
}

// RegisteredClients returns the ids of every other registered client,
// including the hub itself.
func (s *Session) RegisteredClients(ctx context.Context) ([]string, error) {
	res, err := s.hub.Call(ctx, samp.MethodGetRegisteredClients, s.key)
	if err != nil {
		return nil, wireErr(err)
	}
	return stringList(res), nil
}

// ClientMetadata returns the metadata another client declared.
func (s *Session) ClientMetadata(ctx context.Context, id string) (samp.Metadata, error) {
	res, err := s.hub.Call(ctx, samp.MethodGetMetadata, s.key, id)
	if err != nil {
		return nil, wireErr(err)
	}
	raw, ok := res.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: metadata result is not a map", samp.ErrMalformed)
	}
	return samp.MetadataFromMap(raw), nil
}

// ClientSubscriptions returns the subscription set another client
// declared.
func (s *Session) ClientSubscriptions(ctx context.Context, id string) (mtype.Subscriptions, error) {
	res, err := s.hub.Call(ctx, samp.MethodGetSubscriptions, s.key, id)
	if err != nil {
		return nil, wireErr(err)
	}
	raw, ok := res.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: subscriptions result is not a map", samp.ErrMalformed)
	}
	return mtype.SubscriptionsFromMap(raw), nil
}

// SubscribedClients returns the ids of clients subscribed to the concrete
// mtype mt, in sorted order.
func (s *Session) SubscribedClients(ctx context.Context, mt string) ([]string, error) {
	res, err := s.hub.Call(ctx, samp.MethodGetSubscribedClients, s.key, mt)
	if err != nil {
		return nil, wireErr(err)
	}
	raw, _ := res.(map[string]any)
	out := make([]string, 0, len(raw))
	for id := range raw {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// FindByName resolves a registered client by its declared display name.
// Fails with samp.ErrNotFound when no client declares that name.
func (s *Session) FindByName(ctx context.Context, name string) (string, error) {
	ids, err := s.RegisteredClients(ctx)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		md, err := s.ClientMetadata(ctx, id)
		if err != nil {
			continue
		}
		if md.Name() == name {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no client named %q", samp.ErrNotFound, name)
}

// pend registers a response waiter for tag.
func (s *Session) pend(tag string) (chan *samp.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: session closed", samp.ErrShutdown)
	}
	if _, dup := s.pending[tag]; dup {
		return nil, fmt.Errorf("duplicate call tag %q", tag)
	}
	ch := make(chan *samp.Response, 1)
	s.pending[tag] = ch
	return ch, nil
}

// unpend abandons a waiter, reporting whether the entry was still there.
// A response arriving afterwards finds no entry and is discarded as
// unknown.
func (s *Session) unpend(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[tag]
	delete(s.pending, tag)
	return ok
}

// takePending claims the waiter for tag. At most one caller ever succeeds
// for a given tag.
func (s *Session) takePending(tag string) (chan *samp.Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.pending[tag]
	if ok {
		delete(s.pending, tag)
	}
	return ch, ok
}

func stringList(v any) []string {
	raw, _ := v.([]any)
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
