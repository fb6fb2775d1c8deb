package client

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markoxley/altair/config"
	"github.com/markoxley/altair/hub"
	"github.com/markoxley/altair/samp"
)

func startHub(t *testing.T) *hub.Hub {
	t.Helper()
	cfg := config.Default()
	cfg.Port = 0
	cfg.Lockfile = filepath.Join(t.TempDir(), "samp.lock")
	h := hub.New(cfg)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(h.Stop)
	return h
}

func connect(t *testing.T, h *hub.Hub, name string) *Session {
	t.Helper()
	s, err := Connect(context.Background(), Config{
		Name:   name,
		HubURL: h.URL(),
		Secret: h.Secret(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Disconnect(context.Background()) })
	return s
}

type received struct {
	sender string
	m      *samp.Message
}

func TestConnectAndIntrospect(t *testing.T) {
	h := startHub(t)
	ctx := context.Background()
	a := connect(t, h, "appA")
	b := connect(t, h, "appB")

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, hub.HubID, a.HubID())
	require.NoError(t, a.Ping(ctx))

	ids, err := a.RegisteredClients(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, b.ID())
	assert.Contains(t, ids, hub.HubID)
	assert.NotContains(t, ids, a.ID())

	md, err := a.ClientMetadata(ctx, b.ID())
	require.NoError(t, err)
	assert.Equal(t, "appB", md.Name())

	id, err := a.FindByName(ctx, "appB")
	require.NoError(t, err)
	assert.Equal(t, b.ID(), id)

	_, err = a.FindByName(ctx, "nobody")
	assert.ErrorIs(t, err, samp.ErrNotFound)
}

func TestConnectErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Connect(ctx, Config{})
	assert.ErrorIs(t, err, samp.ErrMalformed)

	_, err = Connect(ctx, Config{Name: "x", HubURL: "http://127.0.0.1:1/", Secret: "s"})
	assert.ErrorIs(t, err, samp.ErrConnect)

	h := startHub(t)
	_, err = Connect(ctx, Config{Name: "x", HubURL: h.URL(), Secret: "wrong"})
	assert.ErrorIs(t, err, samp.ErrAuth)
}

func TestConnectViaLockfile(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 0
	cfg.Lockfile = filepath.Join(t.TempDir(), "samp.lock")
	h := hub.New(cfg)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(h.Stop)

	s, err := Connect(context.Background(), Config{Name: "discoverer", Lockfile: cfg.Lockfile})
	require.NoError(t, err)
	defer s.Disconnect(context.Background())
	assert.NotEmpty(t, s.ID())

	_, err = Connect(context.Background(), Config{Name: "lost", Lockfile: filepath.Join(t.TempDir(), "absent")})
	assert.ErrorIs(t, err, samp.ErrConnect)
}

func TestNotifyAllDeliversExactlyOnce(t *testing.T) {
	h := startHub(t)
	ctx := context.Background()
	a := connect(t, h, "sender")
	b := connect(t, h, "receiver")

	got := make(chan received, 4)
	require.NoError(t, b.BindNotification(ctx, "table.load.fits", func(sender string, m *samp.Message) {
		got <- received{sender: sender, m: m}
	}))

	msg := samp.New("table.load.fits").
		Set("name", "t.fits").
		Set("url", "file:///tmp/t.fits")
	recipients, err := a.NotifyAll(ctx, msg)
	require.NoError(t, err)
	assert.Contains(t, recipients, b.ID())
	assert.NotContains(t, recipients, a.ID())

	select {
	case r := <-got:
		assert.Equal(t, a.ID(), r.sender)
		assert.Equal(t, "table.load.fits", r.m.MType)
		name, _ := r.m.Params.String("name")
		assert.Equal(t, "t.fits", name)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never fired")
	}

	select {
	case <-got:
		t.Fatal("handler fired twice for one broadcast")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMatchingHandlersRunInBindOrder(t *testing.T) {
	h := startHub(t)
	ctx := context.Background()
	a := connect(t, h, "sender")
	b := connect(t, h, "receiver")

	var mu sync.Mutex
	var order []int
	done := make(chan struct{}, 1)
	require.NoError(t, b.BindNotification(ctx, "table.load.fits", func(string, *samp.Message) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	}))
	require.NoError(t, b.BindNotification(ctx, "table.load.*", func(string, *samp.Message) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		done <- struct{}{}
	}))

	require.NoError(t, a.Notify(ctx, b.ID(), samp.New("table.load.fits")))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handlers never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, order)
}

func TestSubscriptionsFollowBindings(t *testing.T) {
	h := startHub(t)
	ctx := context.Background()
	a := connect(t, h, "observer")
	b := connect(t, h, "receiver")

	require.NoError(t, b.BindNotification(ctx, "table.highlight.row", func(string, *samp.Message) {}))
	require.NoError(t, b.BindCall(ctx, "demo.*", func(string, *samp.Message) (map[string]any, error) {
		return nil, nil
	}))

	subs, err := a.ClientSubscriptions(ctx, b.ID())
	require.NoError(t, err)
	assert.True(t, subs.Matches("table.highlight.row"))
	assert.True(t, subs.Matches("demo.echo"))
	assert.False(t, subs.Matches("table.load.fits"))

	ids, err := a.SubscribedClients(ctx, "demo.echo")
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID()}, ids)
}

func TestCallReplyRoundTrip(t *testing.T) {
	h := startHub(t)
	ctx := context.Background()
	a := connect(t, h, "caller")
	b := connect(t, h, "callee")

	var seenSender string
	require.NoError(t, b.BindCall(ctx, "demo.echo", func(sender string, m *samp.Message) (map[string]any, error) {
		seenSender = sender
		return map[string]any{"echo": m.MType}, nil
	}))

	resp, err := a.Call(ctx, b.ID(), samp.New("demo.echo"), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, samp.StatusOK, resp.Status)
	assert.Equal(t, "demo.echo", resp.Result["echo"])
	assert.Equal(t, a.ID(), seenSender)

	a.mu.Lock()
	assert.Empty(t, a.pending)
	a.mu.Unlock()
}

func TestCallHandlerErrorBecomesErrorResponse(t *testing.T) {
	h := startHub(t)
	ctx := context.Background()
	a := connect(t, h, "caller")
	b := connect(t, h, "callee")

	require.NoError(t, b.BindCall(ctx, "demo.fail", func(string, *samp.Message) (map[string]any, error) {
		return nil, errors.New("cannot comply")
	}))

	resp, err := a.Call(ctx, b.ID(), samp.New("demo.fail"), 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, samp.StatusError, resp.Status)
	assert.Equal(t, "cannot comply", resp.ErrorText())
}

func TestCallTimeout(t *testing.T) {
	h := startHub(t)
	ctx := context.Background()
	a := connect(t, h, "caller")
	b := connect(t, h, "slowpoke")

	release := make(chan struct{})
	var once sync.Once
	defer once.Do(func() { close(release) })
	require.NoError(t, b.BindCall(ctx, "demo.slow", func(string, *samp.Message) (map[string]any, error) {
		<-release
		return map[string]any{}, nil
	}))

	start := time.Now()
	_, err := a.Call(ctx, b.ID(), samp.New("demo.slow"), 2*time.Second)
	require.ErrorIs(t, err, samp.ErrTimeout)
	assert.InDelta(t, 2.0, time.Since(start).Seconds(), 1.5)

	a.mu.Lock()
	assert.Empty(t, a.pending, "pending entry not cleaned up after timeout")
	a.mu.Unlock()

	// The late reply must be discarded as unknown, not resurrected.
	once.Do(func() { close(release) })
	time.Sleep(300 * time.Millisecond)
	a.mu.Lock()
	assert.Empty(t, a.pending)
	a.mu.Unlock()
}

func TestCallUnknownTarget(t *testing.T) {
	h := startHub(t)
	a := connect(t, h, "caller")
	_, err := a.Call(context.Background(), "cli#999", samp.New("demo.echo"), time.Second)
	assert.ErrorIs(t, err, samp.ErrNotFound)
}

func TestCallAsyncWithBoundReplyHandler(t *testing.T) {
	h := startHub(t)
	ctx := context.Background()
	a := connect(t, h, "caller")
	b := connect(t, h, "callee")

	require.NoError(t, b.BindCall(ctx, "demo.echo", func(string, *samp.Message) (map[string]any, error) {
		return map[string]any{"ok": "yes"}, nil
	}))

	type reply struct {
		responder string
		tag       string
		resp      *samp.Response
	}
	got := make(chan reply, 1)
	a.BindReply(func(responderID, tag string, r *samp.Response) {
		got <- reply{responder: responderID, tag: tag, resp: r}
	})

	msgID, err := a.CallAsync(ctx, b.ID(), "m1", samp.New("demo.echo"))
	require.NoError(t, err)
	assert.NotEmpty(t, msgID)

	select {
	case r := <-got:
		assert.Equal(t, b.ID(), r.responder)
		assert.Equal(t, "m1", r.tag)
		assert.Equal(t, samp.StatusOK, r.resp.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("reply handler never fired")
	}
}

func TestDisconnect(t *testing.T) {
	h := startHub(t)
	ctx := context.Background()
	a, err := Connect(ctx, Config{Name: "leaver", HubURL: h.URL(), Secret: h.Secret()})
	require.NoError(t, err)
	b := connect(t, h, "watcher")

	require.NoError(t, a.Disconnect(ctx))
	require.NoError(t, a.Disconnect(ctx), "disconnect must be idempotent")

	// The registration is gone, so authenticated operations now fail.
	_, err = a.NotifyAll(ctx, samp.New("demo.echo"))
	assert.ErrorIs(t, err, samp.ErrAuth)

	ids, err := b.RegisteredClients(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, a.ID())
}

func TestDisconnectFailsPendingCall(t *testing.T) {
	h := startHub(t)
	ctx := context.Background()
	a, err := Connect(ctx, Config{Name: "caller", HubURL: h.URL(), Secret: h.Secret()})
	require.NoError(t, err)
	b := connect(t, h, "callee")

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, b.BindCall(ctx, "demo.slow", func(string, *samp.Message) (map[string]any, error) {
		close(started)
		<-release
		return map[string]any{}, nil
	}))

	errC := make(chan error, 1)
	go func() {
		_, err := a.Call(ctx, b.ID(), samp.New("demo.slow"), 30*time.Second)
		errC <- err
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("call never reached the callee")
	}

	a.Disconnect(ctx)
	select {
	case err := <-errC:
		assert.ErrorIs(t, err, samp.ErrShutdown)
	case <-time.After(5 * time.Second):
		t.Fatal("pending call never released by disconnect")
	}
}

func TestBindRejectsBadPattern(t *testing.T) {
	h := startHub(t)
	a := connect(t, h, "binder")
	err := a.BindNotification(context.Background(), "bad..pattern", func(string, *samp.Message) {})
	assert.ErrorIs(t, err, samp.ErrMalformed)
}
