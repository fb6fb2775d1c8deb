package hub

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markoxley/altair/config"
	"github.com/markoxley/altair/lockfile"
	"github.com/markoxley/altair/samp"
	"github.com/markoxley/altair/xmlrpc"
)

func newTestHub(t *testing.T, cfg *config.Config) *Hub {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.Port = 0
	if cfg.Lockfile == "" {
		cfg.Lockfile = filepath.Join(t.TempDir(), "samp.lock")
	}
	h := New(cfg)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(h.Stop)
	return h
}

func rpc(t *testing.T, url, method string, args ...any) (any, error) {
	t.Helper()
	cli := xmlrpc.NewClient(url, 10*time.Second)
	return cli.Call(context.Background(), method, args...)
}

func registerClient(t *testing.T, h *Hub) (id, key string) {
	t.Helper()
	res, err := rpc(t, h.URL(), samp.MethodRegister, h.Secret())
	require.NoError(t, err)
	m, ok := res.(map[string]any)
	require.True(t, ok)
	id, _ = m[samp.KeySelfID].(string)
	key, _ = m[samp.KeyPrivateKey].(string)
	require.NotEmpty(t, id)
	require.NotEmpty(t, key)
	return id, key
}

// note is one delivery observed by a recorder endpoint.
type note struct {
	sender string
	msgID  string
	tag    string
	raw    map[string]any
}

// recorder is a minimal client-side endpoint capturing what the hub
// delivers to it.
type recorder struct {
	srv    *httptest.Server
	notes  chan note
	calls  chan note
	resps  chan note
	onCall func(sender, msgID string, raw map[string]any)
}

func newRecorder(t *testing.T) *recorder {
	t.Helper()
	r := &recorder{
		notes: make(chan note, 16),
		calls: make(chan note, 16),
		resps: make(chan note, 16),
	}
	srv := xmlrpc.NewServer(zerolog.Nop(), 8)
	srv.Register(samp.MethodReceiveNotification, func(ctx context.Context, args []any) (any, error) {
		r.notes <- note{sender: args[1].(string), raw: args[2].(map[string]any)}
		return "", nil
	})
	srv.Register(samp.MethodReceiveCall, func(ctx context.Context, args []any) (any, error) {
		n := note{sender: args[1].(string), msgID: args[2].(string), raw: args[3].(map[string]any)}
		r.calls <- n
		if r.onCall != nil {
			go r.onCall(n.sender, n.msgID, n.raw)
		}
		return "", nil
	})
	srv.Register(samp.MethodReceiveResponse, func(ctx context.Context, args []any) (any, error) {
		r.resps <- note{sender: args[1].(string), tag: args[2].(string), raw: args[3].(map[string]any)}
		return "", nil
	})
	r.srv = httptest.NewServer(srv)
	t.Cleanup(r.srv.Close)
	return r
}

// registerCallable registers a client, points it at the recorder endpoint
// and subscribes it to the given patterns.
func registerCallable(t *testing.T, h *Hub, rec *recorder, patterns ...string) (id, key string) {
	t.Helper()
	id, key = registerClient(t, h)
	_, err := rpc(t, h.URL(), samp.MethodSetXmlrpcCallback, key, rec.srv.URL+"/")
	require.NoError(t, err)
	subs := map[string]any{}
	for _, p := range patterns {
		subs[p] = map[string]any{}
	}
	_, err = rpc(t, h.URL(), samp.MethodDeclareSubscriptions, key, subs)
	require.NoError(t, err)
	return id, key
}

func faultOf(t *testing.T, err error) *xmlrpc.Fault {
	t.Helper()
	var f *xmlrpc.Fault
	require.ErrorAs(t, err, &f)
	return f
}

func TestLifecycle(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 0
	cfg.Lockfile = filepath.Join(t.TempDir(), "samp.lock")
	h := New(cfg)

	assert.Equal(t, StateStopped, h.State())
	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, StateRunning, h.State())
	assert.Error(t, h.Start(context.Background()))

	info, err := lockfile.Read(cfg.Lockfile)
	require.NoError(t, err)
	assert.Equal(t, h.Secret(), info.Secret)
	assert.Equal(t, h.URL(), info.URL)

	h.Stop()
	assert.Equal(t, StateStopped, h.State())
	_, err = os.Stat(cfg.Lockfile)
	assert.True(t, os.IsNotExist(err))

	// Stop is idempotent from any state.
	h.Stop()
	assert.Equal(t, StateStopped, h.State())
}

func TestStopOnContextCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 0
	cfg.Lockfile = filepath.Join(t.TempDir(), "samp.lock")
	h := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Start(ctx))
	cancel()
	require.Eventually(t, func() bool {
		return h.State() == StateStopped
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.Default()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	cfg.Lockfile = filepath.Join(t.TempDir(), "samp.lock")
	h := New(cfg)
	err = h.Start(context.Background())
	require.ErrorIs(t, err, samp.ErrBind)
	assert.Equal(t, StateStopped, h.State())
}

func TestRegisterRejectsBadSecret(t *testing.T) {
	h := newTestHub(t, nil)
	_, err := rpc(t, h.URL(), samp.MethodRegister, "not-the-secret")
	assert.Equal(t, samp.FaultAuth, faultOf(t, err).Code)
}

func TestRegisterAllocatesIdentity(t *testing.T) {
	h := newTestHub(t, nil)
	idA, keyA := registerClient(t, h)
	idB, keyB := registerClient(t, h)
	assert.NotEqual(t, idA, idB)
	assert.NotEqual(t, keyA, keyB)

	res, err := rpc(t, h.URL(), samp.MethodGetRegisteredClients, keyA)
	require.NoError(t, err)
	ids := res.([]any)
	assert.Contains(t, ids, any(idB))
	assert.Contains(t, ids, any(HubID))
	assert.NotContains(t, ids, any(idA))
}

func TestSubscribeWithoutRegistration(t *testing.T) {
	h := newTestHub(t, nil)
	_, err := rpc(t, h.URL(), samp.MethodDeclareSubscriptions, "bogus-key", map[string]any{"table.load.fits": map[string]any{}})
	f := faultOf(t, err)
	assert.Equal(t, samp.FaultAuth, f.Code)
	assert.ErrorIs(t, samp.FaultError(f.Code, f.String), samp.ErrAuth)
}

func TestUnregisterTwice(t *testing.T) {
	h := newTestHub(t, nil)
	_, key := registerClient(t, h)
	_, err := rpc(t, h.URL(), samp.MethodUnregister, key)
	require.NoError(t, err)
	_, err = rpc(t, h.URL(), samp.MethodUnregister, key)
	assert.Equal(t, samp.FaultAuth, faultOf(t, err).Code)
}

func TestNotifyAllRoutesToSubscribers(t *testing.T) {
	h := newTestHub(t, nil)
	senderID, senderKey := registerClient(t, h)

	recB := newRecorder(t)
	idB, _ := registerCallable(t, h, recB, "table.load.fits")
	recC := newRecorder(t)
	registerCallable(t, h, recC, "image.load.fits")

	msg := samp.New("table.load.fits").Set("name", "t.fits").Set("url", "file:///tmp/t.fits")
	res, err := rpc(t, h.URL(), samp.MethodNotifyAll, senderKey, msg.ToMap())
	require.NoError(t, err)
	assert.Equal(t, []any{idB}, res)

	select {
	case n := <-recB.notes:
		assert.Equal(t, senderID, n.sender)
		assert.Equal(t, "table.load.fits", n.raw[samp.KeyMType])
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber never received the broadcast")
	}

	// Exactly once for B, never for the unmatched C.
	select {
	case <-recB.notes:
		t.Fatal("duplicate delivery")
	case <-recC.notes:
		t.Fatal("delivery to unsubscribed client")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWildcardSubscriptionRouting(t *testing.T) {
	h := newTestHub(t, nil)
	_, senderKey := registerClient(t, h)
	rec := newRecorder(t)
	idB, _ := registerCallable(t, h, rec, "samp.app.*")

	res, err := rpc(t, h.URL(), samp.MethodNotifyAll, senderKey, samp.New("samp.app.ping").ToMap())
	require.NoError(t, err)
	assert.Contains(t, res.([]any), any(idB))

	res, err = rpc(t, h.URL(), samp.MethodGetSubscribedClients, senderKey, "samp.app.ping")
	require.NoError(t, err)
	subscribed := res.(map[string]any)
	assert.Contains(t, subscribed, idB)
}

func TestNotifyDirected(t *testing.T) {
	h := newTestHub(t, nil)
	_, senderKey := registerClient(t, h)
	rec := newRecorder(t)
	idB, _ := registerCallable(t, h, rec, "demo.echo")

	_, err := rpc(t, h.URL(), samp.MethodNotify, senderKey, idB, samp.New("demo.echo").ToMap())
	require.NoError(t, err)
	select {
	case n := <-rec.notes:
		assert.Equal(t, "demo.echo", n.raw[samp.KeyMType])
	case <-time.After(5 * time.Second):
		t.Fatal("directed notify never arrived")
	}

	// Fire-and-forget to an unsubscribed recipient evaporates without error.
	_, err = rpc(t, h.URL(), samp.MethodNotify, senderKey, idB, samp.New("other.thing").ToMap())
	require.NoError(t, err)

	// Unknown recipient is the sender's error.
	_, err = rpc(t, h.URL(), samp.MethodNotify, senderKey, "cli#999", samp.New("demo.echo").ToMap())
	assert.Equal(t, samp.FaultNotFound, faultOf(t, err).Code)
}

func TestCallToUnsubscribedClient(t *testing.T) {
	h := newTestHub(t, nil)
	_, senderKey := registerClient(t, h)
	rec := newRecorder(t)
	idB, _ := registerCallable(t, h, rec, "demo.echo")

	_, err := rpc(t, h.URL(), samp.MethodCall, senderKey, idB, "tag1", samp.New("other.thing").ToMap())
	assert.Equal(t, samp.FaultNotSubscribed, faultOf(t, err).Code)
}

func TestCallAndWaitRoundTrip(t *testing.T) {
	h := newTestHub(t, nil)
	_, senderKey := registerClient(t, h)

	rec := newRecorder(t)
	idB, keyB := registerCallable(t, h, rec, "demo.echo")
	rec.onCall = func(sender, msgID string, raw map[string]any) {
		resp := samp.OK(map[string]any{"echo": raw[samp.KeyMType]})
		if _, err := rpc(t, h.URL(), samp.MethodReply, keyB, msgID, resp.ToMap()); err != nil {
			t.Errorf("reply failed: %v", err)
		}
	}

	res, err := rpc(t, h.URL(), samp.MethodCallAndWait, senderKey, idB, samp.New("demo.echo").ToMap(), 10)
	require.NoError(t, err)
	resp, err := samp.ResponseFromMap(res.(map[string]any))
	require.NoError(t, err)
	assert.Equal(t, samp.StatusOK, resp.Status)
	assert.Equal(t, "demo.echo", resp.Result["echo"])
	assert.Equal(t, 0, h.pending.len())
}

func TestCallAndWaitTimeout(t *testing.T) {
	h := newTestHub(t, nil)
	_, senderKey := registerClient(t, h)
	rec := newRecorder(t)
	idB, _ := registerCallable(t, h, rec, "demo.slow")

	start := time.Now()
	_, err := rpc(t, h.URL(), samp.MethodCallAndWait, senderKey, idB, samp.New("demo.slow").ToMap(), 1)
	assert.Equal(t, samp.FaultTimeout, faultOf(t, err).Code)
	assert.InDelta(t, time.Second.Seconds(), time.Since(start).Seconds(), 0.9)
	assert.Equal(t, 0, h.pending.len())
}

func TestReplyForUnknownMsgIDIsNoOp(t *testing.T) {
	h := newTestHub(t, nil)
	_, key := registerClient(t, h)
	_, err := rpc(t, h.URL(), samp.MethodReply, key, "no-such-msg", samp.OK(nil).ToMap())
	assert.NoError(t, err)
}

func TestAsyncCallForwardsResponse(t *testing.T) {
	h := newTestHub(t, nil)

	recA := newRecorder(t)
	_, keyA := registerCallable(t, h, recA, "hub.events")

	recB := newRecorder(t)
	idB, keyB := registerCallable(t, h, recB, "demo.echo")
	recB.onCall = func(sender, msgID string, raw map[string]any) {
		resp := samp.OK(map[string]any{"seen": "yes"})
		if _, err := rpc(t, h.URL(), samp.MethodReply, keyB, msgID, resp.ToMap()); err != nil {
			t.Errorf("reply failed: %v", err)
		}
	}

	res, err := rpc(t, h.URL(), samp.MethodCall, keyA, idB, "tag-7", samp.New("demo.echo").ToMap())
	require.NoError(t, err)
	msgID := res.(string)
	require.NotEmpty(t, msgID)

	select {
	case r := <-recA.resps:
		assert.Equal(t, idB, r.sender)
		assert.Equal(t, "tag-7", r.tag)
	case <-time.After(5 * time.Second):
		t.Fatal("response never forwarded to caller")
	}
	assert.Equal(t, 0, h.pending.len())

	// A second reply for the same msg-id is a no-op.
	_, err = rpc(t, h.URL(), samp.MethodReply, keyB, msgID, samp.OK(nil).ToMap())
	assert.NoError(t, err)
	select {
	case <-recA.resps:
		t.Fatal("duplicate reply was forwarded")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCallAllMintsOneMsgIDPerRecipient(t *testing.T) {
	h := newTestHub(t, nil)
	_, senderKey := registerClient(t, h)

	recB := newRecorder(t)
	idB, _ := registerCallable(t, h, recB, "demo.*")
	recC := newRecorder(t)
	idC, _ := registerCallable(t, h, recC, "demo.echo")

	res, err := rpc(t, h.URL(), samp.MethodCallAll, senderKey, "tag-all", samp.New("demo.echo").ToMap())
	require.NoError(t, err)
	out := res.(map[string]any)
	assert.Len(t, out, 2)
	assert.Contains(t, out, idB)
	assert.Contains(t, out, idC)
	assert.NotEqual(t, out[idB], out[idC])
}

func TestHubAnswersPing(t *testing.T) {
	h := newTestHub(t, nil)
	_, key := registerClient(t, h)

	_, err := rpc(t, h.URL(), samp.MethodPing)
	assert.NoError(t, err)

	res, err := rpc(t, h.URL(), samp.MethodCallAndWait, key, HubID, samp.New(samp.MTypeAppPing).ToMap(), 5)
	require.NoError(t, err)
	resp, err := samp.ResponseFromMap(res.(map[string]any))
	require.NoError(t, err)
	assert.Equal(t, samp.StatusOK, resp.Status)
}

func TestHubEventsAnnounceRegistration(t *testing.T) {
	h := newTestHub(t, nil)
	rec := newRecorder(t)
	registerCallable(t, h, rec, "samp.hub.event.*")

	newID, _ := registerClient(t, h)

	// The recorder's own subscriptions event may land first; wait for the
	// registration announcement specifically.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-rec.notes:
			if n.raw[samp.KeyMType] != samp.MTypeHubEventRegister {
				continue
			}
			assert.Equal(t, HubID, n.sender)
			params := n.raw[samp.KeyParams].(map[string]any)
			assert.Equal(t, newID, params["id"])
			return
		case <-deadline:
			t.Fatal("registration event never broadcast")
		}
	}
}

func TestShutdownFailsPendingCalls(t *testing.T) {
	h := newTestHub(t, nil)
	_, senderKey := registerClient(t, h)
	rec := newRecorder(t)
	idB, _ := registerCallable(t, h, rec, "demo.slow")

	errC := make(chan error, 1)
	go func() {
		_, err := rpc(t, h.URL(), samp.MethodCallAndWait, senderKey, idB, samp.New("demo.slow").ToMap(), 30)
		errC <- err
	}()
	select {
	case <-rec.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("call never routed")
	}

	h.Stop()
	select {
	case err := <-errC:
		assert.Equal(t, samp.FaultShutdown, faultOf(t, err).Code)
	case <-time.After(5 * time.Second):
		t.Fatal("pending caller never released")
	}
}

func TestUnreachableClientIsEvicted(t *testing.T) {
	cfg := config.Default()
	cfg.MaxRetries = 1
	cfg.CallTimeout = 200
	h := newTestHub(t, cfg)
	_, senderKey := registerClient(t, h)

	dead := newRecorder(t)
	idB, _ := registerCallable(t, h, dead, "table.load.fits")
	dead.srv.Close()

	_, err := rpc(t, h.URL(), samp.MethodNotifyAll, senderKey, samp.New("table.load.fits").ToMap())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := h.reg.Get(idB)
		return err != nil
	}, 10*time.Second, 50*time.Millisecond, "dead client never evicted")
}

func TestMalformedArguments(t *testing.T) {
	h := newTestHub(t, nil)
	_, key := registerClient(t, h)

	_, err := rpc(t, h.URL(), samp.MethodNotifyAll, key, map[string]any{"no-mtype": "here"})
	assert.Equal(t, samp.FaultMalformed, faultOf(t, err).Code)

	_, err = rpc(t, h.URL(), samp.MethodNotifyAll, key)
	assert.Equal(t, samp.FaultMalformed, faultOf(t, err).Code)

	_, err = rpc(t, h.URL(), samp.MethodDeclareSubscriptions, key, map[string]any{"bad..pattern": map[string]any{}})
	assert.Equal(t, samp.FaultMalformed, faultOf(t, err).Code)

	// The hub survives all of the above.
	assert.Equal(t, StateRunning, h.State())
}

func TestStatusEndpoint(t *testing.T) {
	h := newTestHub(t, nil)
	registerClient(t, h)

	resp, err := http.Get(h.URL() + "status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		State   string `json:"state"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "running", out.State)
	assert.Equal(t, 2, out.Clients) // the hub itself plus one client
}
