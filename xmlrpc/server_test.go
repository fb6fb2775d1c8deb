package xmlrpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	srv := NewServer(zerolog.Nop(), 4)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, NewClient(ts.URL, 5*time.Second)
}

func TestServerDispatch(t *testing.T) {
	srv, cli := newTestServer(t)
	srv.Register("echo", func(ctx context.Context, args []any) (any, error) {
		return args[0], nil
	})

	v, err := cli.Call(context.Background(), "echo", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, v)
}

func TestServerNilResultBecomesEmptyString(t *testing.T) {
	srv, cli := newTestServer(t)
	srv.Register("void", func(ctx context.Context, args []any) (any, error) {
		return nil, nil
	})

	v, err := cli.Call(context.Background(), "void")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestServerUnknownMethod(t *testing.T) {
	_, cli := newTestServer(t)

	_, err := cli.Call(context.Background(), "nope")
	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Contains(t, f.String, "no such method")
}

func TestServerFaultPassthrough(t *testing.T) {
	srv, cli := newTestServer(t)
	srv.Register("fail", func(ctx context.Context, args []any) (any, error) {
		return nil, &Fault{Code: 42, String: "custom"}
	})

	_, err := cli.Call(context.Background(), "fail")
	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, 42, f.Code)
	assert.Equal(t, "custom", f.String)
}

func TestServerFaultMapper(t *testing.T) {
	srv, cli := newTestServer(t)
	sentinel := errors.New("sentinel failure")
	srv.SetFaultMapper(func(err error) *Fault {
		if errors.Is(err, sentinel) {
			return &Fault{Code: 9, String: err.Error()}
		}
		return &Fault{Code: 1, String: err.Error()}
	})
	srv.Register("fail", func(ctx context.Context, args []any) (any, error) {
		return nil, sentinel
	})

	_, err := cli.Call(context.Background(), "fail")
	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, 9, f.Code)
}

func TestServerRecoversPanic(t *testing.T) {
	srv, cli := newTestServer(t)
	srv.Register("boom", func(ctx context.Context, args []any) (any, error) {
		panic("kaboom")
	})

	_, err := cli.Call(context.Background(), "boom")
	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Contains(t, f.String, "internal server error")

	// The server keeps working after a panic.
	srv.Register("ok", func(ctx context.Context, args []any) (any, error) {
		return "fine", nil
	})
	v, err := cli.Call(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, "fine", v)
}

func TestServerRejectsGet(t *testing.T) {
	srv := NewServer(zerolog.Nop(), 1)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerRejectsBadBody(t *testing.T) {
	srv := NewServer(zerolog.Nop(), 1)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL, "text/xml", strings.NewReader("not xml at all"))
	require.NoError(t, err)
	defer resp.Body.Close()

	_, err = DecodeResponse(resp.Body)
	var f *Fault
	require.True(t, errors.As(err, &f))
}
