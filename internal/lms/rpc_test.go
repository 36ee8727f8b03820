package lms

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func paramsForServer(t *testing.T, srv *httptest.Server, creds Credentials) ConnectParams {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return ConnectParams{
		Host:     host,
		Port:     port,
		Username: creds.Username,
		Password: creds.Password,
		Proto:    ProtoRPC,
	}
}

func TestSend_RequestShape(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"result":{"mode":"play"}}`))
	}))
	defer srv.Close()

	client := NewRPCClient(zap.NewNop())
	resp, err := client.Send(context.Background(), paramsForServer(t, srv, Credentials{}),
		"00:04:20:aa:bb:cc", []interface{}{"status", "-", 1})

	require.NoError(t, err)
	assert.Equal(t, "/jsonrpc.js", gotPath)
	assert.Equal(t, float64(1), gotBody["id"])
	assert.Equal(t, "slim.request", gotBody["method"])

	params, ok := gotBody["params"].([]interface{})
	require.True(t, ok)
	require.Len(t, params, 2)
	assert.Equal(t, "00:04:20:aa:bb:cc", params[0])

	assert.Equal(t, "play", resp.Result["mode"])
	assert.False(t, resp.Aborted)
}

func TestSend_BasicAuth(t *testing.T) {
	var user, pass string
	var hasAuth bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, hasAuth = r.BasicAuth()
		w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()

	client := NewRPCClient(zap.NewNop())
	creds := Credentials{Username: "admin", Password: "hunter2"}
	_, err := client.Send(context.Background(), paramsForServer(t, srv, creds), "", []interface{}{"serverstatus"})

	require.NoError(t, err)
	assert.True(t, hasAuth)
	assert.Equal(t, "admin", user)
	assert.Equal(t, "hunter2", pass)
}

func TestSend_NoAuthWithoutUsername(t *testing.T) {
	var hasAuth bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, hasAuth = r.BasicAuth()
		w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()

	client := NewRPCClient(zap.NewNop())
	_, err := client.Send(context.Background(), paramsForServer(t, srv, Credentials{}), "", []interface{}{"serverstatus"})

	require.NoError(t, err)
	assert.False(t, hasAuth)
}

func TestSend_CancelledResolvesAborted(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	client := NewRPCClient(zap.NewNop())
	resp, err := client.Send(ctx, paramsForServer(t, srv, Credentials{}), "", []interface{}{"serverstatus"})

	require.NoError(t, err, "cancellation resolves, it does not reject")
	assert.True(t, resp.Aborted)
	assert.Nil(t, resp.Result)
}

func TestSend_DeadlineIsATransportError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	client := NewRPCClient(zap.NewNop())
	_, err := client.Send(ctx, paramsForServer(t, srv, Credentials{}), "", []interface{}{"serverstatus"})

	assert.Error(t, err, "a timed-out request is retryable, not a supersession")
}

func TestSend_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewRPCClient(zap.NewNop())
	_, err := client.Send(context.Background(), paramsForServer(t, srv, Credentials{}), "", []interface{}{"serverstatus"})

	assert.Error(t, err)
}

func TestSend_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":`))
	}))
	defer srv.Close()

	client := NewRPCClient(zap.NewNop())
	_, err := client.Send(context.Background(), paramsForServer(t, srv, Credentials{}), "", []interface{}{"serverstatus"})

	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestBuildConnectParams(t *testing.T) {
	server := ServerRef{Host: "music.local", RPCPort: 9000, CLIPort: 9090}
	creds := Credentials{Username: "u", Password: "p"}

	rpc := BuildConnectParams(server, creds, ProtoRPC)
	assert.Equal(t, "music.local:9000", rpc.Addr())
	assert.Equal(t, "u", rpc.Username)

	cli := BuildConnectParams(server, creds, ProtoCLI)
	assert.Equal(t, "music.local:9090", cli.Addr())
}
