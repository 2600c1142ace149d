package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codedError struct {
	code    string
	message string
	details any
}

func (e *codedError) Error() string     { return e.message }
func (e *codedError) ErrorCode() string { return e.code }
func (e *codedError) ErrorDetails() any { return e.details }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T, handler HandlerFunc) string {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "bridge.sock")
	server := NewServer(socketPath, handler, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	select {
	case <-server.Ready():
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return socketPath
}

func TestChannel_RoundTrip(t *testing.T) {
	var gotMethod string
	var gotArgs any

	socketPath := startServer(t, func(ctx context.Context, method string, arguments any) (any, error) {
		gotMethod, gotArgs = method, arguments
		return map[string]any{"enabled": true, "keys": []string{"a", "b"}}, nil
	})

	client := NewClient(socketPath)
	result, err := client.Invoke(context.Background(), "isFeatureEnabled", map[string]any{
		"feature_key": "checkout_v2",
		"attributes":  map[string]any{"plan": "pro"},
	})
	require.NoError(t, err)

	assert.Equal(t, "isFeatureEnabled", gotMethod)
	args, ok := gotArgs.(map[string]any)
	require.True(t, ok, "arguments decode as map[string]any")
	assert.Equal(t, "checkout_v2", args["feature_key"])
	assert.Equal(t, map[string]any{"plan": "pro"}, args["attributes"])

	out, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, out["enabled"])
	assert.Equal(t, []any{"a", "b"}, out["keys"])
}

func TestChannel_TypedResult(t *testing.T) {
	socketPath := startServer(t, func(ctx context.Context, method string, arguments any) (any, error) {
		return true, nil
	})

	var enabled bool
	require.NoError(t, NewClient(socketPath).Call(context.Background(), "isFeatureEnabled", nil, &enabled))
	assert.True(t, enabled)
}

func TestChannel_NilResultAndArguments(t *testing.T) {
	var gotArgs any = "unset"
	socketPath := startServer(t, func(ctx context.Context, method string, arguments any) (any, error) {
		gotArgs = arguments
		return nil, nil
	})

	result, err := NewClient(socketPath).Invoke(context.Background(), "getAllEnabledFeatures", nil)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Nil(t, gotArgs)
}

func TestChannel_CodedError(t *testing.T) {
	socketPath := startServer(t, func(ctx context.Context, method string, arguments any) (any, error) {
		return nil, &codedError{code: "user", message: "Optimizely user not initialized", details: "setUser first"}
	})

	_, err := NewClient(socketPath).Invoke(context.Background(), "isFeatureEnabled", map[string]any{})
	require.Error(t, err)

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "user", remote.Code)
	assert.Equal(t, "Optimizely user not initialized", remote.Message)
	assert.Equal(t, "setUser first", remote.Details)
	assert.True(t, IsRemoteError(err))
}

func TestChannel_PlainError(t *testing.T) {
	socketPath := startServer(t, func(ctx context.Context, method string, arguments any) (any, error) {
		return nil, errors.New("boom")
	})

	_, err := NewClient(socketPath).Invoke(context.Background(), "x", nil)

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, CodeInternal, remote.Code)
	assert.Equal(t, "boom", remote.Message)
}

func TestChannel_InvalidRequest(t *testing.T) {
	socketPath := startServer(t, func(ctx context.Context, method string, arguments any) (any, error) {
		t.Error("handler must not be called")
		return nil, nil
	})

	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, newEncoder(conn).Encode(map[string]any{"arguments": map[string]any{}}))
	conn.(*net.UnixConn).CloseWrite()

	var response Response
	require.NoError(t, newDecoder(conn).Decode(&response))
	assert.False(t, response.OK)
	assert.Equal(t, CodeInvalidRequest, response.Code)
	assert.Contains(t, response.Message, "method")
}

func TestChannel_ClientConnectError(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := client.Invoke(context.Background(), "x", nil)
	require.Error(t, err)
	assert.False(t, IsRemoteError(err))
}
