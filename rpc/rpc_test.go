package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAppOrigin   = "https://app.example"
	testPopupOrigin = "https://popup.example"
)

// echoHandler answers any method with its first argument.
func echoHandler(_ context.Context, _ string, args []json.RawMessage) (interface{}, bool, error) {
	if len(args) == 0 {
		return nil, true, nil
	}
	var v interface{}
	if err := json.Unmarshal(args[0], &v); err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	portA, _ := Pipe(testAppOrigin, testPopupOrigin)

	tests := []struct {
		name         string
		port         Port
		targetOrigin string
		wantErr      error
	}{
		{name: "valid", port: portA, targetOrigin: testPopupOrigin},
		{name: "wildcard-allowed", port: portA, targetOrigin: WildcardOrigin},
		{name: "nil-port", port: nil, targetOrigin: testPopupOrigin, wantErr: ErrNilParameter},
		{name: "missing-origin", port: portA, targetOrigin: "", wantErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			c, err := NewClient(tt.port, tt.targetOrigin)
			if tt.wantErr != nil {
				require.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			require.NotNil(c)
		})
	}
}

func TestNewServer(t *testing.T) {
	t.Parallel()
	portA, _ := Pipe(testAppOrigin, testPopupOrigin)

	tests := []struct {
		name         string
		port         Port
		clientOrigin string
		handler      Handler
		wantErr      error
	}{
		{name: "valid", port: portA, clientOrigin: testPopupOrigin, handler: echoHandler},
		{name: "nil-port", clientOrigin: testPopupOrigin, handler: echoHandler, wantErr: ErrNilParameter},
		{name: "missing-origin", port: portA, handler: echoHandler, wantErr: ErrInvalidParameter},
		{name: "wildcard-refused", port: portA, clientOrigin: WildcardOrigin, handler: echoHandler, wantErr: ErrInvalidParameter},
		{name: "nil-handler", port: portA, clientOrigin: testPopupOrigin, wantErr: ErrNilParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			s, err := NewServer(tt.port, tt.clientOrigin, tt.handler)
			if tt.wantErr != nil {
				require.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			require.NotNil(s)
		})
	}
}

func TestClient_Request(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		serverPort, clientPort := Pipe(testAppOrigin, testPopupOrigin)

		srv, err := NewServer(serverPort, testPopupOrigin, echoHandler)
		require.NoError(err)
		srv.Start()
		defer srv.Stop()

		client, err := NewClient(clientPort, testAppOrigin)
		require.NoError(err)

		ret, err := client.Request(ctx, "echo", "hello")
		require.NoError(err)
		assert.JSONEq(`"hello"`, string(ret))
	})
	t.Run("concurrent-requests-resolve-by-id", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		serverPort, clientPort := Pipe(testAppOrigin, testPopupOrigin)

		srv, err := NewServer(serverPort, testPopupOrigin, echoHandler)
		require.NoError(err)
		srv.Start()
		defer srv.Stop()

		client, err := NewClient(clientPort, testAppOrigin)
		require.NoError(err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				ret, err := client.Request(ctx, "echo", i)
				assert.NoError(err)
				var got int
				assert.NoError(json.Unmarshal(ret, &got))
				assert.Equal(i, got)
			}()
		}
		wg.Wait()
	})
	t.Run("timeout-when-unhandled", func(t *testing.T) {
		require := require.New(t)
		serverPort, clientPort := Pipe(testAppOrigin, testPopupOrigin)

		decline := func(context.Context, string, []json.RawMessage) (interface{}, bool, error) {
			return nil, false, nil
		}
		srv, err := NewServer(serverPort, testPopupOrigin, decline)
		require.NoError(err)
		srv.Start()
		defer srv.Stop()

		client, err := NewClient(clientPort, testAppOrigin, WithTimeout(50*time.Millisecond))
		require.NoError(err)

		_, err = client.Request(ctx, "nobody/home")
		require.ErrorIs(err, ErrTimeout)
	})
	t.Run("unrelated-traffic-ignored", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		serverPort, clientPort := Pipe(testAppOrigin, testPopupOrigin)

		// The responder echoes back noise before the real answer; only the
		// response carrying the request's id may resolve the call.
		var unsub func()
		unsub = serverPort.Subscribe(func(msg Message) {
			req, ok := decodeRequest(msg.Data)
			if !ok {
				return
			}
			_ = serverPort.Post(ctx, []byte(`{"other-namespace":{"id":"x","ret":1}}`), testPopupOrigin)
			noise, _ := encodeResponse(Response{ID: "not-your-id", Ret: json.RawMessage(`"noise"`)})
			_ = serverPort.Post(ctx, noise, testPopupOrigin)
			answer, _ := encodeResponse(Response{ID: req.ID, Ret: json.RawMessage(`"real"`)})
			_ = serverPort.Post(ctx, answer, testPopupOrigin)
		})
		defer unsub()

		client, err := NewClient(clientPort, testAppOrigin)
		require.NoError(err)

		ret, err := client.Request(ctx, "echo")
		require.NoError(err)
		assert.JSONEq(`"real"`, string(ret))
	})
	t.Run("missing-method", func(t *testing.T) {
		require := require.New(t)
		_, clientPort := Pipe(testAppOrigin, testPopupOrigin)
		client, err := NewClient(clientPort, testAppOrigin)
		require.NoError(err)
		_, err = client.Request(ctx, "")
		require.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestClient_RequestInto(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	serverPort, clientPort := Pipe(testAppOrigin, testPopupOrigin)
	handler := func(_ context.Context, method string, _ []json.RawMessage) (interface{}, bool, error) {
		switch method {
		case "value":
			return "hello", true, nil
		case "absent":
			return nil, true, nil
		}
		return nil, false, nil
	}
	srv, err := NewServer(serverPort, testPopupOrigin, handler)
	require.NoError(t, err)
	srv.Start()
	defer srv.Stop()

	client, err := NewClient(clientPort, testAppOrigin)
	require.NoError(t, err)

	t.Run("value", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var got string
		found, err := client.RequestInto(ctx, &got, "value")
		require.NoError(err)
		assert.True(found)
		assert.Equal("hello", got)
	})
	t.Run("null-is-not-found", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got := "untouched"
		found, err := client.RequestInto(ctx, &got, "absent")
		require.NoError(err)
		assert.False(found)
		assert.Equal("untouched", got)
	})
}

func TestServer_OriginCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	require := require.New(t)

	// The server expects a different origin than the pipe's peer actually
	// has, so every message it receives must be dropped unanswered with the
	// handler never invoked.
	serverPort, clientPort := Pipe(testAppOrigin, testPopupOrigin)
	var calls atomic.Int32
	handler := func(context.Context, string, []json.RawMessage) (interface{}, bool, error) {
		calls.Add(1)
		return "answered", true, nil
	}
	srv, err := NewServer(serverPort, "https://elsewhere.example", handler)
	require.NoError(err)
	srv.Start()
	defer srv.Stop()

	client, err := NewClient(clientPort, testAppOrigin, WithTimeout(50*time.Millisecond))
	require.NoError(err)

	_, err = client.Request(ctx, "echo", "hi")
	require.ErrorIs(err, ErrTimeout)
	require.Zero(calls.Load())
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	require := require.New(t)

	serverPort, clientPort := Pipe(testAppOrigin, testPopupOrigin)
	srv, err := NewServer(serverPort, testPopupOrigin, echoHandler)
	require.NoError(err)

	// Both are idempotent.
	srv.Start()
	srv.Start()

	client, err := NewClient(clientPort, testAppOrigin, WithTimeout(100*time.Millisecond))
	require.NoError(err)
	_, err = client.Request(ctx, "echo", 1)
	require.NoError(err)

	srv.Stop()
	srv.Stop()

	_, err = client.Request(ctx, "echo", 2)
	require.ErrorIs(err, ErrTimeout)
}

func TestCombineHandlers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	first := func(_ context.Context, method string, _ []json.RawMessage) (interface{}, bool, error) {
		if method == "shared" || method == "first-only" {
			return "first", true, nil
		}
		return nil, false, nil
	}
	second := func(_ context.Context, method string, _ []json.RawMessage) (interface{}, bool, error) {
		if method == "shared" || method == "second-only" {
			return "second", true, nil
		}
		return nil, false, nil
	}
	combined := CombineHandlers(first, nil, second)

	tests := []struct {
		name        string
		method      string
		wantRet     interface{}
		wantHandled bool
	}{
		{name: "first-wins", method: "shared", wantRet: "first", wantHandled: true},
		{name: "falls-through", method: "second-only", wantRet: "second", wantHandled: true},
		{name: "nobody-handles", method: "unknown"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			ret, handled, err := combined(ctx, tt.method, nil)
			require.NoError(err)
			assert.Equal(tt.wantHandled, handled)
			assert.Equal(tt.wantRet, ret)
		})
	}
}

func TestPipePort(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("mismatched-target-origin-discards", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		portA, portB := Pipe(testAppOrigin, testPopupOrigin)

		received := make(chan Message, 1)
		unsub := portB.Subscribe(func(msg Message) { received <- msg })
		defer unsub()

		require.NoError(portA.Post(ctx, []byte("secret"), "https://elsewhere.example"))
		select {
		case <-received:
			t.Fatal("message delivered despite target origin mismatch")
		case <-time.After(50 * time.Millisecond):
		}

		require.NoError(portA.Post(ctx, []byte("public"), WildcardOrigin))
		select {
		case msg := <-received:
			assert.Equal("public", string(msg.Data))
			assert.Equal(testAppOrigin, msg.Origin)
		case <-time.After(time.Second):
			t.Fatal("wildcard post not delivered")
		}
	})
	t.Run("origin-stamped-by-transport", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		portA, portB := Pipe(testAppOrigin, testPopupOrigin)

		received := make(chan Message, 1)
		unsub := portB.Subscribe(func(msg Message) { received <- msg })
		defer unsub()

		// Payload claims an origin; the transport's stamp is what counts.
		require.NoError(portA.Post(ctx, []byte(`{"origin":"https://forged.example"}`), testPopupOrigin))
		select {
		case msg := <-received:
			assert.Equal(testAppOrigin, msg.Origin)
		case <-time.After(time.Second):
			t.Fatal("post not delivered")
		}
	})
	t.Run("unsubscribe-is-idempotent", func(t *testing.T) {
		require := require.New(t)
		portA, portB := Pipe(testAppOrigin, testPopupOrigin)

		received := make(chan Message, 1)
		unsub := portB.Subscribe(func(msg Message) { received <- msg })
		unsub()
		unsub()

		require.NoError(portA.Post(ctx, []byte("late"), testPopupOrigin))
		select {
		case <-received:
			t.Fatal("message delivered after unsubscribe")
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestRemoteStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)

	serverPort, clientPort := Pipe(testAppOrigin, testPopupOrigin)

	backing := map[string]string{}
	var mu sync.Mutex
	handler := func(_ context.Context, method string, args []json.RawMessage) (interface{}, bool, error) {
		mu.Lock()
		defer mu.Unlock()
		var key string
		if len(args) > 0 {
			if err := json.Unmarshal(args[0], &key); err != nil {
				return nil, false, err
			}
		}
		switch method {
		case MethodStorageGetItem:
			value, ok := backing[key]
			if !ok {
				return nil, true, nil
			}
			return value, true, nil
		case MethodStorageSetItem:
			var value string
			if err := json.Unmarshal(args[1], &value); err != nil {
				return nil, false, err
			}
			backing[key] = value
			return nil, true, nil
		case MethodStorageRemoveItem:
			delete(backing, key)
			return nil, true, nil
		}
		return nil, false, nil
	}

	srv, err := NewServer(serverPort, testPopupOrigin, handler)
	require.NoError(err)
	srv.Start()
	defer srv.Stop()

	client, err := NewClient(clientPort, testAppOrigin)
	require.NoError(err)
	remote, err := NewRemoteStorage(client)
	require.NoError(err)

	_, found, err := remote.GetItem(ctx, "missing")
	require.NoError(err)
	assert.False(found)

	require.NoError(remote.SetItem(ctx, "greeting", "hello"))
	value, found, err := remote.GetItem(ctx, "greeting")
	require.NoError(err)
	assert.True(found)
	assert.Equal("hello", value)

	require.NoError(remote.RemoveItem(ctx, "greeting"))
	_, found, err = remote.GetItem(ctx, "greeting")
	require.NoError(err)
	assert.False(found)
}
