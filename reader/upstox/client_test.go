package upstox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvdflow/config"
)

func testConfig(base string) config.UpstoxConfig {
	return config.UpstoxConfig{
		AccessToken:       "token-123",
		AuthorizeURL:      base + "/authorize",
		HistoricalURL:     base + "/historical",
		Mode:              "full",
		HandshakeTimeout:  time.Second,
		PingInterval:      time.Minute,
		RequestTimeout:    time.Second,
		AuthRatePerSecond: 1000,
		UserAgent:         "cvdflow-test",
	}
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestAuthorizeSendsHeadersAndReadsURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "cvdflow-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"status":"success","data":{"authorized_redirect_uri":"wss://feed.example/ws?code=abc"}}`))
	}))
	defer srv.Close()

	uri, err := NewClient(testConfig(srv.URL)).Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://feed.example/ws?code=abc", uri)
}

func TestAuthorizeAcceptsCamelCaseURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{"authorizedRedirectUri":"wss://feed.example/camel"}}`))
	}))
	defer srv.Close()

	uri, err := NewClient(testConfig(srv.URL)).Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://feed.example/camel", uri)
}

func TestAuthorizeFailures(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"unauthorized", http.StatusUnauthorized, `{"status":"error","errors":[{"errorCode":"UDAPI100050"}]}`, http.StatusUnauthorized},
		{"throttled", http.StatusTooManyRequests, `{"status":"error"}`, http.StatusTooManyRequests},
		{"missing uri", http.StatusOK, `{"status":"success","data":{}}`, http.StatusOK},
		{"bad json", http.StatusOK, `not json`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(testConfig(srv.URL)).Authorize(context.Background())
			var authErr *AuthError
			require.True(t, errors.As(err, &authErr), "expected AuthError, got %v", err)
			assert.Equal(t, tc.wantStatus, authErr.Status)
		})
	}
}

func TestAuthorizeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewClient(testConfig(base)).Authorize(context.Background())
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Zero(t, authErr.Status)
}

// feedServer authorizes to its own /feed endpoint and runs handle on the
// upgraded connection.
func feedServer(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/authorize":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "success",
				"data":   map[string]string{"authorized_redirect_uri": wsURL(srv, "/feed")},
			})
		case "/feed":
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				t.Errorf("upgrade: %v", err)
				return
			}
			defer conn.Close()
			handle(conn)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionSubscribeAndReceive(t *testing.T) {
	subscribed := make(chan subscription, 1)
	srv := feedServer(t, func(conn *websocket.Conn) {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read subscription: %v", err)
			return
		}
		if msgType != websocket.BinaryMessage {
			t.Errorf("subscription sent as type %d, want binary", msgType)
		}
		var sub subscription
		if err := json.Unmarshal(data, &sub); err != nil {
			t.Errorf("decode subscription: %v", err)
		}
		subscribed <- sub

		// Text frames are dropped inside Receive; only the binary one comes out.
		_ = conn.WriteMessage(websocket.TextMessage, []byte("ignored"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x08, 0x01})
		// Hold the connection until the client goes away.
		_, _, _ = conn.ReadMessage()
	})

	client := NewClient(testConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := client.Connect(ctx)
	require.NoError(t, err)
	defer session.Close()

	keys := []string{"NSE_INDEX|Nifty 50"}
	require.NoError(t, session.Subscribe(ctx, keys))

	sub := <-subscribed
	assert.Equal(t, "sub", sub.Method)
	assert.Equal(t, "full", sub.Data.Mode)
	assert.Equal(t, keys, sub.Data.InstrumentKeys)
	assert.NotEmpty(t, sub.GUID)

	frame, err := session.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x01}, frame)

	msgs, attempts := client.Tracker().Stats()
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, msgs)
}

func TestSessionReceiveHonoursContext(t *testing.T) {
	srv := feedServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	session, err := NewClient(testConfig(srv.URL)).Connect(context.Background())
	require.NoError(t, err)
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = session.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionReceiveReportsClosedConnection(t *testing.T) {
	srv := feedServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	})

	session, err := NewClient(testConfig(srv.URL)).Connect(context.Background())
	require.NoError(t, err)
	defer session.Close()

	_, err = session.Receive(context.Background())
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr), "expected ConnectionError, got %v", err)
	assert.Equal(t, "read", connErr.Op)
	assert.NoError(t, session.Close())
	assert.NoError(t, session.Close())
}

func TestConnectDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"authorized_redirect_uri":"ws://127.0.0.1:1/feed"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Connect(context.Background())
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr), "expected ConnectionError, got %v", err)
	assert.Equal(t, "dial", connErr.Op)
}
