package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// echoGateway accepts one WebSocket connection and acknowledges every exec
// and rollback message with an empty success payload.
func echoGateway(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.WriteJSON(Message{ID: msg.ID, Data: map[string]interface{}{"ok": true}})
		}
	}))
}

func TestFactoryExecAndRollbackRoundTrip(t *testing.T) {
	srv := echoGateway(t)
	defer srv.Close()

	endpoint := "http://" + strings.TrimPrefix(srv.URL, "http://")
	factory := Factory(Config{Endpoint: endpoint})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := factory(ctx)
	require.NoError(t, err)
	defer sess.Close(ctx)

	require.NoError(t, sess.Exec(ctx, "SELECT 1"))
	require.NoError(t, sess.Rollback(ctx))
	require.NoError(t, sess.Close(ctx))
}

func TestClassifierRecognizesNetworkErrors(t *testing.T) {
	require.True(t, Classifier.IsTransient(errWithMessage("dial tcp: connection refused")))
	require.False(t, Classifier.IsTransient(errWithMessage("permission denied")))
	require.False(t, Classifier.IsTransient(nil))
}

type stringError string

func (e stringError) Error() string { return string(e) }

func errWithMessage(msg string) error { return stringError(msg) }
