package sqlpool_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/jlucas-labs/sqlpool/drivers/remote"
	"github.com/jlucas-labs/sqlpool/pkg/sqlpool"
)

func TestOpenDSNUnknownDriver(t *testing.T) {
	_, err := sqlpool.OpenDSN("sqlpool://host/db?driver=nonexistent", sqlpool.Config{})
	assert.ErrorIs(t, err, sqlpool.ErrDriverDiscoveryFailed)
}

func TestOpenDSNRejectsMalformedDSN(t *testing.T) {
	_, err := sqlpool.OpenDSN("not-a-dsn", sqlpool.Config{})
	assert.ErrorIs(t, err, sqlpool.ErrInvalidParameter)
}

func TestOpenDSNWithRemoteDriver(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.WriteJSON(map[string]interface{}{"id": msg["id"], "data": map[string]interface{}{"ok": true}})
		}
	}))
	defer srv.Close()

	endpoint := "sqlpool://" + strings.TrimPrefix(srv.URL, "http://") + "?driver=remote&endpoint=" + srv.URL

	poolMin := 1
	p, err := sqlpool.OpenDSN(endpoint, sqlpool.Config{PoolMin: &poolMin, PoolMax: 2})
	require.NoError(t, err)
	defer p.Close()

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Exec(context.Background(), "SELECT 1"))
	require.NoError(t, h.Close())
}
