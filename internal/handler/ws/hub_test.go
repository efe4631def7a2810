package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternMemory/internal/domain/models"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/signals" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubStreamsSubscribedSymbols(t *testing.T) {
	hub := NewHub(nil)
	e := echo.New()
	hub.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	eur := dial(t, srv, "?symbols=eur/usd")
	all := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, &models.Signal{Symbol: "GBPUSD", Direction: models.Bearish}))
	require.NoError(t, hub.Publish(ctx, &models.Signal{Symbol: "EURUSD", Direction: models.Bullish}))

	var got models.Signal
	_ = eur.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, eur.ReadJSON(&got))
	assert.Equal(t, "EURUSD", got.Symbol, "GBPUSD is filtered out")

	_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, "GBPUSD", got.Symbol)
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, "EURUSD", got.Symbol)

	require.NoError(t, hub.Close())
	assert.Zero(t, hub.Clients())
}

func TestClientCommands(t *testing.T) {
	c := &client{symbols: map[string]struct{}{}}
	assert.True(t, c.wants("X"))
	c.apply(Command{Type: "subscribe", Symbols: []string{"eur-usd"}})
	assert.True(t, c.wants("EURUSD"))
	assert.False(t, c.wants("X"))
	c.apply(Command{Type: "unsubscribe", Symbols: []string{"EURUSD"}})
	assert.True(t, c.wants("X"))
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, splitSymbols("eurusd,,GBP/USD"))
}
