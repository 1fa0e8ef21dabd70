package mastosw

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server, hello clientReport) *websocket.Conn {
	t.Helper()
	ws, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "", testPage)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	require.NoError(t, websocket.JSON.Send(ws, hello))
	return ws
}

func TestHub_TracksClientsAndDeliversMessages(t *testing.T) {
	hub := NewHub(mustURL(t, testPage), false, zap.NewNop())
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	ctx := context.Background()

	ws1 := dialHub(t, srv, clientReport{Type: "hello", URL: "/home", VisibilityState: VisibilityVisible, SupportsNavigate: true})
	require.Eventually(t, func() bool {
		list, _ := hub.MatchAll(ctx, true)
		return len(list) == 1 && list[0].URL == "/home"
	}, 2*time.Second, 10*time.Millisecond)

	dialHub(t, srv, clientReport{Type: "hello", URL: "/notifications", Focused: true})
	require.Eventually(t, func() bool {
		list, _ := hub.MatchAll(ctx, true)
		return len(list) == 2 && list[1].Focused
	}, 2*time.Second, 10*time.Millisecond)

	controlled, err := hub.MatchAll(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, controlled, "not claimed yet")

	require.NoError(t, hub.Claim(ctx))
	list, err := hub.MatchAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "/home", list[0].URL)
	assert.True(t, list[0].SupportsNavigate)
	assert.Equal(t, VisibilityVisible, list[0].VisibilityState)
	assert.True(t, list[1].Controlled)

	require.NoError(t, hub.Navigate(ctx, list[0].ID, "/status/42"))
	var got Message
	require.NoError(t, websocket.JSON.Receive(ws1, &got))
	assert.Equal(t, Message{Type: MessageNavigate, URL: "/status/42"}, got)

	require.NoError(t, hub.PostMessage(ctx, list[0].ID, Message{Type: MessageReloadPage}))
	require.NoError(t, websocket.JSON.Receive(ws1, &got))
	assert.Equal(t, MessageReloadPage, got.Type)

	require.NoError(t, websocket.JSON.Send(ws1, clientReport{Type: "state", Focused: true, VisibilityState: VisibilityVisible}))
	require.Eventually(t, func() bool {
		list, _ := hub.MatchAll(ctx, true)
		return len(list) == 2 && list[0].Focused && list[0].URL == "/home" && list[0].SupportsNavigate
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ws1.Close())
	require.Eventually(t, func() bool {
		list, _ := hub.MatchAll(ctx, true)
		return len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, hub.Focus(ctx, list[0].ID), ErrClientGone)
}

func TestHub_ClientsConnectingAfterClaimAreControlled(t *testing.T) {
	hub := NewHub(mustURL(t, testPage), false, zap.NewNop())
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	ctx := context.Background()

	require.NoError(t, hub.Claim(ctx))
	dialHub(t, srv, clientReport{Type: "hello", URL: "/"})
	require.Eventually(t, func() bool {
		list, _ := hub.MatchAll(ctx, false)
		return len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_OpenWindowResolvesAgainstPage(t *testing.T) {
	hub := NewHub(mustURL(t, testPage), false, zap.NewNop())
	var opened []string
	hub.open = func(u string) error {
		opened = append(opened, u)
		return nil
	}

	require.NoError(t, hub.OpenWindow(context.Background(), "/status/42"))
	require.NoError(t, hub.OpenWindow(context.Background(), "/@bob"))
	assert.Equal(t, []string{"https://social.test/status/42", "https://social.test/@bob"}, opened)
}
