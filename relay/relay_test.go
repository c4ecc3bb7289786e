package relay

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestStatusEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewRouter(NewHub(), nil))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
}

func dialRoom(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/relay/" + room
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return ws
}

func TestRelaysBetweenTwoPeers(t *testing.T) {
	srv := httptest.NewServer(NewRouter(NewHub(), nil))
	defer srv.Close()

	alice := dialRoom(t, srv, "room-1")
	defer alice.Close()
	bob := dialRoom(t, srv, "room-1")
	defer bob.Close()

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("hello bob")))
	bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := bob.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "hello bob", string(data))

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte("hello alice")))
	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = alice.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "hello alice", string(data))
}

func TestThirdPeerRejected(t *testing.T) {
	srv := httptest.NewServer(NewRouter(NewHub(), nil))
	defer srv.Close()

	a := dialRoom(t, srv, "room-2")
	defer a.Close()
	b := dialRoom(t, srv, "room-2")
	defer b.Close()

	c := dialRoom(t, srv, "room-2")
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	require.Error(t, err)
}

func TestRoomsAreIndependent(t *testing.T) {
	srv := httptest.NewServer(NewRouter(NewHub(), nil))
	defer srv.Close()

	a1 := dialRoom(t, srv, "room-a")
	defer a1.Close()
	a2 := dialRoom(t, srv, "room-a")
	defer a2.Close()

	b1 := dialRoom(t, srv, "room-b")
	defer b1.Close()
	b2 := dialRoom(t, srv, "room-b")
	defer b2.Close()

	require.NoError(t, a1.WriteMessage(websocket.TextMessage, []byte("for a2")))
	a2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := a2.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "for a2", string(data))
}
