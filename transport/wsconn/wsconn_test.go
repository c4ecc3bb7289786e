package wsconn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/piprate/teamkeep/internal/connection"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

type recordingDeliverer struct {
	mu   sync.Mutex
	msgs []connection.NumberedConnectionMessage
	got  chan struct{}
}

func newRecordingDeliverer() *recordingDeliverer {
	return &recordingDeliverer{got: make(chan struct{}, 16)}
}

func (d *recordingDeliverer) Deliver(msg connection.NumberedConnectionMessage) {
	d.mu.Lock()
	d.msgs = append(d.msgs, msg)
	d.mu.Unlock()
	d.got <- struct{}{}
}

func TestSendAndServeRoundTrip(t *testing.T) {
	serverDeliverer := newRecordingDeliverer()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn := New(ws)
		go serverConn.Serve(serverDeliverer)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientWS, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	clientConn := New(clientWS)
	defer clientConn.Close()

	msg := connection.NumberedConnectionMessage{
		Index: 1,
		Message: connection.ConnectionMessage{
			Type: connection.TypeLocalUpdate,
			Head: "abc123",
		},
	}
	require.NoError(t, clientConn.Send(msg))

	select {
	case <-serverDeliverer.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	serverDeliverer.mu.Lock()
	defer serverDeliverer.mu.Unlock()
	require.Len(t, serverDeliverer.msgs, 1)
	require.Equal(t, uint32(1), serverDeliverer.msgs[0].Index)
	require.Equal(t, "abc123", serverDeliverer.msgs[0].Message.Head)
}

func TestSendAfterCloseFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		New(ws)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientWS, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	clientConn := New(clientWS)

	require.NoError(t, clientConn.Close())
	err = clientConn.Send(connection.NumberedConnectionMessage{})
	require.Error(t, err)
}
