package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacehub/internal/message"
)

// socketPair returns a queue writer on the server side of a websocket and
// the client side of the same socket.
func socketPair(t *testing.T, size int) (*queueWriter, *websocket.Conn) {
	t.Helper()
	writers := make(chan *queueWriter, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		writers <- newQueueWriter(ws, size)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case w := <-writers:
		t.Cleanup(func() {
			_ = w.Close()
			_ = w.ws.Close()
		})
		return w, client
	case <-time.After(time.Second):
		t.Fatal("no server side connection")
		return nil, nil
	}
}

func frame(t *testing.T, typ string, userID int64) []byte {
	t.Helper()
	data, err := json.Marshal(message.Server{Type: typ, UserID: userID})
	require.NoError(t, err)
	return data
}

func readFrame(t *testing.T, c *websocket.Conn) message.Server {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg message.Server
	require.NoError(t, c.ReadJSON(&msg))
	return msg
}

func TestQueuedFramesGoOutAsOneBatch(t *testing.T) {
	w, client := socketPair(t, 8)
	for id := int64(1); id <= 3; id++ {
		require.NoError(t, w.Write(frame(t, message.TypeAddSpaceUser, id)))
	}
	go w.pump()

	batch := readFrame(t, client)
	require.Equal(t, message.TypeBatch, batch.Type)
	require.Len(t, batch.Batch, 3)
	for i, raw := range batch.Batch {
		var inner message.Server
		require.NoError(t, json.Unmarshal(raw, &inner))
		assert.Equal(t, message.TypeAddSpaceUser, inner.Type)
		assert.Equal(t, int64(i+1), inner.UserID)
	}

	require.NoError(t, w.Write(frame(t, message.TypeRemoveSpaceUser, 2)))
	single := readFrame(t, client)
	assert.Equal(t, message.TypeRemoveSpaceUser, single.Type)
	assert.Empty(t, single.Batch)
}

func TestBatchIsBounded(t *testing.T) {
	w, client := socketPair(t, maxBatch+1)
	for id := int64(1); id <= maxBatch+1; id++ {
		require.NoError(t, w.Write(frame(t, message.TypeAddSpaceUser, id)))
	}
	go w.pump()

	first := readFrame(t, client)
	require.Equal(t, message.TypeBatch, first.Type)
	assert.Len(t, first.Batch, maxBatch)
	last := readFrame(t, client)
	assert.Equal(t, int64(maxBatch+1), last.UserID)
}

func TestFullQueueClosesWriter(t *testing.T) {
	w, _ := socketPair(t, 1)
	require.NoError(t, w.Write(frame(t, message.TypePong, 0)))
	require.ErrorIs(t, w.Write(frame(t, message.TypePong, 0)), errSlowConsumer)
	require.ErrorIs(t, w.Write(frame(t, message.TypePong, 0)), errSlowConsumer)
}
