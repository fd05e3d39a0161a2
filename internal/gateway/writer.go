package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"spacehub/internal/message"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	readLimit  = 1024 * 1024
	// maxBatch bounds how many queued frames share one websocket message.
	maxBatch = 64
)

var errSlowConsumer = errors.New("send queue full")

// queueWriter is the hub.Writer of a websocket connection. Write only
// enqueues; the write pump owns the socket for writing. A connection whose
// queue fills up is closed rather than allowed to stall a space.
type queueWriter struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newQueueWriter(ws *websocket.Conn, size int) *queueWriter {
	return &queueWriter{
		ws:   ws,
		send: make(chan []byte, size),
		done: make(chan struct{}),
	}
}

func (w *queueWriter) Write(message []byte) error {
	select {
	case <-w.done:
		return errSlowConsumer
	default:
	}
	select {
	case w.send <- message:
		return nil
	default:
		_ = w.Close()
		return errSlowConsumer
	}
}

func (w *queueWriter) Close() error {
	w.once.Do(func() { close(w.done) })
	return nil
}

// pump writes queued frames and keeps the connection alive with pings. It
// closes the socket when it returns, which also ends the read loop.
func (w *queueWriter) pump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = w.ws.Close()
	}()

	for {
		select {
		case msg := <-w.send:
			if err := w.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-w.done:
			w.flush()
			_ = w.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is still queued, without waiting for more.
func (w *queueWriter) flush() {
	for {
		select {
		case msg := <-w.send:
			if err := w.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// write sends first, together with whatever is already queued behind it.
// Several frames go out as one batch frame.
func (w *queueWriter) write(first []byte) error {
	frames := []json.RawMessage{first}
drain:
	for len(frames) < maxBatch {
		select {
		case msg := <-w.send:
			frames = append(frames, msg)
		default:
			break drain
		}
	}

	data := first
	if len(frames) > 1 {
		var err error
		if data, err = json.Marshal(message.Server{Type: message.TypeBatch, Batch: frames}); err != nil {
			return err
		}
	}
	_ = w.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return w.ws.WriteMessage(websocket.TextMessage, data)
}
