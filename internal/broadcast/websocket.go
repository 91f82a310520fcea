package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ksred/swaprouter/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

var (
	ErrObserverClosed = errors.New("observer closed")
	ErrSlowObserver   = errors.New("observer send buffer full")
)

type outbound struct {
	data  []byte
	final bool
}

// WebsocketObserver streams status events to one websocket client. Send never
// blocks: events are queued for a write pump and a full queue is an error.
// The connection is closed after a terminal event has been written.
type WebsocketObserver struct {
	conn *websocket.Conn
	send chan outbound
	done chan struct{}
	once sync.Once
}

func NewWebsocketObserver(conn *websocket.Conn) *WebsocketObserver {
	return &WebsocketObserver{
		conn: conn,
		send: make(chan outbound, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (o *WebsocketObserver) Send(event types.StatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return o.SendRaw(data, event.Status.IsTerminal())
}

// SendRaw queues an already encoded message; final closes the socket after it
func (o *WebsocketObserver) SendRaw(data []byte, final bool) error {
	select {
	case <-o.done:
		return ErrObserverClosed
	default:
	}

	select {
	case o.send <- outbound{data: data, final: final}:
		return nil
	case <-o.done:
		return ErrObserverClosed
	default:
		return ErrSlowObserver
	}
}

// Serve runs the write pump and blocks reading from the client until the
// connection closes. Client messages are ignored.
func (o *WebsocketObserver) Serve() {
	go o.writePump()
	o.readPump()
}

func (o *WebsocketObserver) Close() {
	o.once.Do(func() {
		close(o.done)
		o.conn.Close()
	})
}

func (o *WebsocketObserver) readPump() {
	defer o.Close()

	o.conn.SetReadLimit(512)
	o.conn.SetReadDeadline(time.Now().Add(pongWait))
	o.conn.SetPongHandler(func(string) error {
		o.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func (o *WebsocketObserver) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		o.Close()
	}()

	for {
		select {
		case msg := <-o.send:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				return
			}
			if msg.final {
				o.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "order finished"))
				return
			}

		case <-ticker.C:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-o.done:
			return
		}
	}
}
