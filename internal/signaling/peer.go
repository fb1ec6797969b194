package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// sendQueueSize bounds frames waiting for the writer. A peer that falls
	// this far behind starts losing frames instead of stalling its room.
	sendQueueSize = 256
	writeWait     = 10 * time.Second
)

var (
	errPeerClosed     = errors.New("peer closed")
	errSendQueueFull  = errors.New("send queue full")
	closeRoomDeleted  = closeStatus{code: websocket.CloseNormalClosure, reason: "room closed"}
	closeShuttingDown = closeStatus{code: websocket.CloseGoingAway, reason: "server shutting down"}
)

type closeStatus struct {
	code   int
	reason string
}

// wsPeer is one WebSocket connection. Only the writer goroutine writes data
// frames to conn; everyone else goes through Send.
type wsPeer struct {
	id   string
	conn *websocket.Conn

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}

	closeOnce sync.Once
	status    closeStatus
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, sendQueueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (p *wsPeer) ID() string { return p.id }

// Send queues frame for delivery without blocking.
func (p *wsPeer) Send(frame []byte) error {
	select {
	case <-p.done:
		return errPeerClosed
	default:
	}
	select {
	case p.send <- frame:
		return nil
	default:
		return errSendQueueFull
	}
}

// Close flushes queued frames and closes the connection normally.
func (p *wsPeer) Close() { p.closeWith(closeRoomDeleted.code, closeRoomDeleted.reason) }

// closeWith asks the writer to flush and send a close frame. Only the first
// call picks the close code.
func (p *wsPeer) closeWith(code int, reason string) {
	p.closeOnce.Do(func() {
		p.status = closeStatus{code: code, reason: reason}
		close(p.done)
	})
}

func (p *wsPeer) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// writeLoop owns all data writes to conn. It pings every pingInterval and,
// once the peer is closed, drains the queue, sends the close frame and
// closes the socket.
func (p *wsPeer) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
		close(p.writerDone)
	}()

	for {
		select {
		case frame := <-p.send:
			if err := p.write(websocket.TextMessage, frame); err != nil {
				p.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := p.write(websocket.PingMessage, nil); err != nil {
				p.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-p.done:
			p.flush()
			// status is written before done is closed.
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(p.status.code, p.status.reason),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (p *wsPeer) flush() {
	for {
		select {
		case frame := <-p.send:
			if err := p.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *wsPeer) write(messageType int, data []byte) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(messageType, data)
}
