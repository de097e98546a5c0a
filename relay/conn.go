package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tunnelchat/tunnelchat/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 512
	opTimeout  = 5 * time.Second
)

// client is one relay connection: it applies wire ops against the shared
// memory store and fans that store's notifications back out, tagged with
// the client-assigned subscription id. Disconnect cleanups registered by
// the peer run when the connection goes away for any reason.
type client struct {
	id   string
	conn *websocket.Conn
	mem  *store.Memory
	log  *logrus.Entry
	send chan []byte
	done chan struct{}

	mu       sync.Mutex
	subs     map[uint64]store.Unsubscribe
	cleanups []string
	closed   bool
}

func newClient(conn *websocket.Conn, mem *store.Memory, log *logrus.Logger) *client {
	id := uuid.NewString()[:8]
	return &client{
		id:   id,
		conn: conn,
		mem:  mem,
		log:  log.WithField("conn", id),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		subs: make(map[uint64]store.Unsubscribe),
	}
}

func (c *client) readPump() {
	defer c.teardown()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		var op store.WireOp
		if err := c.conn.ReadJSON(&op); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("read failed")
			}
			return
		}
		c.handle(op)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push queues a frame for the write pump. A full queue drops the frame;
// the peer's at-least-once reconciliation absorbs gaps on reconnect.
func (c *client) push(frame store.WireFrame) {
	msg := store.MarshalValue(frame)
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.log.Warn("send queue full, dropping frame")
	}
}

func (c *client) ack(id uint64) {
	c.push(store.WireFrame{ID: id, Type: store.FrameAck})
}

func (c *client) fail(id uint64, err error) {
	c.push(store.WireFrame{ID: id, Type: store.FrameError, Error: err.Error()})
}

func (c *client) handle(op store.WireOp) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch op.Op {
	case store.OpWrite:
		if err := c.mem.Write(ctx, op.Path, store.UnmarshalValue(op.Value)); err != nil {
			c.fail(op.ID, err)
			return
		}
		c.ack(op.ID)

	case store.OpUpdate:
		fields, _ := store.UnmarshalValue(op.Value).(map[string]any)
		if err := c.mem.Update(ctx, op.Path, fields); err != nil {
			c.fail(op.ID, err)
			return
		}
		c.ack(op.ID)

	case store.OpDelete:
		if err := c.mem.Delete(ctx, op.Path); err != nil {
			c.fail(op.ID, err)
			return
		}
		c.ack(op.ID)

	case store.OpPush:
		key, err := c.mem.Push(ctx, op.Path, store.UnmarshalValue(op.Value))
		if err != nil {
			c.fail(op.ID, err)
			return
		}
		c.push(store.WireFrame{ID: op.ID, Type: store.FrameAck, Key: key})

	case store.OpRead:
		value, err := c.mem.ReadOnce(ctx, op.Path)
		if err != nil {
			c.fail(op.ID, err)
			return
		}
		c.push(store.WireFrame{ID: op.ID, Type: store.FrameAck, Value: store.MarshalValue(value)})

	case store.OpSubChild:
		sub := op.Sub
		unsub, err := c.mem.SubscribeChildAdded(op.Path, func(key string, value any) {
			c.push(store.WireFrame{
				Type:  store.FrameEvent,
				Event: store.EventChildAdded,
				Sub:   sub,
				Key:   key,
				Value: store.MarshalValue(value),
			})
		})
		if err != nil {
			c.fail(op.ID, err)
			return
		}
		c.addSub(sub, unsub)
		c.ack(op.ID)

	case store.OpSubValue:
		sub := op.Sub
		unsub, err := c.mem.SubscribeValue(op.Path, func(value any) {
			c.push(store.WireFrame{
				Type:  store.FrameEvent,
				Event: store.EventValue,
				Sub:   sub,
				Value: store.MarshalValue(value),
			})
		})
		if err != nil {
			c.fail(op.ID, err)
			return
		}
		c.addSub(sub, unsub)
		c.ack(op.ID)

	case store.OpUnsub:
		c.mu.Lock()
		unsub := c.subs[op.Sub]
		delete(c.subs, op.Sub)
		c.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		c.ack(op.ID)

	case store.OpOnDisconnect:
		c.mu.Lock()
		c.cleanups = append(c.cleanups, op.Path)
		c.mu.Unlock()
		c.ack(op.ID)

	default:
		c.fail(op.ID, errUnknownOp(op.Op))
	}
}

type errUnknownOp string

func (e errUnknownOp) Error() string { return "unknown op: " + string(e) }

// teardown detaches subscriptions and runs the peer's disconnect cleanups.
// This is the safety net behind every presence session's leave.
func (c *client) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	cleanups := c.cleanups
	c.subs = nil
	c.cleanups = nil
	c.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	for _, path := range cleanups {
		if err := c.mem.Delete(ctx, path); err != nil {
			c.log.WithError(err).WithField("path", path).Warn("disconnect cleanup failed")
		}
	}
	close(c.done)
	c.log.Debug("connection closed")
}

func (c *client) addSub(sub uint64, unsub store.Unsubscribe) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsub()
		return
	}
	c.subs[sub] = unsub
	c.mu.Unlock()
}
