package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	remoteWriteWait  = 10 * time.Second
	remotePongWait   = 60 * time.Second
	remotePingPeriod = (remotePongWait * 9) / 10
	remoteSendBuffer = 256
	remoteEventQueue = 4096
)

// ErrClosed reports an operation on a closed remote store.
var ErrClosed = errors.New("store: connection closed")

// Remote is the Store backend speaking the wire protocol to a relay over a
// websocket. Events are dispatched on a single goroutine in the order the
// relay sent them, so subscribers see the relay's global order.
type Remote struct {
	conn *websocket.Conn
	log  *logrus.Entry

	send   chan []byte
	events chan WireFrame
	done   chan struct{}

	mu        sync.Mutex
	closed    bool
	nextReqID uint64
	nextSubID uint64
	pending   map[uint64]chan WireFrame
	childSubs map[uint64]ChildAddedFunc
	valueSubs map[uint64]ValueFunc
}

// DialRemote connects to a relay websocket endpoint, e.g.
// ws://host:8080/ws.
func DialRemote(ctx context.Context, url string, log *logrus.Logger) (*Remote, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("store: dial %s: %w", url, err)
	}
	r := &Remote{
		conn:      conn,
		log:       log.WithField("relay", url),
		send:      make(chan []byte, remoteSendBuffer),
		events:    make(chan WireFrame, remoteEventQueue),
		done:      make(chan struct{}),
		pending:   make(map[uint64]chan WireFrame),
		childSubs: make(map[uint64]ChildAddedFunc),
		valueSubs: make(map[uint64]ValueFunc),
	}
	go r.readPump()
	go r.writePump()
	go r.dispatch()
	return r, nil
}

func (r *Remote) readPump() {
	defer r.teardown()
	r.conn.SetReadDeadline(time.Now().Add(remotePongWait))
	r.conn.SetPongHandler(func(string) error {
		r.conn.SetReadDeadline(time.Now().Add(remotePongWait))
		return nil
	})
	for {
		var frame WireFrame
		if err := r.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.WithError(err).Warn("relay connection lost")
			}
			return
		}
		switch frame.Type {
		case FrameEvent:
			select {
			case r.events <- frame:
			default:
				r.log.Warn("event queue full, dropping notification")
			}
		default:
			r.mu.Lock()
			ch, ok := r.pending[frame.ID]
			if ok {
				delete(r.pending, frame.ID)
			}
			r.mu.Unlock()
			if ok {
				ch <- frame
			}
		}
	}
}

func (r *Remote) writePump() {
	ticker := time.NewTicker(remotePingPeriod)
	defer func() {
		ticker.Stop()
		r.conn.Close()
	}()
	for {
		select {
		case <-r.done:
			r.conn.SetWriteDeadline(time.Now().Add(remoteWriteWait))
			r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-r.send:
			r.conn.SetWriteDeadline(time.Now().Add(remoteWriteWait))
			if err := r.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			r.conn.SetWriteDeadline(time.Now().Add(remoteWriteWait))
			if err := r.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch delivers events off the read loop so a callback issuing store
// ops cannot deadlock against its own ack.
func (r *Remote) dispatch() {
	for {
		select {
		case <-r.done:
			return
		case frame := <-r.events:
			r.mu.Lock()
			childFn := r.childSubs[frame.Sub]
			valueFn := r.valueSubs[frame.Sub]
			r.mu.Unlock()
			switch frame.Event {
			case EventChildAdded:
				if childFn != nil {
					childFn(frame.Key, UnmarshalValue(frame.Value))
				}
			case EventValue:
				if valueFn != nil {
					valueFn(UnmarshalValue(frame.Value))
				}
			}
		}
	}
}

func (r *Remote) teardown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := r.pending
	r.pending = make(map[uint64]chan WireFrame)
	r.mu.Unlock()
	close(r.done)
	for _, ch := range pending {
		ch <- WireFrame{Type: FrameError, Error: ErrClosed.Error()}
	}
}

// call sends an op and waits for its ack.
func (r *Remote) call(ctx context.Context, op WireOp) (WireFrame, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return WireFrame{}, ErrClosed
	}
	r.nextReqID++
	op.ID = r.nextReqID
	ch := make(chan WireFrame, 1)
	r.pending[op.ID] = ch
	r.mu.Unlock()

	msg := MarshalValue(op)
	select {
	case r.send <- msg:
	case <-r.done:
		return WireFrame{}, ErrClosed
	case <-ctx.Done():
		return WireFrame{}, ctx.Err()
	}

	select {
	case frame := <-ch:
		if frame.Type == FrameError {
			return frame, errors.New(frame.Error)
		}
		return frame, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, op.ID)
		r.mu.Unlock()
		return WireFrame{}, ctx.Err()
	}
}

func (r *Remote) Write(ctx context.Context, path string, value any) error {
	_, err := r.call(ctx, WireOp{Op: OpWrite, Path: path, Value: MarshalValue(value)})
	return err
}

func (r *Remote) Update(ctx context.Context, path string, fields map[string]any) error {
	_, err := r.call(ctx, WireOp{Op: OpUpdate, Path: path, Value: MarshalValue(fields)})
	return err
}

func (r *Remote) Delete(ctx context.Context, path string) error {
	_, err := r.call(ctx, WireOp{Op: OpDelete, Path: path})
	return err
}

func (r *Remote) Push(ctx context.Context, path string, value any) (string, error) {
	frame, err := r.call(ctx, WireOp{Op: OpPush, Path: path, Value: MarshalValue(value)})
	if err != nil {
		return "", err
	}
	return frame.Key, nil
}

func (r *Remote) ReadOnce(ctx context.Context, path string) (any, error) {
	frame, err := r.call(ctx, WireOp{Op: OpRead, Path: path})
	if err != nil {
		return nil, err
	}
	return UnmarshalValue(frame.Value), nil
}

func (r *Remote) subscribe(op string, path string, childFn ChildAddedFunc, valueFn ValueFunc) (Unsubscribe, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.nextSubID++
	sub := r.nextSubID
	if childFn != nil {
		r.childSubs[sub] = childFn
	}
	if valueFn != nil {
		r.valueSubs[sub] = valueFn
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), remoteWriteWait)
	defer cancel()
	if _, err := r.call(ctx, WireOp{Op: op, Path: path, Sub: sub}); err != nil {
		r.mu.Lock()
		delete(r.childSubs, sub)
		delete(r.valueSubs, sub)
		r.mu.Unlock()
		return nil, err
	}
	return func() {
		r.mu.Lock()
		delete(r.childSubs, sub)
		delete(r.valueSubs, sub)
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), remoteWriteWait)
		defer cancel()
		r.call(ctx, WireOp{Op: OpUnsub, Sub: sub})
	}, nil
}

func (r *Remote) SubscribeChildAdded(path string, fn ChildAddedFunc) (Unsubscribe, error) {
	return r.subscribe(OpSubChild, path, fn, nil)
}

func (r *Remote) SubscribeValue(path string, fn ValueFunc) (Unsubscribe, error) {
	return r.subscribe(OpSubValue, path, nil, fn)
}

// OnDisconnectDelete registers the delete relay-side, so it runs even when
// this process dies without calling Close.
func (r *Remote) OnDisconnectDelete(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), remoteWriteWait)
	defer cancel()
	_, err := r.call(ctx, WireOp{Op: OpOnDisconnect, Path: path})
	return err
}

func (r *Remote) Close() error {
	r.teardown()
	return nil
}
