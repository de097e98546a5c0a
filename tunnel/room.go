// Package tunnel implements the room engine of an anonymous, ephemeral
// group chat: presence sessions, the derived membership registry, the
// room lifecycle state machine with its empty-room collection protocol,
// and the message stream with dedup, timestamp repair and read receipts.
// All remote state lives in a store.Store; the engine reconciles its
// notifications into consistent local views.
package tunnel

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tunnelchat/tunnelchat/store"
)

// Defaults, tunable through Config.
const (
	DefaultTypingTimeout    = 3 * time.Second
	DefaultReadReceiptDelay = 500 * time.Millisecond
	DefaultSettleDelay      = 300 * time.Millisecond
)

// Handlers are invoked from store notification callbacks. They must not
// block; UI layers queue redraws.
type Handlers struct {
	OnMessage func(Message)
	OnMembers func([]Member)
	OnLock    func(bool)
	OnClear   func()
}

// Config describes one client's attachment to a room.
type Config struct {
	Room  string
	Name  string
	Store store.Store

	Handlers Handlers

	// Optional; zero values pick the defaults above. A negative
	// SettleDelay skips the pre-collection wait entirely.
	Logger           *logrus.Logger
	Scheduler        Scheduler
	Now              func() time.Time
	TypingTimeout    time.Duration
	ReadReceiptDelay time.Duration
	SettleDelay      time.Duration
}

// Client is one connected participant: a presence session plus the sync
// engine keeping the local room views consistent with the store.
type Client struct {
	cfg       Config
	session   *Session
	registry  *Registry
	stream    *Stream
	lifecycle *Lifecycle
	sched     Scheduler
	now       func() time.Time
	log       *logrus.Entry

	mu     sync.Mutex
	locked bool
	left   bool
	unsubs []store.Unsubscribe
}

// Join validates inputs, registers a presence session and subscribes to
// the room's message, membership and lock feeds. The returned client is
// live immediately; remote state arrives within the store's propagation
// delay.
func Join(ctx context.Context, cfg Config) (*Client, error) {
	if err := ValidateRoomID(cfg.Room); err != nil {
		return nil, err
	}
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		return nil, &ValidationError{Reason: "store is required"}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewScheduler()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}
	if cfg.ReadReceiptDelay <= 0 {
		cfg.ReadReceiptDelay = DefaultReadReceiptDelay
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}

	log := cfg.Logger.WithField("room", cfg.Room)
	c := &Client{
		cfg:      cfg,
		registry: &Registry{},
		stream:   newStream(),
		sched:    cfg.Scheduler,
		now:      cfg.Now,
		log:      log,
	}
	c.session = newSession(cfg.Room, cfg.Name, cfg.Store, cfg.Scheduler, cfg.Now, cfg.TypingTimeout, log)
	c.lifecycle = newLifecycle(cfg.Room, cfg.Store, cfg.SettleDelay, log)

	c.session.register(ctx)

	lockUnsub, err := cfg.Store.SubscribeValue(lockedPath(cfg.Room), c.handleLock)
	if err != nil {
		return nil, &WriteFailure{Op: "subscribe", Path: lockedPath(cfg.Room), Err: err}
	}
	usersUnsub, err := cfg.Store.SubscribeValue(usersPath(cfg.Room), c.handleMembers)
	if err != nil {
		lockUnsub()
		return nil, &WriteFailure{Op: "subscribe", Path: usersPath(cfg.Room), Err: err}
	}
	msgUnsub, err := cfg.Store.SubscribeChildAdded(messagesPath(cfg.Room), c.handleMessageAdded)
	if err != nil {
		lockUnsub()
		usersUnsub()
		return nil, &WriteFailure{Op: "subscribe", Path: messagesPath(cfg.Room), Err: err}
	}
	c.unsubs = []store.Unsubscribe{lockUnsub, usersUnsub, msgUnsub}
	return c, nil
}

func (c *Client) SessionID() string { return c.session.ID() }

func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) Room() string { return c.cfg.Room }

func (c *Client) Lifecycle() *Lifecycle { return c.lifecycle }

// Messages returns the local ordered, deduplicated view.
func (c *Client) Messages() []Message { return c.stream.Messages() }

// Members returns the current membership snapshot.
func (c *Client) Members() []Member { return c.registry.Members() }

func (c *Client) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// handleLock replaces the scalar lock view wholesale on each notification.
func (c *Client) handleLock(value any) {
	locked := asBool(value)
	c.mu.Lock()
	c.locked = locked
	c.mu.Unlock()
	c.lifecycle.observe(locked)
	if c.cfg.Handlers.OnLock != nil {
		c.cfg.Handlers.OnLock(locked)
	}
}

// handleMembers replaces the registry from the full presence snapshot.
func (c *Client) handleMembers(value any) {
	members := c.registry.Replace(value)
	if c.cfg.Handlers.OnMembers != nil {
		c.cfg.Handlers.OnMembers(members)
	}
}

// handleMessageAdded reconciles one at-least-once child notification:
// repair the timestamp, drop duplicates by id, then schedule the delayed
// read receipt for messages authored elsewhere.
func (c *Client) handleMessageAdded(key string, value any) {
	msg := decodeMessage(key, value, c.now())
	if !c.stream.Add(msg) {
		return
	}
	if msg.Author != c.cfg.Name && !msg.Read {
		path := messagePath(c.cfg.Room, msg.ID)
		c.sched.Schedule("read:"+msg.ID, c.cfg.ReadReceiptDelay, func() {
			err := c.cfg.Store.Update(context.Background(), path, map[string]any{fieldRead: true})
			if err != nil {
				c.log.WithError(err).Warn("read receipt failed")
			}
		})
	}
	if c.cfg.Handlers.OnMessage != nil {
		c.cfg.Handlers.OnMessage(msg)
	}
}

// Send validates, stops the typing indicator, and appends the message.
// Validation failures happen before any network call; a store rejection
// surfaces as WriteFailure with the caller keeping the input for retry.
func (c *Client) Send(ctx context.Context, text string, replyTo *ReplyRef) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyText
	}
	if len([]rune(trimmed)) > MaxTextLen {
		return "", ErrTextTooLong
	}
	if c.Locked() {
		return "", ErrRoomLocked
	}

	c.session.StopTyping()

	payload := encodeMessage(c.cfg.Name, trimmed, c.now(), replyTo)
	id, err := c.cfg.Store.Push(ctx, messagesPath(c.cfg.Room), payload)
	if err != nil {
		return "", &WriteFailure{Op: "push", Path: messagesPath(c.cfg.Room), Err: err}
	}
	return id, nil
}

// HeartbeatTyping forwards a keystroke to the presence session's debounce.
func (c *Client) HeartbeatTyping() { c.session.HeartbeatTyping() }

// StopTyping clears the indicator immediately.
func (c *Client) StopTyping() { c.session.StopTyping() }

// ToggleLock flips the advisory room lock. Failures are logged and
// returned; the session continues either way.
func (c *Client) ToggleLock(ctx context.Context) error {
	return c.lifecycle.SetLock(ctx, !c.Locked())
}

// ClearMessages wipes the room's stream and the local view. Irreversible;
// the UI confirms before calling.
func (c *Client) ClearMessages(ctx context.Context) error {
	if err := c.lifecycle.Clear(ctx); err != nil {
		return err
	}
	c.stream.Clear()
	if c.cfg.Handlers.OnClear != nil {
		c.cfg.Handlers.OnClear()
	}
	return nil
}

// Leave detaches this session and runs the empty-room collection pass.
// Idempotent: only the first call does work. If the registry removal
// fails the collection is abandoned and the room left intact, rather than
// risking destruction from a partial read.
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return nil
	}
	c.left = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	c.sched.Stop()

	if err := c.session.remove(ctx); err != nil {
		c.log.WithError(err).Warn("registry removal failed, skipping empty-room check")
		return err
	}
	_, err := c.lifecycle.CollectIfEmpty(ctx)
	return err
}
