package store

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const eventBuffer = 4096

// Memory is the in-process Store implementation. It backs the relay server
// and the engine tests. A single fanout goroutine delivers every
// notification, so all subscribers observe the same event order.
//
// Memory models one client process: paths registered with
// OnDisconnectDelete are removed when Close is called.
type Memory struct {
	mu        sync.Mutex
	root      *node
	childSubs map[string]map[int]ChildAddedFunc
	valueSubs map[string]map[int]ValueFunc
	nextSubID int

	events chan event
	done   chan struct{}
	closed bool

	cleanups []string

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

type node struct {
	value    any
	children map[string]*node
	order    []string
}

type event struct {
	path     string
	key      string // child-added events only
	value    any
	isChild  bool
	onlySub  int // deliver to a single subscriber when non-zero
}

func NewMemory() *Memory {
	m := &Memory{
		root:      newNode(),
		childSubs: make(map[string]map[int]ChildAddedFunc),
		valueSubs: make(map[string]map[int]ValueFunc),
		events:    make(chan event, eventBuffer),
		done:      make(chan struct{}),
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	go m.fanout()
	return m
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

func (m *Memory) fanout() {
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.mu.Lock()
			var childFns []ChildAddedFunc
			var valueFns []ValueFunc
			if ev.isChild {
				for id, fn := range m.childSubs[ev.path] {
					if ev.onlySub == 0 || ev.onlySub == id {
						childFns = append(childFns, fn)
					}
				}
			} else {
				for id, fn := range m.valueSubs[ev.path] {
					if ev.onlySub == 0 || ev.onlySub == id {
						valueFns = append(valueFns, fn)
					}
				}
			}
			m.mu.Unlock()
			for _, fn := range childFns {
				fn(ev.key, ev.value)
			}
			for _, fn := range valueFns {
				fn(ev.value)
			}
		}
	}
}

// emit must be called with m.mu held so the queue order matches the
// mutation order. A full queue drops the event rather than blocking a
// mutation while a slow subscriber catches up.
func (m *Memory) emit(ev event) {
	select {
	case m.events <- ev:
	default:
	}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func (m *Memory) lookup(segs []string) *node {
	n := m.root
	for _, s := range segs {
		child, ok := n.children[s]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// ensure walks to segs, creating nodes on the way, and reports whether the
// final node was created by this call.
func (m *Memory) ensure(segs []string) (*node, bool) {
	n := m.root
	created := false
	for _, s := range segs {
		child, ok := n.children[s]
		if !ok {
			child = newNode()
			n.children[s] = child
			n.order = append(n.order, s)
			created = true
		} else {
			created = false
		}
		n = child
	}
	return n, created
}

func (n *node) snapshot() any {
	if len(n.children) == 0 {
		return n.value
	}
	out := make(map[string]any, len(n.children))
	for name, child := range n.children {
		out[name] = child.snapshot()
	}
	return out
}

func (n *node) set(value any) {
	n.children = make(map[string]*node)
	n.order = nil
	n.value = nil
	fields, ok := value.(map[string]any)
	if !ok {
		n.value = value
		return
	}
	for name, v := range fields {
		child := newNode()
		child.set(v)
		n.children[name] = child
		n.order = append(n.order, name)
	}
}

// notifyValue emits snapshots for every value subscription whose path is an
// ancestor-or-self of the mutated path, or lies beneath a deleted subtree.
func (m *Memory) notifyValue(mutated []string) {
	mpath := strings.Join(mutated, "/")
	for sub := range m.valueSubs {
		if !related(sub, mpath) {
			continue
		}
		var snap any
		if n := m.lookup(splitPath(sub)); n != nil {
			snap = n.snapshot()
		}
		m.emit(event{path: sub, value: snap})
	}
}

func related(a, b string) bool {
	return a == b ||
		strings.HasPrefix(b, a+"/") ||
		strings.HasPrefix(a, b+"/")
}

func (m *Memory) Write(_ context.Context, path string, value any) error {
	segs := splitPath(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	n, created := m.ensure(segs)
	n.set(value)
	if created && len(segs) > 0 {
		parent := strings.Join(segs[:len(segs)-1], "/")
		if len(m.childSubs[parent]) > 0 {
			m.emit(event{path: parent, key: segs[len(segs)-1], value: n.snapshot(), isChild: true})
		}
	}
	m.notifyValue(segs)
	return nil
}

func (m *Memory) Update(_ context.Context, path string, fields map[string]any) error {
	segs := splitPath(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := m.ensure(segs)
	for name, v := range fields {
		child, ok := n.children[name]
		if !ok {
			child = newNode()
			n.children[name] = child
			n.order = append(n.order, name)
		}
		child.set(v)
	}
	m.notifyValue(segs)
	return nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	parent := m.lookup(segs[:len(segs)-1])
	if parent == nil {
		return nil
	}
	name := segs[len(segs)-1]
	if _, ok := parent.children[name]; !ok {
		return nil
	}
	delete(parent.children, name)
	for i, s := range parent.order {
		if s == name {
			parent.order = append(parent.order[:i], parent.order[i+1:]...)
			break
		}
	}
	m.notifyValue(segs)
	return nil
}

func (m *Memory) Push(_ context.Context, path string, value any) (string, error) {
	m.entropyMu.Lock()
	key := strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy).String())
	m.entropyMu.Unlock()

	segs := splitPath(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, _ := m.ensure(segs)
	child := newNode()
	child.set(value)
	parent.children[key] = child
	parent.order = append(parent.order, key)
	if len(m.childSubs[path]) > 0 {
		m.emit(event{path: path, key: key, value: child.snapshot(), isChild: true})
	}
	m.notifyValue(append(segs, key))
	return key, nil
}

func (m *Memory) ReadOnce(_ context.Context, path string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.lookup(splitPath(path))
	if n == nil {
		return nil, nil
	}
	return n.snapshot(), nil
}

// SubscribeChildAdded replays the existing children of path in creation
// order to the new subscriber only, then delivers subsequent adds in the
// shared fanout order.
func (m *Memory) SubscribeChildAdded(path string, fn ChildAddedFunc) (Unsubscribe, error) {
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	if m.childSubs[path] == nil {
		m.childSubs[path] = make(map[int]ChildAddedFunc)
	}
	m.childSubs[path][id] = fn
	if n := m.lookup(splitPath(path)); n != nil {
		for _, key := range n.order {
			m.emit(event{path: path, key: key, value: n.children[key].snapshot(), isChild: true, onlySub: id})
		}
	}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.childSubs[path], id)
		m.mu.Unlock()
	}, nil
}

// SubscribeValue delivers the current snapshot to the new subscriber, then
// a fresh snapshot after every change beneath path.
func (m *Memory) SubscribeValue(path string, fn ValueFunc) (Unsubscribe, error) {
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	if m.valueSubs[path] == nil {
		m.valueSubs[path] = make(map[int]ValueFunc)
	}
	m.valueSubs[path][id] = fn
	var snap any
	if n := m.lookup(splitPath(path)); n != nil {
		snap = n.snapshot()
	}
	m.emit(event{path: path, value: snap, onlySub: id})
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.valueSubs[path], id)
		m.mu.Unlock()
	}, nil
}

func (m *Memory) OnDisconnectDelete(path string) error {
	m.mu.Lock()
	m.cleanups = append(m.cleanups, path)
	m.mu.Unlock()
	return nil
}

// Close applies pending disconnect cleanups and stops the fanout loop.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cleanups := m.cleanups
	m.cleanups = nil
	m.mu.Unlock()

	for _, p := range cleanups {
		m.Delete(context.Background(), p)
	}
	close(m.done)
	return nil
}
