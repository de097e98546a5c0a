package store

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Redis is a Store backend over a shared Redis instance: node values live
// as JSON strings, child sets as sorted sets scored by creation time, and
// fanout rides pub/sub. Each concern (messages, users, locked) maps to its
// own channel, whose per-channel ordering provides the single broadcast
// order the engine relies on.
//
// Limitation: plain Redis has no server-registered disconnect action, so
// paths given to OnDisconnectDelete are removed on Close only. A client
// killed without Close leaks its presence entry until the room's last
// clean departure erases the subtree.
type Redis struct {
	client *redis.Client
	prefix string
	log    *logrus.Entry

	mu       sync.Mutex
	closed   bool
	pubsubs  []*redis.PubSub
	cleanups []string

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewRedis connects to addr (host:port).
func NewRedis(addr string, log *logrus.Logger) *Redis {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Redis{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		prefix:  "tn:",
		log:     log.WithField("redis", addr),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (r *Redis) valueKey(path string) string { return r.prefix + "v:" + path }

func (r *Redis) childrenKey(path string) string { return r.prefix + "c:" + path }

func (r *Redis) childChannel(path string) string { return r.prefix + "ch:" + path }

func (r *Redis) valueChannel(path string) string { return r.prefix + "val:" + path }

func parentOf(path string) (string, string) {
	path = strings.Trim(path, "/")
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func ancestorsOf(path string) []string {
	path = strings.Trim(path, "/")
	var out []string
	for {
		out = append(out, path)
		i := strings.LastIndex(path, "/")
		if i < 0 {
			return out
		}
		path = path[:i]
	}
}

type childPayload struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// linkPath registers path in its parent's children set and every ancestor
// in that ancestor's parent, so deleteTree and interior ReadOnce can walk
// down from any node. NX keeps the original creation score on rewrite.
func (r *Redis) linkPath(ctx context.Context, pipe redis.Pipeliner, path string) {
	score := float64(time.Now().UnixNano())
	for _, seg := range ancestorsOf(path) {
		parent, name := parentOf(seg)
		pipe.ZAddNX(ctx, r.childrenKey(parent), &redis.Z{Score: score, Member: name})
	}
}

// notify publishes a change signal on every ancestor's value channel;
// subscribers re-read their snapshot.
func (r *Redis) notify(ctx context.Context, path string) {
	for _, a := range ancestorsOf(path) {
		r.client.Publish(ctx, r.valueChannel(a), "changed")
	}
}

func (r *Redis) Write(ctx context.Context, path string, value any) error {
	path = strings.Trim(path, "/")
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	parent, name := parentOf(path)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.valueKey(path), raw, 0)
	r.linkPath(ctx, pipe, path)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	payload, _ := json.Marshal(childPayload{Key: name, Value: raw})
	r.client.Publish(ctx, r.childChannel(parent), payload)
	r.notify(ctx, path)
	return nil
}

func (r *Redis) Update(ctx context.Context, path string, fields map[string]any) error {
	path = strings.Trim(path, "/")
	current, err := r.client.Get(ctx, r.valueKey(path)).Result()
	merged := make(map[string]any)
	if err == nil {
		json.Unmarshal([]byte(current), &merged)
	} else if !errors.Is(err, redis.Nil) {
		return err
	}
	for k, v := range fields {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.valueKey(path), raw, 0)
	r.linkPath(ctx, pipe, path)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	r.notify(ctx, path)
	return nil
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	path = strings.Trim(path, "/")
	if err := r.deleteTree(ctx, path); err != nil {
		return err
	}
	parent, name := parentOf(path)
	r.client.ZRem(ctx, r.childrenKey(parent), name)
	r.notify(ctx, path)
	return nil
}

func (r *Redis) deleteTree(ctx context.Context, path string) error {
	children, err := r.client.ZRange(ctx, r.childrenKey(path), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, child := range children {
		if err := r.deleteTree(ctx, path+"/"+child); err != nil {
			return err
		}
	}
	return r.client.Del(ctx, r.valueKey(path), r.childrenKey(path)).Err()
}

func (r *Redis) Push(ctx context.Context, path string, value any) (string, error) {
	r.entropyMu.Lock()
	key := strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String())
	r.entropyMu.Unlock()
	if err := r.Write(ctx, strings.Trim(path, "/")+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (r *Redis) ReadOnce(ctx context.Context, path string) (any, error) {
	path = strings.Trim(path, "/")
	children, err := r.client.ZRange(ctx, r.childrenKey(path), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(children) > 0 {
		out := make(map[string]any, len(children))
		for _, child := range children {
			v, err := r.ReadOnce(ctx, path+"/"+child)
			if err != nil {
				return nil, err
			}
			if v != nil {
				out[child] = v
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	}
	raw, err := r.client.Get(ctx, r.valueKey(path)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *Redis) SubscribeChildAdded(path string, fn ChildAddedFunc) (Unsubscribe, error) {
	path = strings.Trim(path, "/")
	ctx := context.Background()
	pubsub := r.client.Subscribe(ctx, r.childChannel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	// Replay existing children in creation order before live events; the
	// engine's dedup absorbs the overlap window.
	children, err := r.client.ZRange(ctx, r.childrenKey(path), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		pubsub.Close()
		return nil, err
	}
	for _, child := range children {
		v, err := r.ReadOnce(ctx, path+"/"+child)
		if err != nil {
			r.log.WithError(err).Warn("child replay read failed")
			continue
		}
		fn(child, v)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var payload childPayload
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				continue
			}
			fn(payload.Key, UnmarshalValue(payload.Value))
		}
	}()

	r.track(pubsub)
	return func() { pubsub.Close() }, nil
}

func (r *Redis) SubscribeValue(path string, fn ValueFunc) (Unsubscribe, error) {
	path = strings.Trim(path, "/")
	ctx := context.Background()
	pubsub := r.client.Subscribe(ctx, r.valueChannel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	snap, err := r.ReadOnce(ctx, path)
	if err != nil {
		pubsub.Close()
		return nil, err
	}
	fn(snap)

	go func() {
		for range pubsub.Channel() {
			snap, err := r.ReadOnce(context.Background(), path)
			if err != nil {
				r.log.WithError(err).Warn("snapshot re-read failed")
				continue
			}
			fn(snap)
		}
	}()

	r.track(pubsub)
	return func() { pubsub.Close() }, nil
}

func (r *Redis) track(pubsub *redis.PubSub) {
	r.mu.Lock()
	r.pubsubs = append(r.pubsubs, pubsub)
	r.mu.Unlock()
}

func (r *Redis) OnDisconnectDelete(path string) error {
	r.mu.Lock()
	r.cleanups = append(r.cleanups, path)
	r.mu.Unlock()
	return nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cleanups := r.cleanups
	pubsubs := r.pubsubs
	r.cleanups = nil
	r.pubsubs = nil
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, p := range cleanups {
		if err := r.Delete(ctx, p); err != nil {
			r.log.WithError(err).Warn("disconnect cleanup failed")
		}
	}
	for _, ps := range pubsubs {
		ps.Close()
	}
	return r.client.Close()
}
