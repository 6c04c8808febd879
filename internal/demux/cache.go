package demux

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedMessage is one recently seen bus message, kept for ad-hoc
// inspection via the debug API.
type CachedMessage struct {
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// TopicCache keeps a bounded rolling window of recent messages per topic.
// The topic set itself is bounded by an LRU (least recently active topic
// evicted first); each topic holds a fixed-capacity ring with the oldest
// message overwritten first. Memory is bounded by design: debug visibility
// traded against a hard cap.
type TopicCache struct {
	mu      sync.Mutex
	topics  *lru.Cache[string, *ring]
	perSize int
}

type ring struct {
	buf  []CachedMessage
	next int
	full bool
}

// NewTopicCache creates a cache holding up to maxTopics topics with
// perTopic messages each. Both bounds must be positive.
func NewTopicCache(maxTopics, perTopic int) (*TopicCache, error) {
	if perTopic < 1 {
		return nil, fmt.Errorf("per-topic capacity must be >= 1, got %d", perTopic)
	}
	topics, err := lru.New[string, *ring](maxTopics)
	if err != nil {
		return nil, err
	}
	return &TopicCache{topics: topics, perSize: perTopic}, nil
}

// Add records a message for its topic.
func (c *TopicCache) Add(topic string, payload []byte, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.topics.Get(topic)
	if !ok {
		r = &ring{buf: make([]CachedMessage, c.perSize)}
		c.topics.Add(topic, r)
	}
	r.buf[r.next] = CachedMessage{Topic: topic, Payload: string(payload), ReceivedAt: ts}
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Recent returns the cached messages for a topic, oldest first.
func (c *TopicCache) Recent(topic string) []CachedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.topics.Get(topic)
	if !ok {
		return nil
	}
	return r.ordered()
}

// Topics returns the cached topic names.
func (c *TopicCache) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics.Keys()
}

// Snapshot returns all cached messages keyed by topic, oldest first.
func (c *TopicCache) Snapshot() map[string][]CachedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]CachedMessage, c.topics.Len())
	for _, topic := range c.topics.Keys() {
		if r, ok := c.topics.Peek(topic); ok {
			out[topic] = r.ordered()
		}
	}
	return out
}

func (r *ring) ordered() []CachedMessage {
	if !r.full {
		out := make([]CachedMessage, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]CachedMessage, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
