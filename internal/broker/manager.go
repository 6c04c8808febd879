package broker

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yulithalta/lisa-research-platform-sub000/internal/errs"
)

// Manager owns the single live bus connection. It rotates through the
// configured endpoint list, reconnects with capped exponential backoff, and
// on every (re)connect resubscribes the static topic set, replays active
// session topic filters, and publishes a device-discovery request.
// Connection errors are never fatal to the host process.
type Manager struct {
	endpoints []string
	dial      Dialer
	log       *zap.Logger
	cache     *StateCache // optional

	baseDelay time.Duration
	maxDelay  time.Duration

	onMessage MessageHandler
	discovery struct {
		topic   string
		payload []byte
	}

	mu           sync.Mutex
	client       Client
	staticTopics map[string]byte   // topic -> qos
	sessionSubs  map[string][]string // session id -> extra topics
	resume       []string          // cached topics restored from a previous run
	next         int               // endpoint rotation cursor
}

// NewManager creates a connection manager. cache may be nil.
func NewManager(endpoints []string, dial Dialer, cache *StateCache, log *zap.Logger) *Manager {
	return &Manager{
		endpoints:    endpoints,
		dial:         dial,
		cache:        cache,
		log:          log,
		baseDelay:    time.Second,
		maxDelay:     30 * time.Second,
		staticTopics: make(map[string]byte),
		sessionSubs:  make(map[string][]string),
	}
}

// SetHandler sets the single inbound message handler. Must be called before
// Run.
func (m *Manager) SetHandler(h MessageHandler) { m.onMessage = h }

// SetDiscoveryRequest configures the publish sent after every connect to
// ask the bridge for its device list.
func (m *Manager) SetDiscoveryRequest(topic string, payload []byte) {
	m.discovery.topic = topic
	m.discovery.payload = payload
}

// AddStaticTopic registers a topic subscribed on every connect.
func (m *Manager) AddStaticTopic(topic string, qos byte) {
	m.mu.Lock()
	m.staticTopics[topic] = qos
	m.mu.Unlock()
}

// SetResumeTopics seeds the subscription set with the topic list cached by a
// previous run, so a restart mid-session keeps capturing best effort. The
// restored set is superseded as soon as a live session registers its own
// topics.
func (m *Manager) SetResumeTopics(topics []string) {
	m.mu.Lock()
	m.resume = append([]string(nil), topics...)
	m.mu.Unlock()
}

// RegisterSessionTopics records extra topics for an active session so they
// are replayed after a reconnect. Subscribes immediately when connected.
func (m *Manager) RegisterSessionTopics(sessionID string, topics []string) {
	m.mu.Lock()
	m.sessionSubs[sessionID] = append([]string(nil), topics...)
	// A live session owns the subscription state now; drop the restored set.
	m.resume = nil
	cli := m.client
	m.mu.Unlock()
	if cli == nil {
		return
	}
	for _, t := range topics {
		if err := cli.Subscribe(t, 1, m.onMessage); err != nil {
			m.log.Warn("session topic subscribe failed", zap.String("topic", t), zap.Error(err))
		}
	}
}

// UnregisterSessionTopics drops a stopped session's extra topics. Topics
// still used by the static set stay subscribed.
func (m *Manager) UnregisterSessionTopics(sessionID string) {
	m.mu.Lock()
	topics := m.sessionSubs[sessionID]
	delete(m.sessionSubs, sessionID)
	cli := m.client
	static := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		if _, ok := m.staticTopics[t]; ok {
			static[t] = struct{}{}
		}
	}
	m.mu.Unlock()
	if cli == nil {
		return
	}
	for _, t := range topics {
		if _, ok := static[t]; ok {
			continue
		}
		if err := cli.Unsubscribe(t); err != nil {
			m.log.Warn("session topic unsubscribe failed", zap.String("topic", t), zap.Error(err))
		}
	}
}

// IsConnected reports whether a live connection exists.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && m.client.IsConnected()
}

// Publish sends a message on the live connection.
func (m *Manager) Publish(topic string, qos byte, retained bool, payload []byte) error {
	m.mu.Lock()
	cli := m.client
	m.mu.Unlock()
	if cli == nil || !cli.IsConnected() {
		return errs.ErrNotConnected
	}
	return cli.Publish(topic, qos, retained, payload)
}

// Run connects and keeps the connection alive until ctx is cancelled.
// Each failed attempt rotates to the next endpoint and doubles the delay up
// to the cap; a successful connect resets the delay.
func (m *Manager) Run(ctx context.Context) error {
	delay := m.baseDelay
	for {
		endpoint := m.nextEndpoint()
		cli := m.dial(endpoint)

		lost := make(chan error, 1)
		cli.OnConnectionLost(func(err error) {
			select {
			case lost <- err:
			default:
			}
		})

		if err := cli.Connect(ctx); err != nil {
			m.log.Warn("broker connect failed, will retry",
				zap.String("endpoint", endpoint),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
			delay = minDuration(delay*2, m.maxDelay)
			continue
		}
		delay = m.baseDelay

		m.mu.Lock()
		m.client = cli
		m.mu.Unlock()
		m.log.Info("broker connected", zap.String("endpoint", endpoint))
		m.afterConnect(cli)

		select {
		case <-ctx.Done():
			cli.Disconnect()
			m.mu.Lock()
			m.client = nil
			m.mu.Unlock()
			return ctx.Err()
		case err := <-lost:
			m.log.Warn("broker connection lost, reconnecting",
				zap.String("endpoint", endpoint), zap.Error(err))
			m.mu.Lock()
			m.client = nil
			m.mu.Unlock()
		}
	}
}

// afterConnect resubscribes the full topic set, replays session filters and
// triggers device discovery. Individual failures are logged, not fatal.
func (m *Manager) afterConnect(cli Client) {
	m.mu.Lock()
	topics := make(map[string]byte, len(m.staticTopics))
	for t, qos := range m.staticTopics {
		topics[t] = qos
	}
	for _, extra := range m.sessionSubs {
		for _, t := range extra {
			if _, ok := topics[t]; !ok {
				topics[t] = 1
			}
		}
	}
	for _, t := range m.resume {
		if _, ok := topics[t]; !ok {
			topics[t] = 1
		}
	}
	m.mu.Unlock()

	names := make([]string, 0, len(topics))
	for t := range topics {
		names = append(names, t)
	}
	sort.Strings(names)
	for _, t := range names {
		if err := cli.Subscribe(t, topics[t], m.onMessage); err != nil {
			m.log.Warn("subscribe failed", zap.String("topic", t), zap.Error(err))
		}
	}
	if m.cache != nil {
		if err := m.cache.SaveTopics(names); err != nil {
			m.log.Warn("state cache save failed", zap.Error(err))
		}
	}
	if m.discovery.topic != "" {
		if err := cli.Publish(m.discovery.topic, 0, false, m.discovery.payload); err != nil {
			m.log.Warn("device discovery publish failed", zap.Error(err))
		}
	}
}

func (m *Manager) nextEndpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep := m.endpoints[m.next%len(m.endpoints)]
	m.next++
	return ep
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
