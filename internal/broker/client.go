// Package broker maintains the connection to the MQTT bus: endpoint
// failover, exponential backoff reconnects, resubscription and filter
// replay on connect, and a small on-disk state cache for best-effort
// resume after restart.
package broker

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MessageHandler receives every inbound message for a subscription.
// Handlers for the same connection are invoked sequentially in delivery
// order.
type MessageHandler func(topic string, payload []byte)

// Client is the injected bus client abstraction. The production
// implementation wraps paho; tests inject fakes. There is no silent
// fallback: the application wires exactly one implementation at startup.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Subscribe(topic string, qos byte, h MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	// OnConnectionLost registers a callback fired when an established
	// connection drops. Must be set before Connect.
	OnConnectionLost(func(error))
}

// Dialer builds a Client for one broker endpoint.
type Dialer func(endpoint string) Client

// pahoClient implements Client over paho.mqtt.golang for a single endpoint.
// Reconnection is owned by the Manager, so paho auto-reconnect is off.
type pahoClient struct {
	endpoint string
	clientID string
	username string
	password string
	lost     func(error)
	cli      mqtt.Client
}

// NewPahoDialer returns a Dialer producing paho-backed clients.
func NewPahoDialer(clientID, username, password string) Dialer {
	return func(endpoint string) Client {
		return &pahoClient{
			endpoint: endpoint,
			clientID: clientID,
			username: username,
			password: password,
		}
	}
}

func (p *pahoClient) OnConnectionLost(fn func(error)) { p.lost = fn }

func (p *pahoClient) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.endpoint)
	opts.SetClientID(p.clientID)
	if p.username != "" {
		opts.SetUsername(p.username)
		opts.SetPassword(p.password)
	}
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	// Order matters: handlers run sequentially per connection, which the
	// topic router relies on.
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if p.lost != nil {
			p.lost(err)
		}
	})

	p.cli = mqtt.NewClient(opts)
	token := p.cli.Connect()

	deadline := 10 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	if !token.WaitTimeout(deadline) {
		return fmt.Errorf("connect %s: timeout", p.endpoint)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", p.endpoint, err)
	}
	return nil
}

func (p *pahoClient) Disconnect() {
	if p.cli != nil {
		p.cli.Disconnect(250)
	}
}

func (p *pahoClient) IsConnected() bool {
	return p.cli != nil && p.cli.IsConnected()
}

func (p *pahoClient) Subscribe(topic string, qos byte, h MessageHandler) error {
	token := p.cli.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		h(m.Topic(), m.Payload())
	})
	token.Wait()
	return token.Error()
}

func (p *pahoClient) Unsubscribe(topic string) error {
	token := p.cli.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

func (p *pahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.cli.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}
