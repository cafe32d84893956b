// Package channels carries sync activity off the device: an MQTT bridge
// for fleet tooling and a websocket hub for local dashboards.
package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/clawinfra/evosync/internal/cloudsync"
)

const (
	// MQTT topics, all scoped by device id
	eventsTopic   = "evosync/%s/events"   // every lifecycle event
	authTopic     = "evosync/%s/auth"     // last auth error, retained
	statusTopic   = "evosync/%s/status"   // "online" / "offline", retained; offline is the will
	commandsTopic = "evosync/%s/commands" // remote → device
	resultsTopic  = "evosync/%s/results"  // command replies

	outboxSize = 256
)

// MQTTClient is the part of the paho client the bridge uses, so tests can
// substitute it.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
}

// pahoClient satisfies MQTTClient with a real paho client.
type pahoClient struct {
	mqtt.Client
}

// Controller is what remote commands act on.
type Controller interface {
	Sync(ctx context.Context) cloudsync.Result
	RetryFailedItems(ctx context.Context) (int, cloudsync.Result)
	ClearCompleted(ctx context.Context) (int, error)
	Subscribe(fn cloudsync.Listener) (func(), error)
}

// Reporter receives broker connectivity when the bridge is the
// connectivity source.
type Reporter interface {
	Report(online bool)
}

// Command is the payload accepted on the commands topic.
type Command struct {
	Command   string `json:"command"` // "sync", "retry" or "clear"
	RequestID string `json:"request_id,omitempty"`
}

// CommandResult is published on the results topic.
type CommandResult struct {
	RequestID string            `json:"request_id,omitempty"`
	Command   string            `json:"command"`
	Count     int               `json:"count,omitempty"`
	Result    *cloudsync.Result `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type outMsg struct {
	topic    string
	retained bool
	payload  []byte
}

// MQTTBridge publishes sync events to a broker and runs commands it
// receives from it.
type MQTTBridge struct {
	broker   string
	port     int
	deviceID string
	username string
	password string
	logger   *slog.Logger

	ctrl     Controller
	reporter Reporter

	client        MQTTClient
	clientFactory func(opts *mqtt.ClientOptions) MQTTClient

	outbox      chan outMsg
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewMQTTBridge creates a bridge for deviceID. ctrl may be nil, in which
// case commands are rejected and no events are forwarded.
func NewMQTTBridge(broker string, port int, deviceID, username, password string, ctrl Controller, logger *slog.Logger) *MQTTBridge {
	return NewMQTTBridgeWithClient(broker, port, deviceID, username, password, ctrl, logger,
		func(opts *mqtt.ClientOptions) MQTTClient {
			return pahoClient{mqtt.NewClient(opts)}
		})
}

// NewMQTTBridgeWithClient creates a bridge with a custom client factory (for testing)
func NewMQTTBridgeWithClient(broker string, port int, deviceID, username, password string, ctrl Controller, logger *slog.Logger, clientFactory func(*mqtt.ClientOptions) MQTTClient) *MQTTBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTBridge{
		broker:        broker,
		port:          port,
		deviceID:      deviceID,
		username:      username,
		password:      password,
		ctrl:          ctrl,
		logger:        logger.With("channel", "mqtt", "device", deviceID),
		clientFactory: clientFactory,
		outbox:        make(chan outMsg, outboxSize),
	}
}

// SetReporter makes broker connect/disconnect drive r.
func (b *MQTTBridge) SetReporter(r Reporter) {
	b.reporter = r
}

func (b *MQTTBridge) Name() string {
	return "mqtt"
}

// Start connects to the broker, subscribes to manager events and starts the
// publisher.
func (b *MQTTBridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", b.broker, b.port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("evosync-%s-%d", b.deviceID, time.Now().Unix()))

	if b.username != "" {
		opts.SetUsername(b.username)
		opts.SetPassword(b.password)
	}

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(b.topic(statusTopic), "offline", 1, true)

	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		b.onConnectionLost(err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.onConnect()
	})

	b.client = b.clientFactory(opts)

	b.logger.Info("connecting to mqtt broker", "broker", brokerURL)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt: %w", err)
	}

	if b.ctrl != nil {
		unsub, err := b.ctrl.Subscribe(b.forward)
		if err != nil {
			b.client.Disconnect(250)
			return fmt.Errorf("subscribe to sync events: %w", err)
		}
		b.unsubscribe = unsub
	}

	b.wg.Add(1)
	go b.publishLoop()

	b.logger.Info("mqtt bridge started")
	return nil
}

// Stop unsubscribes from events, marks the device offline and disconnects.
func (b *MQTTBridge) Stop() error {
	b.logger.Info("stopping mqtt bridge")

	if b.unsubscribe != nil {
		b.unsubscribe()
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()

	if b.client != nil && b.client.IsConnected() {
		b.publishNow(outMsg{topic: b.topic(statusTopic), retained: true, payload: []byte("offline")})
		b.client.Disconnect(250)
	}
	return nil
}

func (b *MQTTBridge) topic(format string) string {
	return fmt.Sprintf(format, b.deviceID)
}

func (b *MQTTBridge) onConnect() {
	b.logger.Info("mqtt connected, subscribing to commands")
	if b.reporter != nil {
		b.reporter.Report(true)
	}
	b.enqueue(outMsg{topic: b.topic(statusTopic), retained: true, payload: []byte("online")})

	topic := b.topic(commandsTopic)
	token := b.client.Subscribe(topic, 1, b.handleCommand)
	if !token.WaitTimeout(5 * time.Second) {
		b.logger.Error("subscribe timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		b.logger.Error("failed to subscribe", "topic", topic, "error", err)
		return
	}
	b.logger.Info("subscribed", "topic", topic)
}

func (b *MQTTBridge) onConnectionLost(err error) {
	b.logger.Warn("mqtt connection lost", "error", err)
	if b.reporter != nil {
		b.reporter.Report(false)
	}
}

// forward runs on the draining goroutine, so it only queues.
func (b *MQTTBridge) forward(ev cloudsync.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("marshal event", "type", ev.Type, "error", err)
		return
	}
	b.enqueue(outMsg{topic: b.topic(eventsTopic), payload: payload})
	if ev.Type == cloudsync.EventAuthError {
		b.enqueue(outMsg{topic: b.topic(authTopic), retained: true, payload: payload})
	}
}

func (b *MQTTBridge) enqueue(msg outMsg) {
	select {
	case b.outbox <- msg:
	default:
		b.logger.Warn("outbox full, dropping message", "topic", msg.topic)
	}
}

func (b *MQTTBridge) publishLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.outbox:
			if err := b.publishNow(msg); err != nil {
				b.logger.Warn("publish failed", "topic", msg.topic, "error", err)
			}
		}
	}
}

func (b *MQTTBridge) publishNow(msg outMsg) error {
	if !b.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	// QoS 1: at least once
	token := b.client.Publish(msg.topic, 1, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	b.logger.Debug("message published", "topic", msg.topic, "size", len(msg.payload))
	return nil
}

// handleCommand runs on the paho router goroutine; the work is moved off it.
func (b *MQTTBridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		b.logger.Error("failed to parse command", "topic", msg.Topic(), "error", err)
		return
	}
	b.logger.Info("command received", "command", cmd.Command, "request_id", cmd.RequestID)
	if b.ctx.Err() != nil {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		res := b.runCommand(b.ctx, cmd)
		payload, err := json.Marshal(res)
		if err != nil {
			b.logger.Error("marshal command result", "error", err)
			return
		}
		b.enqueue(outMsg{topic: b.topic(resultsTopic), payload: payload})
	}()
}

func (b *MQTTBridge) runCommand(ctx context.Context, cmd Command) CommandResult {
	out := CommandResult{RequestID: cmd.RequestID, Command: cmd.Command}
	if b.ctrl == nil {
		out.Error = "no sync manager attached"
		return out
	}

	switch cmd.Command {
	case "sync":
		res := b.ctrl.Sync(ctx)
		out.Result = &res
	case "retry":
		n, res := b.ctrl.RetryFailedItems(ctx)
		out.Count = n
		out.Result = &res
	case "clear":
		n, err := b.ctrl.ClearCompleted(ctx)
		out.Count = n
		if err != nil {
			out.Error = err.Error()
		}
	default:
		out.Error = fmt.Sprintf("unknown command: %q", cmd.Command)
	}
	return out
}
