// internal/bridge/mqtt.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-service/internal/config"
	"serial-service/internal/model"
)

const (
	eventsTopic   = "events"
	requestTopic  = "commands/request"
	responseTopic = "commands/response"

	defaultCommandTimeout = 5 * time.Second
)

// ErrNotConnected is returned when the broker connection is down
var ErrNotConnected = errors.New("mqtt client not connected")

// Client is the subset of mqtt.Client the bridge uses
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

// Commander executes commands received from the broker
type Commander interface {
	SendCommand(text string, params map[string]any) error
	SendAndWait(ctx context.Context, cmd model.Command, timeout time.Duration) (*model.ProtocolResponse, error)
}

// CommandRequest is the payload accepted on <prefix>/commands/request
type CommandRequest struct {
	ID        string         `json:"id"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
	Wait      bool           `json:"wait"`
	TimeoutMs int64          `json:"timeout_ms,omitempty"`
	Retries   int            `json:"retries,omitempty"`
}

// CommandReply is published on <prefix>/commands/response
type CommandReply struct {
	ID             string               `json:"id"`
	Command        string               `json:"command"`
	Success        bool                 `json:"success"`
	Status         model.ResponseStatus `json:"status,omitempty"`
	Data           string               `json:"data,omitempty"`
	Error          string               `json:"error,omitempty"`
	ResponseTimeMs int64                `json:"response_time_ms,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
}

// Stats counts bridge traffic
type Stats struct {
	EventsPublished int64 `json:"events_published"`
	PublishFailures int64 `json:"publish_failures"`
	Requests        int64 `json:"requests"`
	InvalidRequests int64 `json:"invalid_requests"`
}

// MQTTBridge forwards bus events to a broker and executes commands that
// arrive on the request topic
type MQTTBridge struct {
	client    Client
	commander Commander
	prefix    string
	qos       byte
	timeout   time.Duration
	logger    *zap.Logger

	wg sync.WaitGroup

	published atomic.Int64
	failures  atomic.Int64
	requests  atomic.Int64
	invalid   atomic.Int64
}

// Connect dials the configured broker
func Connect(cfg config.MQTTConfig, logger *zap.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "serial-service-" + uuid.NewString()[:8]
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out after %s", cfg.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return client, nil
}

// NewMQTTBridge creates a bridge on an already connected client
func NewMQTTBridge(client Client, commander Commander, cfg config.MQTTConfig, logger *zap.Logger) *MQTTBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "serial-service"
	}
	return &MQTTBridge{
		client:    client,
		commander: commander,
		prefix:    prefix,
		qos:       cfg.QoS,
		timeout:   defaultCommandTimeout,
		logger:    logger.With(zap.String("component", "mqtt_bridge")),
	}
}

// Topic joins the bridge prefix and a suffix
func (b *MQTTBridge) Topic(suffix string) string {
	return b.prefix + "/" + suffix
}

// Start subscribes to the request topic
func (b *MQTTBridge) Start() error {
	topic := b.Topic(requestTopic)
	token := b.client.Subscribe(topic, b.qos, b.handleRequest)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	b.logger.Info("MQTT bridge started", zap.String("request_topic", topic))
	return nil
}

// Run publishes every event from events until ctx is done or the channel
// closes
func (b *MQTTBridge) Run(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := b.PublishEvent(event); err != nil {
				b.logger.Debug("Failed to publish event", zap.String("event_type", string(event.Type)), zap.Error(err))
			}
		}
	}
}

// PublishEvent publishes one event on <prefix>/events/<type>
func (b *MQTTBridge) PublishEvent(event model.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		b.failures.Add(1)
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.publish(b.Topic(eventsTopic+"/"+string(event.Type)), body); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

func (b *MQTTBridge) publish(topic string, body []byte) error {
	if !b.client.IsConnected() {
		b.failures.Add(1)
		return ErrNotConnected
	}
	token := b.client.Publish(topic, b.qos, false, body)
	if !token.WaitTimeout(b.timeout) {
		b.failures.Add(1)
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		b.failures.Add(1)
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *MQTTBridge) handleRequest(_ mqtt.Client, msg mqtt.Message) {
	b.requests.Add(1)

	var req CommandRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil || req.Command == "" {
		b.invalid.Add(1)
		b.logger.Warn("Invalid MQTT command request", zap.String("topic", msg.Topic()), zap.Error(err))
		b.reply(CommandReply{ID: req.ID, Error: "invalid request: command is required", Timestamp: time.Now()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.reply(b.Execute(context.Background(), req))
	}()
}

// Execute runs one request against the commander
func (b *MQTTBridge) Execute(ctx context.Context, req CommandRequest) CommandReply {
	reply := CommandReply{ID: req.ID, Command: req.Command}

	if !req.Wait {
		if err := b.commander.SendCommand(req.Command, req.Params); err != nil {
			reply.Error = err.Error()
		} else {
			reply.Success = true
		}
		reply.Timestamp = time.Now()
		return reply
	}

	cmd := model.Command{
		Text:    req.Command,
		Params:  req.Params,
		Retries: req.Retries,
	}
	resp, err := b.commander.SendAndWait(ctx, cmd, time.Duration(req.TimeoutMs)*time.Millisecond)
	reply.Timestamp = time.Now()
	if err != nil {
		reply.Error = err.Error()
		return reply
	}

	reply.Status = resp.Status
	reply.Data = resp.Data
	reply.Error = resp.ErrorMessage
	reply.ResponseTimeMs = resp.ResponseTime.Milliseconds()
	reply.Success = resp.Status == model.StatusSuccess
	return reply
}

func (b *MQTTBridge) reply(reply CommandReply) {
	body, err := json.Marshal(reply)
	if err != nil {
		b.logger.Error("Failed to encode command reply", zap.Error(err))
		return
	}
	if err := b.publish(b.Topic(responseTopic), body); err != nil {
		b.logger.Warn("Failed to publish command reply", zap.String("id", reply.ID), zap.Error(err))
	}
}

// Stop unsubscribes, waits for in-flight requests and disconnects
func (b *MQTTBridge) Stop() {
	if b.client.IsConnected() {
		b.client.Unsubscribe(b.Topic(requestTopic)).WaitTimeout(b.timeout)
	}
	b.wg.Wait()
	b.client.Disconnect(250)
	b.logger.Info("MQTT bridge stopped")
}

// Stats returns traffic counters
func (b *MQTTBridge) Stats() Stats {
	return Stats{
		EventsPublished: b.published.Load(),
		PublishFailures: b.failures.Load(),
		Requests:        b.requests.Load(),
		InvalidRequests: b.invalid.Load(),
	}
}
