// Package mqttbridge subscribes to the command topic tree, resolves
// inbound PING/READ/WRITE commands to a tag, executes the corresponding
// device operation, and publishes both command replies and the
// scheduler's batched samples.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"modbus-mqtt-gateway/internal/device"
	"modbus-mqtt-gateway/internal/model"
)

// Tag is the subset of *device.Device the bridge needs.
type Tag interface {
	Read(ctx context.Context) (model.TagResponse, *model.ReadError)
	Write(ctx context.Context, value model.TagValue) *model.WriteError
	TagName() string
}

var _ Tag = (*device.Device)(nil)

// Config holds the broker settings; cmd/gateway fills it from the process
// configuration (YAML file plus flag overrides).
type Config struct {
	Protocol string // only "tcp" is accepted; New rejects anything else, "udp" included
	Host     string
	Port     int
	QoS      byte
	Prefix   string
	ClientID string
}

// brokerURL builds the "<protocol>://<host>:<port>" address paho expects.
func (c Config) brokerURL() string {
	return fmt.Sprintf("%s://%s:%d", c.Protocol, c.Host, c.Port)
}

// Bridge is the MQTT command handler and scheduled-sample publisher.
type Bridge struct {
	client mqtt.Client
	cfg    Config
	logger *zap.Logger
	byTag  map[string]Tag

	// publishFn is the actual wire publish; a field rather than a direct
	// client.Publish call so tests can substitute a recorder.
	publishFn func(topic string, payload []byte) error
}

// New validates cfg and builds the MQTT client, wiring reconnect/backoff
// exactly as the messaging layer this is grounded on does. MQTT has no
// defined UDP transport in this deployment; protocol=UDP is rejected
// rather than silently routed to a TCP socket (see the open question this
// preserves instead of guessing at).
func New(cfg Config, devices []Tag, logger *zap.Logger) (*Bridge, error) {
	if cfg.Protocol != "tcp" {
		return nil, fmt.Errorf("mqttbridge: unsupported protocol %q", cfg.Protocol)
	}

	byTag := make(map[string]Tag, len(devices))
	for _, d := range devices {
		byTag[d.TagName()] = d
	}

	b := &Bridge{cfg: cfg, logger: logger, byTag: byTag}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.brokerURL())
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(b.onConnectionLost)
	opts.SetOnConnectHandler(b.onConnect)

	b.client = mqtt.NewClient(opts)
	b.publishFn = b.publishToBroker
	return b, nil
}

// Connect dials the broker and subscribes to the command tree.
func (b *Bridge) Connect(ctx context.Context) error {
	b.logger.Info("connecting to MQTT broker", zap.String("broker", b.cfg.brokerURL()))

	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqttbridge: connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttbridge: connect: %w", err)
	}
	return b.subscribeCommands()
}

func (b *Bridge) subscribeCommands() error {
	topic := b.cfg.Prefix + "/commands/#"
	token := b.client.Subscribe(topic, b.cfg.QoS, b.onCommand)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqttbridge: subscribe timeout")
	}
	return token.Error()
}

func (b *Bridge) onConnect(client mqtt.Client) {
	b.logger.Info("MQTT connection established")
	if err := b.subscribeCommands(); err != nil {
		b.logger.Error("failed to resubscribe after reconnect", zap.Error(err))
	}
}

func (b *Bridge) onConnectionLost(client mqtt.Client, err error) {
	b.logger.Warn("MQTT connection lost", zap.Error(err))
}

// Publish implements scheduler.Publisher: scheduled samples go to
// "<prefix>/<device_name>" at AtLeastOnce, non-retained.
func (b *Bridge) Publish(deviceName string, payload []byte) error {
	topic := b.cfg.Prefix + "/" + deviceName
	return b.publish(topic, payload)
}

func (b *Bridge) publish(topic string, payload []byte) error {
	return b.publishFn(topic, payload)
}

func (b *Bridge) publishToBroker(topic string, payload []byte) error {
	token := b.client.Publish(topic, byte(1), false, payload)
	if !token.WaitTimeout(4 * time.Second) {
		return fmt.Errorf("mqttbridge: publish timeout on %s", topic)
	}
	return token.Error()
}

// onCommand is the subscription handler for "<prefix>/commands/#". Tag
// resolution is by the topic's last segment; an unresolved tag is
// silently dropped, matching the source behavior.
func (b *Bridge) onCommand(client mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	tagName := tagNameFromTopic(topic)

	tag, ok := b.byTag[tagName]
	if !ok {
		return
	}

	replyTopic := replyTopicFor(topic)
	fields := strings.Fields(string(msg.Payload()))

	ctx, cancel := context.WithTimeout(context.Background(), device.OperationTimeout)
	defer cancel()

	switch {
	case len(fields) == 1 && fields[0] == "PING":
		b.handlePing(ctx, tag, replyTopic)
	case len(fields) == 1 && fields[0] == "READ":
		b.handleRead(ctx, tag, replyTopic)
	case len(fields) == 2 && fields[0] == "WRITE":
		b.handleWrite(ctx, tag, replyTopic, fields[1])
	default:
		b.logger.Info("invalid command", zap.String("topic", topic), zap.ByteString("payload", msg.Payload()))
	}
}

// tagNameFromTopic resolves a tag by the last "/"-segment of the incoming
// command topic.
func tagNameFromTopic(topic string) string {
	segments := strings.Split(topic, "/")
	return segments[len(segments)-1]
}

// replyTopicFor derives the reply topic by removing the "/commands"
// substring from the incoming topic.
func replyTopicFor(topic string) string {
	return strings.Replace(topic, "/commands", "", 1)
}

func (b *Bridge) handlePing(ctx context.Context, tag Tag, replyTopic string) {
	_, readErr := tag.Read(ctx)
	reply := "PONG"
	if readErr != nil {
		reply = "Error"
	}
	if err := b.publish(replyTopic, []byte(reply)); err != nil {
		b.logger.Error("failed to publish PING reply", zap.String("topic", replyTopic), zap.Error(err))
	}
}

func (b *Bridge) handleRead(ctx context.Context, tag Tag, replyTopic string) {
	resp, readErr := tag.Read(ctx)
	var result model.ReadResult
	if readErr != nil {
		result = model.ReadErr(readErr)
	} else {
		result = model.ReadOK(resp)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		b.logger.Error("failed to marshal READ reply", zap.Error(err))
		return
	}
	if err := b.publish(replyTopic, payload); err != nil {
		b.logger.Error("failed to publish READ reply", zap.String("topic", replyTopic), zap.Error(err))
	}
}

// handleWrite always parses the command value as an int32 write, never a
// float; this is a known, preserved limitation rather than an oversight.
func (b *Bridge) handleWrite(ctx context.Context, tag Tag, replyTopic, rawValue string) {
	parsed, err := strconv.ParseInt(rawValue, 10, 32)
	if err != nil {
		b.logger.Info("invalid WRITE value", zap.String("value", rawValue), zap.Error(err))
		return
	}

	var result model.WriteResult
	if writeErr := tag.Write(ctx, model.I32(int32(parsed))); writeErr != nil {
		result = model.WriteErr(writeErr)
	} else {
		result = model.WriteOK()
	}

	payload, err := json.Marshal(result)
	if err != nil {
		b.logger.Error("failed to marshal WRITE reply", zap.Error(err))
		return
	}
	if err := b.publish(replyTopic, payload); err != nil {
		b.logger.Error("failed to publish WRITE reply", zap.String("topic", replyTopic), zap.Error(err))
	}
}
