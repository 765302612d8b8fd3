package mqtt

import (
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/flowline/flowline/core/ingest"
	"github.com/flowline/flowline/core/model"
	"github.com/flowline/flowline/core/orders"
	"github.com/flowline/flowline/infra/logger"
)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// PahoClient connects the coordinator to the factory broker: telemetry and
// response subscriptions in, command publishes out.
type PahoClient struct {
	cli    pahoClient
	cfg    Config
	logger logger.Logger
}

// NewPahoClient connects to the MQTT broker.
func NewPahoClient(cfg Config) (*PahoClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_client")
	pc := &PahoClient{cfg: cfg, logger: log}
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(paho.Client, *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	pc.cli = c
	return pc, nil
}

// NewClientOptions builds paho client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// commandPayload is the wire format of a dispatched command.
type commandPayload struct {
	CommandID string         `json:"command_id"`
	Action    string         `json:"action"`
	Target    string         `json:"target"`
	Params    map[string]any `json:"params"`
}

// PublishCommand publishes one command on the line's command topic. It
// implements dispatch.Publisher; retry and outcome tracking stay with the
// dispatcher.
func (p *PahoClient) PublishCommand(cmd model.Command) error {
	payload, err := json.Marshal(commandPayload{
		CommandID: cmd.ID,
		Action:    string(cmd.Action),
		Target:    cmd.Target,
		Params:    cmd.Params,
	})
	if err != nil {
		return err
	}
	topic := CommandTopic(p.cfg.TopicRoot, cmd.LineID)
	token := p.cli.Publish(topic, p.cfg.qos("command"), false, payload)
	token.Wait()
	return token.Error()
}

// PublishOrder publishes an order message on the global order topic, used by
// the order injection command and tests.
func (p *PahoClient) PublishOrder(msg orders.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	token := p.cli.Publish(ordersTopic(p.cfg.TopicRoot), p.cfg.qos("orders"), false, payload)
	token.Wait()
	return token.Error()
}

// SubscribeTelemetry routes a line's device status streams into the ingestor.
// Each stream carries its class so payload normalization stays typed.
func (p *PahoClient) SubscribeTelemetry(lineID string, ing *ingest.Ingestor) error {
	subs := []struct {
		topic string
		class ingest.DeviceClass
	}{
		{agvStatusTopic(p.cfg.TopicRoot, lineID), ingest.ClassAGV},
		{stationStatusTopic(p.cfg.TopicRoot, lineID), ingest.ClassStation},
		{conveyorStatusTopic(p.cfg.TopicRoot, lineID), ingest.ClassConveyor},
		{warehouseStatusTopic(p.cfg.TopicRoot), ingest.ClassWarehouse},
	}
	for _, sub := range subs {
		class := sub.class
		handler := func(_ paho.Client, msg paho.Message) {
			ing.Handle(class, lineID, deviceFromTopic(msg.Topic()), msg.Payload())
		}
		if token := p.cli.Subscribe(sub.topic, p.cfg.qos("telemetry"), handler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", sub.topic, token.Error())
		}
		p.logger.Infof("subscribed to %s", sub.topic)
	}
	return nil
}

// SubscribeResponses routes the line's command responses to the handler.
// Malformed responses are logged and dropped.
func (p *PahoClient) SubscribeResponses(lineID string, handle func(model.CommandResponse)) error {
	topic := ResponseTopic(p.cfg.TopicRoot, lineID)
	token := p.cli.Subscribe(topic, p.cfg.qos("response"), func(_ paho.Client, msg paho.Message) {
		var resp model.CommandResponse
		if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
			p.logger.Errorf("invalid response payload: %v", err)
			return
		}
		handle(resp)
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// SubscribeOrders routes the global order topic to the handler.
func (p *PahoClient) SubscribeOrders(handle func(orders.Message)) error {
	topic := ordersTopic(p.cfg.TopicRoot)
	token := p.cli.Subscribe(topic, p.cfg.qos("orders"), func(_ paho.Client, msg paho.Message) {
		var om orders.Message
		if err := json.Unmarshal(msg.Payload(), &om); err != nil {
			p.logger.Errorf("invalid order payload: %v", err)
			return
		}
		handle(om)
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// PublishStatus publishes a device status report on its telemetry topic.
// Only the simulate command uses this; the service itself never writes to
// the status streams.
func (p *PahoClient) PublishStatus(class ingest.DeviceClass, lineID, deviceID string, status any) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	topic := statusTopic(p.cfg.TopicRoot, string(class), lineID, deviceID)
	token := p.cli.Publish(topic, p.cfg.qos("status"), false, payload)
	token.Wait()
	return token.Error()
}

// SubscribeAlerts routes the line's alert topic to the handler. Malformed
// broadcasts are dropped.
func (p *PahoClient) SubscribeAlerts(lineID string, handle func(model.Alert)) error {
	topic := alertsTopic(p.cfg.TopicRoot, lineID)
	token := p.cli.Subscribe(topic, p.cfg.qos("alerts"), func(_ paho.Client, msg paho.Message) {
		var alert model.Alert
		if err := json.Unmarshal(msg.Payload(), &alert); err != nil {
			p.logger.Errorf("invalid alert payload: %v", err)
			return
		}
		handle(alert)
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoClient) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
