package mqtt

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nutechsoftware/alarmdecoder"
	"github.com/nutechsoftware/alarmdecoder/event"
	"github.com/nutechsoftware/alarmdecoder/internal/config"
	"github.com/nutechsoftware/alarmdecoder/internal/log"
	"github.com/nutechsoftware/alarmdecoder/internal/util"
	"github.com/nutechsoftware/alarmdecoder/protocol"
	"github.com/nutechsoftware/alarmdecoder/zonetracker"
)

const (
	offlinePayload = "offline"
	onlinePayload  = "online"
)

// MQTT bridges an alarm session to an MQTT broker: panel state, zone
// fault/restore and long-range-radio events go out as JSON; arm/disarm and
// raw keypad commands come back in.
type MQTT struct {
	config  *config.MQTTConfig
	session *alarmdecoder.AlarmDecoder
	code    string
	names   func(int) string
	log     *log.Logger
	client  mqtt.Client
	topics  *Topics

	subs []*event.Subscription
}

func NewMQTT(cfg *config.Config, session *alarmdecoder.AlarmDecoder, logger *log.Logger) *MQTT {
	return &MQTT{
		config:  &cfg.MQTT,
		session: session,
		code:    cfg.Device.Code,
		names:   cfg.ZoneName,
		log:     logger,
		topics:  NewTopics(cfg.MQTT.Prefix),
	}
}

func (m *MQTT) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", m.config.Host, m.config.Port))
	opts.SetClientID(m.config.ClientID)
	opts.SetUsername(m.config.Username)
	opts.SetPassword(m.config.Password)
	opts.SetCleanSession(m.config.Clean)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onDisconnect)

	opts.SetWill(m.topics.Status(), offlinePayload, byte(m.config.QOS), m.config.Retain)

	m.client = mqtt.NewClient(opts)

	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}

	m.attachSession()

	m.log.Info("Connected to MQTT broker: %s:%d", m.config.Host, m.config.Port)
	return nil
}

// attachSession wires session events onto broker topics. Handlers run on the
// session's read loop, so they only hand payloads to the paho client and
// never wait on tokens.
func (m *MQTT) attachSession() {
	m.subs = append(m.subs,
		m.session.Subscribe(event.TopicPanelState, func(_ event.Topic, payload interface{}) {
			m.publishPanelState(payload.(alarmdecoder.PanelState))
		}),
		m.session.Subscribe(event.TopicZoneFault, func(_ event.Topic, payload interface{}) {
			m.publishZone(payload.(zonetracker.Zone))
		}),
		m.session.Subscribe(event.TopicZoneRestore, func(_ event.Topic, payload interface{}) {
			m.publishZone(payload.(zonetracker.Zone))
		}),
		m.session.Subscribe(event.TopicMessage, func(_ event.Topic, payload interface{}) {
			msg := payload.(*protocol.Message)
			if msg.Kind == protocol.KindLRR {
				m.publishLRR(msg.LRR)
			}
		}),
	)
}

func (m *MQTT) onConnect(client mqtt.Client) {
	m.log.Info("MQTT connection established")
	m.publishOnlineStatus()
	m.subscribeTopics()
	m.publishPanelState(m.session.Snapshot())
	m.publishDeviceInfo()
}

func (m *MQTT) onDisconnect(client mqtt.Client, err error) {
	m.log.Error("MQTT connection lost: %v", err)
}

func (m *MQTT) subscribeTopics() {
	topics := []string{
		m.topics.Command(),
		m.topics.Keypad(),
	}

	for _, topic := range topics {
		token := m.client.Subscribe(topic, byte(m.config.QOS), m.handleMessage)
		if token.Wait() && token.Error() != nil {
			m.log.Error("Failed to subscribe to topic %s: %v", topic, token.Error())
		} else {
			m.log.Debug("Subscribed to topic: %s", topic)
		}
	}
}

func (m *MQTT) handleMessage(client mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	payload := string(msg.Payload())

	m.log.Debug("Received message on topic %s: %s", topic, payload)

	switch topic {
	case m.topics.Command():
		m.handleCommand(payload)
	case m.topics.Keypad():
		if err := m.session.Send(payload); err != nil {
			m.log.Error("Failed to send keypad input: %v", err)
		}
	default:
		m.log.Warning("Received message on unknown topic: %s", topic)
	}
}

func (m *MQTT) handleCommand(command string) {
	var err error
	switch command {
	case "arm_away", "arm_stay", "disarm":
		if m.code == "" {
			m.log.Warning("Ignoring command %q: no user code configured", command)
			return
		}
		switch command {
		case "arm_away":
			err = m.session.ArmAway(m.code)
		case "arm_stay":
			err = m.session.ArmStay(m.code)
		case "disarm":
			err = m.session.Disarm(m.code)
		}
	case "panic":
		err = m.session.Send(protocol.KeyPanic)
	default:
		m.log.Warning("Unknown command: %s", command)
		return
	}
	if err != nil {
		m.log.Error("Failed to send %s: %v", command, err)
	}
}

func (m *MQTT) publishOnlineStatus() {
	m.publish(m.topics.Status(), onlinePayload, true)
}

func (m *MQTT) publishDeviceInfo() {
	info := m.session.VersionInfo()
	status := map[string]interface{}{
		"serial_number":    info.SerialNumber,
		"firmware_version": info.Version,
		"keypad_address":   info.KeypadAddress,
		"mode":             info.Mode.String(),
	}
	m.publish(m.topics.Config(), status, true)
}

func (m *MQTT) publishPanelState(state alarmdecoder.PanelState) {
	status := map[string]interface{}{
		"ready":          state.Ready,
		"armed_away":     state.ArmedAway,
		"armed_stay":     state.ArmedStay,
		"alarm_sounding": state.AlarmSounding,
		"fire_alarm":     state.FireAlarm,
		"chime":          state.ChimeOn,
		"ac_power":       state.ACPower,
		"battery_low":    state.BatteryLow,
		"bypass":         state.ZoneBypassed,
		"exit_delay":     state.ExitDelay,
		"text":           util.Normalize(state.KeypadText),
	}
	m.publish(m.topics.Panel(), status, true)
}

func (m *MQTT) publishZone(zone zonetracker.Zone) {
	status := map[string]interface{}{
		"number": zone.ID,
		"name":   m.names(zone.ID),
		"status": zone.Status.String(),
		"source": zone.Source.String(),
	}
	m.publish(m.topics.Zone(m.names(zone.ID)), status, true)
}

func (m *MQTT) publishLRR(f *protocol.LRRFields) {
	entry := map[string]interface{}{
		"event":     f.EventType,
		"data":      f.EventData,
		"partition": f.Partition,
	}
	if f.ReportCode != "" {
		entry["report_code"] = f.ReportCode
	}
	m.publish(m.topics.Log(), entry, m.config.RetainLog)
}

func (m *MQTT) publish(topic string, message interface{}, retain bool) {
	payload, err := json.Marshal(message)
	if err != nil {
		m.log.Error("Failed to marshal message for topic %s: %v", topic, err)
		return
	}

	token := m.client.Publish(topic, byte(m.config.QOS), retain, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			m.log.Error("Failed to publish message to topic %s: %v", topic, token.Error())
		}
	}()
}

func (m *MQTT) Close() {
	for _, sub := range m.subs {
		sub.Cancel()
	}
	m.subs = nil

	if m.client != nil && m.client.IsConnected() {
		token := m.client.Publish(m.topics.Status(), byte(m.config.QOS), true, offlinePayload)
		token.Wait()
		m.client.Disconnect(250)
	}
}
