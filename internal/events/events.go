// Package events publishes redirector lifecycle changes to an MQTT broker.
package events

import (
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"git2.jad.ru/MeterRS485/sercd/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const connectWait = 10 * time.Second

// Options configures the broker connection.
type Options struct {
	Broker   string // tcp://host:1883
	Topic    string
	ClientID string
	Username string
	Password string
}

// Event is the payload of every message.
type Event struct {
	State   session.State `json:"state"`
	Time    time.Time     `json:"time"`
	Device  string        `json:"device,omitempty"`
	Remote  string        `json:"remote,omitempty"`
	Session *session.Info `json:"session,omitempty"`
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher implements session.Observer and session.RejectObserver.
// Messages go to <topic>/state (retained), <topic>/session and
// <topic>/rejected.
type Publisher struct {
	client publisher
	topic  string
	device string
	log    *slog.Logger
	now    func() time.Time
	state  session.State // last published, reported with rejections
}

// Connect dials the broker. The client keeps reconnecting on its own, so a
// broker that is down at startup only produces a warning.
func Connect(opts Options, device string, log *slog.Logger) (*Publisher, error) {
	if opts.Broker == "" {
		return nil, errors.New("events: no broker")
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.ClientID == "" {
		opts.ClientID = "sercd-" + time.Now().Format("20060102150405")
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetKeepAlive(60 * time.Second)
	co.SetConnectTimeout(connectWait)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetMaxReconnectInterval(time.Minute)

	will, err := json.Marshal(Event{State: session.Stopped, Device: device})
	if err != nil {
		return nil, errors.Wrap(err, "events: encode will")
	}
	co.SetBinaryWill(opts.Topic+"/state", will, 1, true)
	co.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("connected to MQTT broker", "broker", opts.Broker)
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("lost MQTT broker connection", "err", err)
	})

	client := mqtt.NewClient(co)
	if tok := client.Connect(); !tok.WaitTimeout(connectWait) {
		log.Warn("MQTT broker not reachable yet, retrying in background", "broker", opts.Broker)
	} else if tok.Error() != nil {
		return nil, errors.Wrap(tok.Error(), "events: connect")
	}

	return newPublisher(client, opts.Topic, device, log), nil
}

func newPublisher(client publisher, topic, device string, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		client: client,
		topic:  topic,
		device: device,
		log:    log,
		now:    time.Now,
	}
}

func (p *Publisher) StateChanged(state session.State, s *session.Session) {
	if p == nil {
		return
	}
	p.state = state
	ev := Event{State: state, Time: p.now().UTC(), Device: p.device}
	p.publish("/state", true, ev)

	if s == nil {
		return
	}
	info := s.Info()
	ev.Remote = info.Remote
	ev.Session = &info
	p.publish("/session", false, ev)
}

// Rejected reports a client turned away, carrying the state of the session
// that holds the port.
func (p *Publisher) Rejected(remote string) {
	if p == nil {
		return
	}
	p.publish("/rejected", false, Event{
		State:  p.state,
		Time:   p.now().UTC(),
		Device: p.device,
		Remote: remote,
	})
}

// publish never waits on the broker; it runs on the redirector loop.
func (p *Publisher) publish(suffix string, retained bool, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("encode event", "err", err)
		return
	}
	tok := p.client.Publish(p.topic+suffix, 1, retained, payload)
	go func() {
		if tok.WaitTimeout(connectWait) && tok.Error() != nil {
			p.log.Debug("publish event", "topic", p.topic+suffix, "err", tok.Error())
		}
	}()
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if c, ok := p.client.(mqtt.Client); ok {
		c.Disconnect(250)
	}
	return nil
}
