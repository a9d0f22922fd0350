// Package mqttspot optionally fans out CQ sightings and logged QSOs to
// an MQTT broker as JSON, for downstream consumers such as spotting
// aggregators and dashboards.
package mqttspot

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Spot is the JSON payload published for a new CQ sighting.
type Spot struct {
	Call      string    `json:"call"`
	Band      int       `json:"band"`
	Grid      string    `json:"grid,omitempty"`
	SNR       int       `json:"snr"`
	Country   string    `json:"country,omitempty"`
	Continent string    `json:"continent,omitempty"`
	Distance  float64   `json:"distance_km"`
	Azimuth   int       `json:"azimuth_deg"`
	Time      time.Time `json:"time"`
}

// Logged is the JSON payload published when a QSO is confirmed logged.
type Logged struct {
	Call string    `json:"call"`
	Band int       `json:"band"`
	Time time.Time `json:"time"`
}

// Publisher wraps an mqtt.Client configured for the controller's
// optional spot fan-out; publishing is fire-and-forget at QoS 0.
type Publisher struct {
	client mqtt.Client
	topic  string
}

// Config carries the ft8ctrl.mqtt.* settings.
type Config struct {
	Broker   string
	Topic    string
	Username string
	Password string
}

// New connects to cfg.Broker and returns a ready Publisher. The caller
// is expected to check cfg.Broker != "" before calling; an unset broker
// means the fan-out is disabled.
func New(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(generateClientID()).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(mqtt.Client) { log.Printf("mqttspot: connected to %s", cfg.Broker) }
	opts.OnConnectionLost = func(_ mqtt.Client, err error) { log.Printf("mqttspot: connection lost: %v", err) }
	opts.OnReconnecting = func(mqtt.Client, *mqtt.ClientOptions) { log.Printf("mqttspot: reconnecting to %s", cfg.Broker) }

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqttspot: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttspot: connect to %s: %w", cfg.Broker, err)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "ft8ctrl"
	}
	return &Publisher{client: client, topic: topic}, nil
}

// PublishSpot publishes s under <topic>/spot.
func (p *Publisher) PublishSpot(s Spot) {
	p.publish(p.topic+"/spot", s)
}

// PublishLogged publishes l under <topic>/logged.
func (p *Publisher) PublishLogged(l Logged) {
	p.publish(p.topic+"/logged", l)
}

func (p *Publisher) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("mqttspot: marshal %s: %v", topic, err)
		return
	}
	token := p.client.Publish(topic, 0, false, data)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("mqttspot: publish %s: %v", topic, err)
		}
	}()
}

// Disconnect closes the MQTT connection.
func (p *Publisher) Disconnect() { p.client.Disconnect(250) }

func generateClientID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return fmt.Sprintf("ft8ctrl-%x", buf)
}
