// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package publish announces committed placements to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wneessen/geoanchor/internal/logger"
)

const (
	connectTimeout = time.Second * 10
	publishTimeout = time.Second * 5
	qosAtLeastOnce = 1
)

var ErrTimeout = errors.New("MQTT operation timed out")

// Event is the payload published when a session commits a placement.
type Event struct {
	Session  string     `json:"session"`
	State    string     `json:"state"`
	Position [3]float64 `json:"position"`
	Target   [3]float64 `json:"target"`
	At       time.Time  `json:"at"`
}

// Publisher sends placement events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Options configures the MQTT publisher.
type Options struct {
	Broker   string
	ClientID string
	Topic    string
}

// New returns an MQTT publisher, or a no-op publisher if no broker is configured.
func New(log *logger.Logger, opts Options) (Publisher, error) {
	if opts.Broker == "" {
		return Nop{}, nil
	}
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("MQTT connection lost", logger.Err(err))
		})

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %q: %w", opts.Broker, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %q: %w", opts.Broker, err)
	}
	log.Info("connected to MQTT broker", slog.String("broker", opts.Broker), slog.String("topic", opts.Topic))
	return newMQTTPublisher(log, client, opts.Topic), nil
}

// MQTTPublisher publishes events as JSON to a single topic.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	logger *logger.Logger
}

func newMQTTPublisher(log *logger.Logger, client mqtt.Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, logger: log}
}

func (p *MQTTPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode placement event: %w", err)
	}

	token := p.client.Publish(p.topic, qosAtLeastOnce, false, payload)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("failed to publish placement event: %w", ErrTimeout)
	case <-token.Done():
	}
	if err = token.Error(); err != nil {
		return fmt.Errorf("failed to publish placement event: %w", err)
	}
	p.logger.Debug("placement event published", slog.String("session", event.Session),
		slog.String("topic", p.topic))
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Close() {}
