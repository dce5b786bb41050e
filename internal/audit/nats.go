// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

//go:build nats

package audit

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/goccy/go-json"
)

// NATSBus is the durable, multi-instance alternative to Bus, compiled only
// with the nats build tag. It publishes the same Event payloads onto a
// JetStream-backed subject instead of an in-process channel. Neither
// internal/config nor cmd/server selects it: the server always runs Bus.
type NATSBus struct {
	pub message.Publisher
}

// NewNATSBus dials url and wraps it as a Watermill JetStream publisher on
// the audit subject.
func NewNATSBus(url string) (*NATSBus, error) {
	opts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(10),
		natsgo.ReconnectWait(2 * time.Second),
	}
	wmConfig := wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: opts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			TrackMsgId:    true,
		},
	}
	pub, err := wmNats.NewPublisher(wmConfig, watermill.NopLogger{})
	if err != nil {
		return nil, fmt.Errorf("audit: connect nats: %w", err)
	}
	return &NATSBus{pub: pub}, nil
}

// Publish marshals evt and publishes it to JetStream. Failures are
// swallowed for the same reason as Bus.Publish: the audit trail must
// never be able to block or fail a security decision already made.
func (n *NATSBus) Publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	_ = n.pub.Publish(topic, message.NewMessage(watermill.NewUUID(), data))
}

// Close releases the underlying NATS connection.
func (n *NATSBus) Close() error {
	return n.pub.Close()
}
