// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// Package audit is the security-audit event bus: every challenge issuance,
// verification, token lifecycle change, and authorization decision from
// internal/session and internal/resauth is published here for a
// subscriber to render through internal/logging. Built on Watermill's
// Go-channel Pub/Sub.
package audit

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
)

// EventKind enumerates the audit events emitted by the security core.
type EventKind string

const (
	EventChallengeIssued  EventKind = "challenge_issued"
	EventVerifySucceeded  EventKind = "verify_succeeded"
	EventVerifyFailed     EventKind = "verify_failed"
	EventTokenMinted      EventKind = "token_minted"
	EventTokenDestroyed   EventKind = "token_destroyed"
	EventIPMismatch       EventKind = "ip_mismatch"
	EventUserCreated      EventKind = "user_created"
	EventAuthzGranted     EventKind = "authz_granted"
	EventAuthzDenied      EventKind = "authz_denied"
	EventAttributeChanged EventKind = "attribute_changed"
)

// Event is a single audit record. UUID is the acting or affected user,
// Detail carries kind-specific context (a path, a permission string) used
// purely for logging — never for authorization decisions.
type Event struct {
	Kind   EventKind
	UUID   int64
	Detail string
}

// Publisher is the narrow interface internal/session and internal/resauth
// depend on, so tests can substitute a no-op or recording fake without
// pulling in Watermill.
type Publisher interface {
	Publish(evt Event)
}

const topic = "audit.events"

// Bus is a Watermill-backed Publisher with an attached subscriber loop
// that renders every event through a logging sink. The zero value is not
// usable; construct with New.
type Bus struct {
	pub      *gochannel.GoChannel
	messages <-chan *message.Message
	subErr   error
	logger   func(Event)
}

// New creates an in-process audit bus using Watermill's Go-channel
// Pub/Sub. A NATS-backed transport is available separately via NewNATSBus
// for multi-instance deployments. The subscription is opened here, so
// events published before Run starts wait for it instead of being dropped.
func New(logger func(Event)) *Bus {
	pub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	messages, err := pub.Subscribe(context.Background(), topic)
	return &Bus{pub: pub, messages: messages, subErr: err, logger: logger}
}

// Publish marshals evt and publishes it on the audit topic. Marshal and
// publish failures are swallowed: the audit trail must never be able to
// block or fail a security decision that has already been made.
func (b *Bus) Publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	_ = b.pub.Publish(topic, message.NewMessage(watermill.NewUUID(), data))
}

// Run reads the audit-topic subscription opened by New and renders every
// event through the configured logger until ctx is cancelled. Intended to
// run as a suture.Service-wrapped goroutine within the supervisor tree.
func (b *Bus) Run(ctx context.Context) error {
	if b.subErr != nil {
		return fmt.Errorf("audit: subscribe: %w", b.subErr)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-b.messages:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal(msg.Payload, &evt); err == nil && b.logger != nil {
				b.logger(evt)
			}
			msg.Ack()
		}
	}
}

// Close releases the underlying Go-channel pub/sub.
func (b *Bus) Close() error {
	return b.pub.Close()
}
