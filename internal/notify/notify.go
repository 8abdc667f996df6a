// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

// Package notify publishes run outcome events on an in-process pub/sub
// channel. Subscribers are decoupled from the engine; the default
// subscriber just logs, and new consumers attach without touching sync
// code.
package notify

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/awillheartwu/starsync/internal/logging"
	"github.com/awillheartwu/starsync/internal/models"
)

// TopicRuns carries sync run and maintenance outcome events.
const TopicRuns = "starsync.runs"

// Event kinds published on TopicRuns.
const (
	EventRunSucceeded         = "run.succeeded"
	EventRunFailed            = "run.failed"
	EventMaintenanceSucceeded = "maintenance.succeeded"
)

// Event is the published payload.
type Event struct {
	Kind        string                     `json:"kind"`
	Mode        string                     `json:"mode,omitempty"`
	Stats       *models.RunStats           `json:"stats,omitempty"`
	Maintenance *models.MaintenanceSummary `json:"maintenance,omitempty"`
	Error       string                     `json:"error,omitempty"`
	At          time.Time                  `json:"at"`
}

// Notifier publishes outcome events. Publishing is best-effort: a publish
// failure is logged and never fails the run that produced it.
type Notifier struct {
	pubsub *gochannel.GoChannel
}

// New creates a notifier with its own in-process channel.
func New() *Notifier {
	logger := watermill.NewStdLogger(false, false)
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, logger)
	return &Notifier{pubsub: ps}
}

// NotifyRunSucceeded publishes a successful sync run outcome.
func (n *Notifier) NotifyRunSucceeded(mode string, stats models.RunStats) {
	n.publish(Event{Kind: EventRunSucceeded, Mode: mode, Stats: &stats, At: time.Now()})
}

// NotifyRunFailed publishes a failed sync run outcome.
func (n *Notifier) NotifyRunFailed(mode string, runErr error) {
	n.publish(Event{Kind: EventRunFailed, Mode: mode, Error: runErr.Error(), At: time.Now()})
}

// NotifyMaintenanceSucceeded publishes a maintenance pass outcome.
func (n *Notifier) NotifyMaintenanceSucceeded(summary models.MaintenanceSummary) {
	n.publish(Event{Kind: EventMaintenanceSucceeded, Maintenance: &summary, At: time.Now()})
}

func (n *Notifier) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logging.Warn().Err(err).Str("kind", ev.Kind).Msg("Failed to encode event")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := n.pubsub.Publish(TopicRuns, msg); err != nil {
		logging.Warn().Err(err).Str("kind", ev.Kind).Msg("Failed to publish event")
	}
}

// Subscribe returns the raw message stream for TopicRuns.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return n.pubsub.Subscribe(ctx, TopicRuns)
}

// StartLogSubscriber consumes TopicRuns and logs each event. It returns
// once the subscription is live; consumption continues until ctx ends.
func (n *Notifier) StartLogSubscriber(ctx context.Context) error {
	msgs, err := n.pubsub.Subscribe(ctx, TopicRuns)
	if err != nil {
		return err
	}
	go func() {
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Warn().Err(err).Msg("Failed to decode event")
				msg.Ack()
				continue
			}
			log := logging.With().Str("event", ev.Kind).Logger()
			switch ev.Kind {
			case EventRunFailed:
				log.Warn().Str("mode", ev.Mode).Str("error", ev.Error).Msg("Run outcome")
			case EventRunSucceeded:
				ev2 := log.Info().Str("mode", ev.Mode)
				if ev.Stats != nil {
					ev2 = ev2.Int("scanned", ev.Stats.Scanned).
						Int("created", ev.Stats.Created).
						Int("updated", ev.Stats.Updated).
						Int("softDeleted", ev.Stats.SoftDeleted)
				}
				ev2.Msg("Run outcome")
			default:
				log.Info().Msg("Run outcome")
			}
			msg.Ack()
		}
	}()
	return nil
}

// Close shuts the pub/sub channel down, ending all subscriptions.
func (n *Notifier) Close() error {
	return n.pubsub.Close()
}
