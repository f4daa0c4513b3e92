package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/crawler"
)

// OutcomeMessage is the JSON body published for each outcome.
type OutcomeMessage struct {
	Target    string         `json:"target"`
	Code      string         `json:"code"`
	StatusID  int64          `json:"status_id,omitempty"`
	Condition map[string]any `json:"condition,omitempty"`
	Status    CrawlerStatus  `json:"crawler_status"`
}

// PubSubSink publishes outcomes to a Pub/Sub topic.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	owned  bool
	logger *zap.Logger
}

// NewPubSubSink opens a client for projectID and verifies topicID exists.
func NewPubSubSink(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	sink, err := newPubSubSink(ctx, client, topicID, logger)
	if err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("close pubsub client", zap.Error(cerr))
		}
		return nil, err
	}
	sink.owned = true
	return sink, nil
}

func newPubSubSink(ctx context.Context, client *pubsub.Client, topicID string, logger *zap.Logger) (*PubSubSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}
	return &PubSubSink{client: client, topic: topic, logger: logger}, nil
}

// Record publishes the outcome and waits for the server id.
func (s *PubSubSink) Record(ctx context.Context, o crawler.Outcome) error {
	data, err := json.Marshal(OutcomeMessage{
		Target:    o.Target,
		Code:      o.Code,
		StatusID:  o.StatusID,
		Condition: o.Condition,
		Status:    StatusFromOutcome(o),
	})
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	res := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"target": o.Target,
			"state":  strconv.Itoa(int(o.State)),
		},
	})
	id, err := res.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	s.logger.Debug("outcome published", zap.String("message_id", id), zap.String("target", o.Target))
	return nil
}

// Close flushes pending messages and closes the client when the sink owns it.
func (s *PubSubSink) Close() error {
	s.topic.Stop()
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
