package mqtt

import (
	"context"
	"time"

	"LinkMonitorAPI/internal/models"
)

// StatusPublisher sends a StatusSummary of every snapshot to a topic.
type StatusPublisher struct {
	client *Client
	topic  string
}

func NewStatusPublisher(client *Client, topic string) *StatusPublisher {
	return &StatusPublisher{client: client, topic: topic}
}

func (p *StatusPublisher) Publish(ctx context.Context, snapshot *models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.client.PublishJSON(p.topic, snapshot.Summary())
}

// ReadingsHandler adapts an ingest function to a MessageHandler. The ingest
// function owns error reporting, so the handler always succeeds.
func ReadingsHandler(ingest func(ctx context.Context, topic string, payload []byte), timeout time.Duration) MessageHandler {
	return func(topic string, payload []byte) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ingest(ctx, topic, payload)
		return nil
	}
}
