package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"oidcstore/application/ports"
)

// eventSource identifies this service in published events.
const eventSource = "oidcstore"

// Publisher implements the EventPublisher port on AWS EventBridge.
type Publisher struct {
	client       *eventbridge.Client
	eventBusName string
	logger       *zap.Logger
}

// NewPublisher creates an EventBridge publisher for the given bus.
func NewPublisher(client *eventbridge.Client, eventBusName string, logger *zap.Logger) ports.EventPublisher {
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		logger:       logger,
	}
}

// Publish sends one event. The detail value is serialized to JSON.
func (p *Publisher) Publish(ctx context.Context, detailType string, detail interface{}) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{
			{
				EventBusName: aws.String(p.eventBusName),
				Source:       aws.String(eventSource),
				DetailType:   aws.String(detailType),
				Detail:       aws.String(string(data)),
				Time:         aws.Time(time.Now().UTC()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("publish event %s: %w", detailType, err)
	}
	if result.FailedEntryCount > 0 {
		entry := result.Entries[0]
		return fmt.Errorf("publish event %s: %s (%s)",
			detailType, aws.ToString(entry.ErrorMessage), aws.ToString(entry.ErrorCode))
	}

	p.logger.Debug("event published",
		zap.String("detailType", detailType),
		zap.String("eventBus", p.eventBusName),
	)
	return nil
}
