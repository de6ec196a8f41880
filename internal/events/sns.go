package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSPublisher mirrors refill and billing events onto an SNS topic so
// operational consumers (pagers, spreadsheets) can subscribe without
// touching the analytics pipeline.
type SNSPublisher struct {
	client   *sns.Client
	topicArn string
}

func NewSNSPublisher(ctx context.Context, region, topicArn string) (*SNSPublisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSPublisher{client: sns.NewFromConfig(cfg), topicArn: topicArn}, nil
}

func NewSNSPublisherWithConfig(cfg aws.Config, topicArn string) *SNSPublisher {
	return &SNSPublisher{client: sns.NewFromConfig(cfg), topicArn: topicArn}
}

func (p *SNSPublisher) Publish(ctx context.Context, events ...Event) error {
	for _, event := range events {
		message, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}

		input := &sns.PublishInput{
			TopicArn: aws.String(p.topicArn),
			Message:  aws.String(string(message)),
			MessageAttributes: map[string]snstypes.MessageAttributeValue{
				"EventType": {
					DataType:    aws.String("String"),
					StringValue: aws.String(event.Type),
				},
			},
		}
		if event.AccountID != "" {
			input.MessageAttributes["AccountID"] = snstypes.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(event.AccountID),
			}
		}

		if _, err := p.client.Publish(ctx, input); err != nil {
			return fmt.Errorf("publish event: %w", err)
		}
	}
	return nil
}

// Fanout publishes to several backends, returning the first error after
// attempting all of them.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, events ...Event) error {
	var firstErr error
	for _, p := range f {
		if err := p.Publish(ctx, events...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
