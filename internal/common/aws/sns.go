// internal/common/aws/sns.go
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"order-workers/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the part of the SNS client the publisher needs.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// EventPublisher sends order events to downstream consumers.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) (string, error)
}

// SNSPublisher publishes order events to one SNS topic.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
}

func NewSNSClient(ctx context.Context, region string) (*sns.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return sns.NewFromConfig(cfg), nil
}

func NewSNSPublisher(client SNSAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

// PublishOrderEvent returns the SNS message id. FIFO topics get the
// conversation as message group and the chat message id for deduplication.
func (p *SNSPublisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent) (string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode order event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Type)),
			},
			"conversationId": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.ConversationID),
			},
		},
	}
	if strings.HasSuffix(p.topicARN, ".fifo") {
		input.MessageGroupId = aws.String(event.ConversationID)
		input.MessageDeduplicationId = aws.String(event.MessageID)
	}

	out, err := p.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("publish %s for order %s: %w", event.Type, event.OrderID, err)
	}
	return aws.ToString(out.MessageId), nil
}

// NoopPublisher drops events; used when SNS is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderEvent(context.Context, models.OrderEvent) (string, error) {
	return "", nil
}
