package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

// SNSDispatcher publishes notification requests to SNS. Ordinary alerts go
// to the alert topic; escalations go to a dedicated escalation topic so
// higher-priority subscribers (pager duty rotations) can bind there.
type SNSDispatcher struct {
	svc                *sns.Client
	alertTopicArn      string
	escalationTopicArn string
}

var _ Dispatcher = (*SNSDispatcher)(nil)

// NewSNSDispatcher creates an SNS-backed dispatcher
func NewSNSDispatcher(ctx context.Context, region, alertTopicArn, escalationTopicArn string) (*SNSDispatcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return &SNSDispatcher{
		svc:                sns.NewFromConfig(cfg),
		alertTopicArn:      alertTopicArn,
		escalationTopicArn: escalationTopicArn,
	}, nil
}

// Dispatch publishes one notification request. The request rides in the
// message body as JSON; severity and channels go into message attributes so
// subscriptions can filter without parsing the body.
func (d *SNSDispatcher) Dispatch(ctx context.Context, req *models.NotificationRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal notification request: %w", err)
	}

	topicArn := d.alertTopicArn
	subject := fmt.Sprintf("Fleet alert [%s] device %s", req.Severity, req.DeviceID)
	if req.Escalation {
		topicArn = d.escalationTopicArn
		subject = fmt.Sprintf("ESCALATION [%s] device %s", req.Severity, req.DeviceID)
	}

	out, err := d.svc.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(req.Severity)),
			},
			"channels": {
				DataType:    aws.String("String"),
				StringValue: aws.String(strings.Join(req.Channels, ",")),
			},
		},
	})
	if err != nil {
		return models.WrapDomain(models.ErrDispatchFailure, err)
	}

	logrus.Debugf("Published notification for alert %s (message id %s)", req.AlertID, aws.ToString(out.MessageId))
	return nil
}
