// File: internal/escalation/sinks.go
package escalation

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// Uploader is the object-store sink: it either stores the object under the
// given key or reports failure. The monitor treats it as a black box.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// Notification is the payload published to the downstream channel after a
// successful upload.
type Notification struct {
	Subject    string
	Body       string
	Attributes map[string]string
}

// Notifier is the notification sink. Publish failures are logged by the
// caller but never affect upload or cleanup outcomes.
type Notifier interface {
	Publish(ctx context.Context, n Notification) (string, error)
}

// S3Uploader implements Uploader against an S3 bucket.
type S3Uploader struct {
	client *s3.Client
	bucket string
}

// NewS3Uploader constructs an uploader using the default AWS credential
// chain for the given region.
func NewS3Uploader(ctx context.Context, region, bucket string, logger *zap.Logger) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	logger.Info("S3 upload enabled", zap.String("bucket", bucket), zap.String("region", region))
	return &S3Uploader{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// Upload stores one object.
func (u *S3Uploader) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

// Bucket returns the target bucket name, used when rendering s3:// paths.
func (u *S3Uploader) Bucket() string {
	return u.bucket
}

// SNSNotifier implements Notifier against an SNS topic.
type SNSNotifier struct {
	client   *sns.Client
	topicARN string
}

// NewSNSNotifier constructs a notifier for the given topic.
func NewSNSNotifier(ctx context.Context, region, topicARN string, logger *zap.Logger) (*SNSNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	logger.Info("SNS notifications enabled", zap.String("topic_arn", topicARN))
	return &SNSNotifier{client: sns.NewFromConfig(cfg), topicARN: topicARN}, nil
}

// Publish sends one notification and returns the provider message id.
func (n *SNSNotifier) Publish(ctx context.Context, note Notification) (string, error) {
	attributes := make(map[string]snstypes.MessageAttributeValue, len(note.Attributes))
	for key, value := range note.Attributes {
		attributes[key] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}

	out, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(n.topicARN),
		Subject:           aws.String(note.Subject),
		Message:           aws.String(note.Body),
		MessageAttributes: attributes,
	})
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
