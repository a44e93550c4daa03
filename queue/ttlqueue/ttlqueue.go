// Package ttlqueue schedules deferred work as DynamoDB rows whose TTL is the
// delivery time. When DynamoDB expires a row, the table's stream carries the
// REMOVE event to a stream.Handler, which delivers the message.
//
// DynamoDB deletes expired rows on a best-effort schedule, usually within a
// few minutes of the TTL but sometimes later. Delivery is at least the
// requested delay, never earlier.
package ttlqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/kvlens/queue"
)

// PartitionKey is the pk of every queue row.
const PartitionKey = "kvlens#queue"

// DynamoAPI is the subset of the DynamoDB client used by Queue.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Config configures a Queue.
type Config struct {
	// Table is the queue table. It must have TTL enabled on "ttl" and a
	// stream with OLD_IMAGE or NEW_AND_OLD_IMAGES.
	// Default: "kvlens_queue"
	Table string
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{Table: "kvlens_queue"}
}

func (c *Config) validate() {
	if c.Table == "" {
		c.Table = DefaultConfig().Table
	}
}

// Row is the stored form of a queued message.
type Row struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	Kind      string `dynamodbav:"kind"`
	Session   string `dynamodbav:"session"`
	ExportID  string `dynamodbav:"export_id"`
	Path      string `dynamodbav:"path,omitempty"`
	NotBefore string `dynamodbav:"not_before"`
	TTL       int64  `dynamodbav:"ttl"`
}

// NewRow converts msg to its stored form.
func NewRow(msg queue.Message) Row {
	return Row{
		PK:        PartitionKey,
		SK:        msg.ID,
		Kind:      string(msg.Kind),
		Session:   msg.Session,
		ExportID:  msg.ExportID,
		Path:      msg.Path,
		NotBefore: msg.NotBefore.UTC().Format(time.RFC3339Nano),
		TTL:       msg.NotBefore.Unix(),
	}
}

// Message converts a stored row back to a message.
func (r Row) Message() (queue.Message, error) {
	if r.PK != PartitionKey || r.SK == "" || r.Kind == "" {
		return queue.Message{}, fmt.Errorf("%w: not a queue row", queue.ErrInvalidMessage)
	}
	notBefore, err := time.Parse(time.RFC3339Nano, r.NotBefore)
	if err != nil {
		notBefore = time.Unix(r.TTL, 0).UTC()
	}
	return queue.Message{
		ID:        r.SK,
		Kind:      queue.Kind(r.Kind),
		Session:   r.Session,
		ExportID:  r.ExportID,
		Path:      r.Path,
		NotBefore: notBefore,
	}, nil
}

// Queue implements queue.Enqueuer with TTL rows.
type Queue struct {
	client DynamoAPI
	config Config
	now    func() time.Time
}

// New creates a Queue.
func New(client DynamoAPI, cfg Config) *Queue {
	cfg.validate()
	return &Queue{client: client, config: cfg, now: time.Now}
}

// Config returns the validated configuration.
func (q *Queue) Config() Config {
	return q.config
}

// Enqueue writes msg as a row expiring after delay. Writing the same message
// id twice fails with queue.ErrDuplicate.
func (q *Queue) Enqueue(ctx context.Context, msg queue.Message, delay time.Duration) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if delay < 0 {
		delay = 0
	}
	msg.NotBefore = q.now().Add(delay)

	item, err := attributevalue.MarshalMap(NewRow(msg))
	if err != nil {
		return fmt.Errorf("marshal queue row: %w", err)
	}
	_, err = q.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(q.config.Table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(sk)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s", queue.ErrDuplicate, msg.ID)
		}
		return fmt.Errorf("put queue row %s: %w", msg.ID, err)
	}
	return nil
}
