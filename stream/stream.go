// Package stream provides the DynamoDB Streams handler that delivers queue
// rows expired by DynamoDB TTL.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/kvlens/queue"
	"github.com/jacentio/kvlens/queue/ttlqueue"
)

// ttlPrincipal is the user identity DynamoDB attaches to TTL deletions.
const ttlPrincipal = "dynamodb.amazonaws.com"

// Handler turns TTL removals of queue rows into delivered messages.
type Handler struct {
	deliver queue.Handler
	logger  *slog.Logger
}

// NewHandler creates a new stream handler delivering to deliver.
func NewHandler(deliver queue.Handler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		deliver: deliver,
		logger:  logger,
	}
}

// HandleExpired processes DynamoDB stream events from the queue table.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleExpired(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "REMOVE" || !isTTLDelete(record) {
		return nil
	}
	image := record.Change.OldImage
	if getStringAttr(image, "pk") != ttlqueue.PartitionKey || getNumberAttr(image, "ttl") == 0 {
		return nil
	}

	var row ttlqueue.Row
	if err := attributevalue.UnmarshalMap(ConvertImage(image), &row); err != nil {
		h.logger.Warn("skipping undecodable queue row", "eventID", record.EventID, "error", err)
		return nil
	}
	msg, err := row.Message()
	if err != nil {
		h.logger.Warn("skipping invalid queue row", "eventID", record.EventID, "error", err)
		return nil
	}

	h.logger.Info("delivering expired queue message",
		"id", msg.ID,
		"kind", msg.Kind,
		"exportID", msg.ExportID,
	)
	if err := h.deliver(ctx, msg); err != nil {
		return fmt.Errorf("deliver %s: %w", msg.ID, err)
	}
	return nil
}

// isTTLDelete reports whether a REMOVE event came from TTL expiry rather than
// an explicit delete.
func isTTLDelete(record events.DynamoDBEventRecord) bool {
	return record.UserIdentity != nil &&
		record.UserIdentity.Type == "Service" &&
		record.UserIdentity.PrincipalID == ttlPrincipal
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// ConvertImage converts the scalar attributes of a stream image to SDK
// attribute values so it can be decoded with attributevalue.UnmarshalMap.
// Attributes of other types are dropped.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		case events.DataTypeBoolean:
			result[k] = &types.AttributeValueMemberBOOL{Value: v.Boolean()}
		}
	}
	return result
}
