package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/value"
)

// DynamoAPI is the subset of the DynamoDB client used by Dynamo.
// *dynamodb.Client satisfies it.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Dynamo is a Store backed by a single DynamoDB table. Entries of one
// connection share the partition key and sort by their encoded key.
type Dynamo struct {
	client DynamoAPI
	config DynamoConfig
	now    func() time.Time
}

// NewDynamo creates a new Dynamo store.
func NewDynamo(client DynamoAPI, config DynamoConfig) *Dynamo {
	config.validate()
	return &Dynamo{
		client: client,
		config: config,
		now:    time.Now,
	}
}

// Config returns the effective configuration.
func (s *Dynamo) Config() DynamoConfig {
	return s.config
}

func (s *Dynamo) itemKey(enc []byte) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: s.config.Namespace},
		"sk": &types.AttributeValueMemberB{Value: enc},
	}
}

// Get retrieves an entry by key, returning ErrNotFound if expired or missing.
func (s *Dynamo) Get(ctx context.Context, k key.Key) (*Entry, error) {
	enc, err := key.Encode(k)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            s.itemKey(enc),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapError(err)
	}
	if result.Item == nil || IsExpired(result.Item, s.now()) {
		return nil, ErrNotFound
	}

	entry, _, err := s.unmarshalEntry(result.Item)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Set writes an entry and increments its version.
func (s *Dynamo) Set(ctx context.Context, k key.Key, v value.Value, opts SetOptions) (Versionstamp, error) {
	enc, err := key.Encode(k)
	if err != nil {
		return "", err
	}
	attr, err := marshalValue(v)
	if err != nil {
		return "", err
	}

	now := s.now()
	setClauses := []string{"#vt = :vt", "#v = :v", "#updated_at = :updated_at"}
	exprNames := map[string]string{
		"#vt":         "vt",
		"#v":          "v",
		"#updated_at": "updated_at",
		"#version":    "version",
	}
	exprValues := map[string]types.AttributeValue{
		":vt":         &types.AttributeValueMemberS{Value: v.Kind().String()},
		":v":          attr,
		":updated_at": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		":one":        &types.AttributeValueMemberN{Value: "1"},
	}

	updateExpr := ""
	if opts.ExpireIn > 0 {
		exprNames["#ttl"] = "ttl"
		exprValues[":ttl"] = &types.AttributeValueMemberN{
			Value: strconv.FormatInt(now.Add(opts.ExpireIn).Unix(), 10),
		}
		setClauses = append(setClauses, "#ttl = :ttl")
		updateExpr = "SET " + joinStrings(setClauses, ", ")
	} else {
		exprNames["#ttl"] = "ttl"
		updateExpr = "SET " + joinStrings(setClauses, ", ") + " REMOVE #ttl"
	}
	updateExpr += " ADD #version :one"

	input := &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.config.Table),
		Key:              s.itemKey(enc),
		UpdateExpression: aws.String(updateExpr),
		ReturnValues:     types.ReturnValueUpdatedNew,
	}

	switch {
	case opts.IfAbsent:
		input.ConditionExpression = aws.String(AbsentCondition())
		exprValues = mergeExprValues(exprValues, TTLFilterValues(now))
	case opts.IfVersion != "":
		expected, err := opts.IfVersion.Version()
		if err != nil {
			return "", fmt.Errorf("%w: versionstamp %q", ErrConditionFailed, opts.IfVersion)
		}
		input.ConditionExpression = aws.String("#version = :expected_version AND (" + TTLFilterExpr() + ")")
		exprValues[":expected_version"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)}
		exprValues = mergeExprValues(exprValues, TTLFilterValues(now))
	}
	input.ExpressionAttributeNames = mergeExprNames(exprNames, TTLFilterNames())
	input.ExpressionAttributeValues = exprValues

	result, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return "", mapError(err)
	}

	var version int64
	if n, ok := result.Attributes["version"].(*types.AttributeValueMemberN); ok {
		version, _ = strconv.ParseInt(n.Value, 10, 64)
	}
	return NewVersionstamp(version), nil
}

// Delete removes an entry. Missing entries are ignored.
func (s *Dynamo) Delete(ctx context.Context, k key.Key) error {
	enc, err := key.Encode(k)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.Table),
		Key:       s.itemKey(enc),
	})
	return mapError(err)
}

// List queries one page of live entries within r with automatic TTL filtering.
func (s *Dynamo) List(ctx context.Context, r Range, opts ListOptions) (*Page, error) {
	r, err := r.Resume(opts.Cursor, opts.Reverse)
	if err != nil {
		return nil, err
	}
	limit := opts.PageSize()
	if r.Empty() {
		return &Page{Done: true}, nil
	}

	now := s.now()
	queryInput := &dynamodb.QueryInput{
		TableName:              aws.String(s.config.Table),
		KeyConditionExpression: aws.String("#pk = :pk AND #sk BETWEEN :lo AND :hi"),
		FilterExpression:       aws.String(TTLFilterExpr()),
		ExpressionAttributeNames: mergeExprNames(map[string]string{
			"#pk": "pk",
			"#sk": "sk",
		}, TTLFilterNames()),
		ExpressionAttributeValues: mergeExprValues(map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: s.config.Namespace},
			":lo": &types.AttributeValueMemberB{Value: r.Lower},
			":hi": &types.AttributeValueMemberB{Value: r.Upper},
		}, TTLFilterValues(now)),
		ScanIndexForward: aws.Bool(!opts.Reverse),
		ConsistentRead:   aws.Bool(true),
	}

	// Collect one entry past the page to know whether the range is exhausted.
	var (
		entries []Entry
		encoded [][]byte
	)
	for len(entries) <= limit {
		queryInput.Limit = aws.Int32(int32(limit + 1 - len(entries)))
		if s.config.QueryPageSize > 0 {
			queryInput.Limit = aws.Int32(s.config.QueryPageSize)
		}

		page, err := s.client.Query(ctx, queryInput)
		if err != nil {
			return nil, mapError(err)
		}
		for _, raw := range page.Items {
			entry, enc, err := s.unmarshalEntry(raw)
			if err != nil {
				return nil, err
			}
			// BETWEEN is inclusive on both ends; the upper bound is not.
			if bytes.Equal(enc, r.Upper) {
				continue
			}
			entries = append(entries, *entry)
			encoded = append(encoded, enc)
		}
		if page.LastEvaluatedKey == nil {
			break
		}
		queryInput.ExclusiveStartKey = page.LastEvaluatedKey
	}

	result := &Page{Done: len(entries) <= limit}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	result.Entries = entries
	if len(entries) > 0 {
		result.Cursor = EncodeCursor(encoded[len(entries)-1])
	}
	return result, nil
}

// unmarshalEntry converts a DynamoDB item to an Entry and its encoded key.
func (s *Dynamo) unmarshalEntry(raw map[string]types.AttributeValue) (*Entry, []byte, error) {
	sk, ok := raw["sk"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, nil, fmt.Errorf("%w: item without binary sort key", key.ErrInvalidEncoding)
	}
	k, err := key.Decode(sk.Value)
	if err != nil {
		return nil, nil, err
	}

	entry := &Entry{Key: k}
	if vt, ok := raw["vt"].(*types.AttributeValueMemberS); ok {
		kind, err := value.ParseKind(vt.Value)
		if err != nil {
			return nil, nil, err
		}
		if entry.Value, err = unmarshalValue(kind, raw["v"]); err != nil {
			return nil, nil, err
		}
	}
	if v, ok := raw["version"].(*types.AttributeValueMemberN); ok {
		version, _ := strconv.ParseInt(v.Value, 10, 64)
		entry.Versionstamp = NewVersionstamp(version)
	}
	if at, ok := ExpiresAt(raw); ok {
		entry.ExpiresAt = at
	}
	return entry, sk.Value, nil
}

// marshalValue maps a value to its DynamoDB attribute. Numbers are stored
// as text to keep float64 range and precision intact.
func marshalValue(v value.Value) (types.AttributeValue, error) {
	switch v.Kind() {
	case value.KindString:
		return &types.AttributeValueMemberS{Value: v.Str()}, nil
	case value.KindNumber:
		return &types.AttributeValueMemberS{Value: strconv.FormatFloat(v.Num(), 'g', -1, 64)}, nil
	case value.KindBigInt:
		return &types.AttributeValueMemberS{Value: v.Big().String()}, nil
	case value.KindBool:
		return &types.AttributeValueMemberBOOL{Value: v.Bool()}, nil
	case value.KindBytes:
		return &types.AttributeValueMemberB{Value: v.Raw()}, nil
	case value.KindDate:
		return &types.AttributeValueMemberS{Value: v.Time().UTC().Format(time.RFC3339Nano)}, nil
	case value.KindJSON:
		av, err := attributevalue.Marshal(v.Doc())
		if err != nil {
			return nil, fmt.Errorf("marshal json value: %w", err)
		}
		return av, nil
	default:
		return nil, fmt.Errorf("%w: cannot store zero value", value.ErrInvalidValue)
	}
}

func unmarshalValue(kind value.Kind, av types.AttributeValue) (value.Value, error) {
	text := func() (string, error) {
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("%w: %s attribute is not a string", value.ErrInvalidValue, kind)
		}
		return s.Value, nil
	}

	switch kind {
	case value.KindString:
		s, err := text()
		return value.String(s), err
	case value.KindNumber:
		s, err := text()
		if err != nil {
			return value.Value{}, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return value.Value{}, fmt.Errorf("%w: %v", value.ErrInvalidValue, err)
		}
		return value.Number(f), nil
	case value.KindBigInt:
		s, err := text()
		if err != nil {
			return value.Value{}, err
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return value.Value{}, fmt.Errorf("%w: %q is not an integer", value.ErrInvalidValue, s)
		}
		return value.BigInt(n), nil
	case value.KindBool:
		b, ok := av.(*types.AttributeValueMemberBOOL)
		if !ok {
			return value.Value{}, fmt.Errorf("%w: boolean attribute expected", value.ErrInvalidValue)
		}
		return value.Bool(b.Value), nil
	case value.KindBytes:
		b, ok := av.(*types.AttributeValueMemberB)
		if !ok {
			return value.Value{}, fmt.Errorf("%w: binary attribute expected", value.ErrInvalidValue)
		}
		return value.Bytes(b.Value), nil
	case value.KindDate:
		s, err := text()
		if err != nil {
			return value.Value{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return value.Value{}, fmt.Errorf("%w: %v", value.ErrInvalidValue, err)
		}
		return value.Date(t), nil
	case value.KindJSON:
		var doc any
		if err := attributevalue.Unmarshal(av, &doc); err != nil {
			return value.Value{}, fmt.Errorf("%w: %v", value.ErrInvalidValue, err)
		}
		return value.JSON(doc), nil
	default:
		return value.Value{}, fmt.Errorf("%w: unsupported kind %s", value.ErrInvalidValue, kind)
	}
}

// mapError maps DynamoDB errors to store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrConditionFailed
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var internal *types.InternalServerError
	if errors.As(err, &internal) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// joinStrings joins strings with a separator (avoiding strings package import).
func joinStrings(strs []string, sep string) string {
	if len(strs) == 0 {
		return ""
	}
	result := strs[0]
	for _, s := range strs[1:] {
		result += sep + s
	}
	return result
}
