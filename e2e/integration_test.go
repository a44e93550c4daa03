//go:build e2e

// Package e2e contains end-to-end integration tests using real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/kvlens/audit"
	"github.com/jacentio/kvlens/cache"
	"github.com/jacentio/kvlens/jobs"
	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/list"
	"github.com/jacentio/kvlens/queue"
	"github.com/jacentio/kvlens/queue/ttlqueue"
	"github.com/jacentio/kvlens/session"
	"github.com/jacentio/kvlens/store"
	"github.com/jacentio/kvlens/value"
)

// Table names are unique per test run to avoid conflicts.
const tablePrefix = "kvlens-e2e-test"

var (
	testID       string
	entriesTable string
	queueTable   string

	ddbClient *dynamodb.Client
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	testID = uuid.New().String()[:8]
	entriesTable = fmt.Sprintf("%s-%s-entries", tablePrefix, testID)
	queueTable = fmt.Sprintf("%s-%s-queue", tablePrefix, testID)

	fmt.Printf("Test ID: %s\n", testID)
	fmt.Printf("Tables:\n")
	fmt.Printf("  - Entries: %s\n", entriesTable)
	fmt.Printf("  - Queue: %s\n", queueTable)

	// Uses the default credential chain. KVLENS_E2E_PROFILE picks a shared profile.
	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if profile := os.Getenv("KVLENS_E2E_PROFILE"); profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	ddbClient = dynamodb.NewFromConfig(cfg)

	if err := createTables(ctx); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := deleteTables(ctx); err != nil {
		fmt.Printf("Failed to delete tables: %v\n", err)
	}

	os.Exit(code)
}

func createTables(ctx context.Context) error {
	fmt.Println("Creating test tables...")

	// Entries table (pk namespace, sk encoded key)
	_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(entriesTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeB},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("create entries table: %w", err)
	}

	// Queue table (pk, sk message id)
	_, err = ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(queueTable),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("pk"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("sk"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("pk"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("sk"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeOldImage,
		},
	})
	if err != nil {
		return fmt.Errorf("create queue table: %w", err)
	}

	for _, tableName := range []string{entriesTable, queueTable} {
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", tableName, err)
		}
	}

	fmt.Println("All tables created and active")
	return nil
}

func deleteTables(ctx context.Context) error {
	fmt.Println("Deleting test tables...")

	for _, tableName := range []string{entriesTable, queueTable} {
		_, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", tableName, err)
		}
	}

	fmt.Println("Tables deleted")
	return nil
}

// newStore returns a store on a fresh namespace so tests do not see each other's data.
func newStore(t *testing.T) *store.Dynamo {
	t.Helper()
	return store.NewDynamo(ddbClient, store.DynamoConfig{
		Table:     entriesTable,
		Namespace: t.Name() + "-" + uuid.New().String()[:8],
	})
}

func mustKey(t *testing.T, literal string) key.Key {
	t.Helper()
	k, err := key.Parse(literal)
	if err != nil {
		t.Fatalf("parse %q: %v", literal, err)
	}
	return k
}

// --- Store Tests ---

func TestSetGet_EveryValueKind(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	values := []value.Value{
		value.String("hello"),
		value.Number(3.25),
		value.Bool(true),
		value.Bytes([]byte{1, 2, 3}),
		value.Date(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)),
		value.JSON(map[string]any{"name": "alice", "tags": []any{"a", "b"}}),
	}
	for i, v := range values {
		k := key.Key{key.String("kinds"), key.Number(float64(i))}
		if _, err := s.Set(ctx, k, v, store.SetOptions{}); err != nil {
			t.Fatalf("Set(%s) failed: %v", v.Kind(), err)
		}
		got, err := s.Get(ctx, k)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", v.Kind(), err)
		}
		if value.Render(got.Value) != value.Render(v) {
			t.Errorf("Get(%s) = %q, want %q", v.Kind(), value.Render(got.Value), value.Render(v))
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(context.Background(), mustKey(t, `"missing"`))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSet_Conditions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	k := mustKey(t, `"cond"`)

	v1, err := s.Set(ctx, k, value.String("one"), store.SetOptions{IfAbsent: true})
	if err != nil {
		t.Fatalf("first IfAbsent write failed: %v", err)
	}
	if _, err := s.Set(ctx, k, value.String("two"), store.SetOptions{IfAbsent: true}); !errors.Is(err, store.ErrConditionFailed) {
		t.Errorf("expected ErrConditionFailed, got %v", err)
	}

	v2, err := s.Set(ctx, k, value.String("two"), store.SetOptions{IfVersion: v1})
	if err != nil {
		t.Fatalf("IfVersion write failed: %v", err)
	}
	if v2 <= v1 {
		t.Errorf("versionstamp did not increase: %s -> %s", v1, v2)
	}
	if _, err := s.Set(ctx, k, value.String("three"), store.SetOptions{IfVersion: v1}); !errors.Is(err, store.ErrConditionFailed) {
		t.Errorf("stale version: expected ErrConditionFailed, got %v", err)
	}
}

func TestSet_ExpiryHidesEntry(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	k := mustKey(t, `"short"`)

	if _, err := s.Set(ctx, k, value.String("soon gone"), store.SetOptions{ExpireIn: time.Second}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	entry, err := s.Get(ctx, k)
	if err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}
	if entry.ExpiresAt.IsZero() {
		t.Error("expected ExpiresAt to be set")
	}

	// DynamoDB deletes expired items lazily; reads must filter them.
	time.Sleep(2 * time.Second)
	if _, err := s.Get(ctx, k); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected expired entry to be hidden, got %v", err)
	}

	// An expired entry counts as absent.
	if _, err := s.Set(ctx, k, value.String("back"), store.SetOptions{IfAbsent: true}); err != nil {
		t.Errorf("IfAbsent over expired entry failed: %v", err)
	}
}

func TestList_PagesAndReverse(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for i := 0; i < 25; i++ {
		if _, err := s.Set(ctx, key.Key{key.String("items"), key.Number(float64(i))}, value.Number(float64(i)), store.SetOptions{}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	r, err := store.RangeOf(store.Selector{Prefix: mustKey(t, `"items"`)})
	if err != nil {
		t.Fatalf("RangeOf failed: %v", err)
	}

	var (
		seen   []float64
		cursor string
	)
	for {
		page, err := s.List(ctx, r, store.ListOptions{Limit: 10, Cursor: cursor})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		for _, e := range page.Entries {
			seen = append(seen, e.Key[1].Num())
		}
		if page.Done {
			break
		}
		cursor = page.Cursor
	}
	if len(seen) != 25 {
		t.Fatalf("expected 25 entries, got %d", len(seen))
	}
	for i, n := range seen {
		if n != float64(i) {
			t.Fatalf("entry %d = %v, out of order", i, n)
		}
	}

	page, err := s.List(ctx, r, store.ListOptions{Limit: 3, Reverse: true})
	if err != nil {
		t.Fatalf("reverse List failed: %v", err)
	}
	if got := page.Entries[0].Key[1].Num(); got != 24 {
		t.Errorf("reverse scan starts at %v, want 24", got)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	k := mustKey(t, `"gone"`)

	if _, err := s.Set(ctx, k, value.Bool(true), store.SetOptions{}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx, k); err != nil {
			t.Errorf("Delete #%d failed: %v", i+1, err)
		}
	}
}

// --- Job Tests ---

func TestCopyAll_BetweenNamespaces(t *testing.T) {
	ctx := context.Background()
	src, dst, sys := newStore(t), newStore(t), newStore(t)
	for i := 0; i < 12; i++ {
		if _, err := src.Set(ctx, key.Key{key.String("users"), key.String("u" + strconv.Itoa(i))}, value.Number(float64(i)), store.SetOptions{}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	conns := store.NewRegistry()
	conns.Register(store.Connection{ID: "src", Backend: "dynamodb"}, src)
	conns.Register(store.Connection{ID: "dst", Backend: "dynamodb"}, dst)

	trail := audit.New(sys, audit.DefaultConfig(), nil)
	engine := jobs.NewEngine(jobs.Deps{Connections: conns, Audit: trail}, jobs.Config{BatchSize: 5, Concurrency: 4}, nil)
	sess := session.New("e2e", cache.DefaultConfig())

	report, err := engine.Copy(ctx, sess, jobs.CopyRequest{
		Selection:   jobs.Selection{Target: list.Target{ConnectionID: "src", Prefix: `"users"`}, All: true},
		Destination: "dst",
		Executor:    "e2e",
	})
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if report.State != jobs.StateComplete || report.Succeeded != 12 {
		t.Fatalf("unexpected report: %+v", report)
	}

	res, err := list.NewEngine(conns, nil, list.DefaultConfig(), nil).List(ctx, sess, list.Query{
		Target: list.Target{ConnectionID: "dst", Prefix: `"users"`},
		Show:   20,
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(res.Items) != 12 {
		t.Errorf("destination has %d entries, want 12", len(res.Items))
	}

	records, err := trail.List(ctx, 1)
	if err != nil {
		t.Fatalf("audit List failed: %v", err)
	}
	if len(records) != 1 || records[0].Type != audit.KindCopy {
		t.Errorf("expected one copy audit record, got %+v", records)
	}
}

// --- Queue Tests ---

func TestQueue_EnqueueWritesTTLRow(t *testing.T) {
	ctx := context.Background()
	q := ttlqueue.New(ddbClient, ttlqueue.Config{Table: queueTable})

	msg := queue.NewCleanup("e2e", "export-1", "/tmp/kvlens-export-1.jsonl.zst")
	if err := q.Enqueue(ctx, msg, time.Hour); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, msg, time.Hour); !errors.Is(err, queue.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	out, err := ddbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(queueTable),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: ttlqueue.PartitionKey},
			"sk": &types.AttributeValueMemberS{Value: msg.ID},
		},
	})
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	ttl, ok := out.Item["ttl"].(*types.AttributeValueMemberN)
	if !ok {
		t.Fatal("expected ttl attribute")
	}
	at, _ := strconv.ParseInt(ttl.Value, 10, 64)
	if at <= time.Now().Unix() {
		t.Errorf("ttl %d is not in the future", at)
	}
}
