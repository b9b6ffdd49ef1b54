package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// RunStatus is the state of a batch run.
type RunStatus string

const (
	RunStatusSubmitted  RunStatus = "submitted"
	RunStatusLoading    RunStatus = "loading"
	RunStatusPlanning   RunStatus = "planning"
	RunStatusGenerating RunStatus = "generating"
	RunStatusSaving     RunStatus = "saving"
	RunStatusUploading  RunStatus = "uploading"
	RunStatusComplete   RunStatus = "complete"
	RunStatusPartial    RunStatus = "partial"
	RunStatusFailed     RunStatus = "failed"
)

// RunItem is the stored record of one batch run.
type RunItem struct {
	PK              string  `dynamodbav:"PK"`
	SK              string  `dynamodbav:"SK"`
	GSI1PK          string  `dynamodbav:"GSI1PK"`
	GSI1SK          string  `dynamodbav:"GSI1SK"`
	RunID           string  `dynamodbav:"runId"`
	Locale          string  `dynamodbav:"locale"`
	Kind            string  `dynamodbav:"kind"`
	Model           string  `dynamodbav:"model,omitempty"`
	Status          string  `dynamodbav:"status"`
	ProgressPercent float64 `dynamodbav:"progressPercent,omitempty"`
	StageMessage    string  `dynamodbav:"stageMessage,omitempty"`
	Planned         int     `dynamodbav:"planned,omitempty"`
	Accepted        int     `dynamodbav:"accepted,omitempty"`
	Rejected        int     `dynamodbav:"rejected,omitempty"`
	OutputPath      string  `dynamodbav:"outputPath,omitempty"`
	ReportPath      string  `dynamodbav:"reportPath,omitempty"`
	CostUSD         float64 `dynamodbav:"estimatedCostUSD,omitempty"`
	ErrorMessage    string  `dynamodbav:"errorMessage,omitempty"`
	CreatedAt       string  `dynamodbav:"createdAt"`
}

// RunResult is what a finished run records.
type RunResult struct {
	Planned    int
	Accepted   int
	Rejected   int
	OutputPath string
	ReportPath string
	CostUSD    float64
	Partial    bool
}

// RunStore persists run records.
type RunStore interface {
	CreateRun(ctx context.Context, item RunItem) error
	UpdateProgress(ctx context.Context, id string, status RunStatus, percent float64, message string) error
	CompleteRun(ctx context.Context, id string, r RunResult) error
	FailRun(ctx context.Context, id, errMsg string) error
	GetRun(ctx context.Context, id string) (*RunItem, error)
	ListRuns(ctx context.Context, limit int, cursor string) ([]RunItem, string, error)
}

// NewRunItem fills the keys of a new submitted run.
func NewRunItem(id, locale, kind, model string, now time.Time) RunItem {
	created := now.UTC().Format(time.RFC3339)
	return RunItem{
		PK:        "RUN#" + id,
		SK:        "METADATA",
		GSI1PK:    "RUNS",
		GSI1SK:    created + "#" + id,
		RunID:     id,
		Locale:    locale,
		Kind:      kind,
		Model:     model,
		Status:    string(RunStatusSubmitted),
		CreatedAt: created,
	}
}

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore keeps run records in a single DynamoDB table with a GSI1
// index ordered by creation time.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
}

// NewDynamoStore creates a DynamoDB-backed store.
func NewDynamoStore(client dynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func runKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "RUN#" + id},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

// CreateRun inserts a new run; an existing id is an error.
func (s *DynamoStore) CreateRun(ctx context.Context, item RunItem) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal run item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("put run item: %w", err)
	}
	return nil
}

// UpdateProgress updates the run's status, progress percent, and stage message.
func (s *DynamoStore) UpdateProgress(ctx context.Context, id string, status RunStatus, percent float64, message string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              runKey(id),
		UpdateExpression: aws.String("SET #status = :status, progressPercent = :pct, stageMessage = :msg"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":pct":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%.2f", percent)},
			":msg":    &types.AttributeValueMemberS{Value: message},
		},
	})
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// CompleteRun records the final counts of a run that produced a dataset.
func (s *DynamoStore) CompleteRun(ctx context.Context, id string, r RunResult) error {
	values, err := attributevalue.MarshalMap(map[string]any{
		":status":   string(completedStatus(r)),
		":pct":      1.0,
		":msg":      completedMessage(r),
		":planned":  r.Planned,
		":accepted": r.Accepted,
		":rejected": r.Rejected,
		":out":      r.OutputPath,
		":cost":     r.CostUSD,
	})
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}
	expr := "SET #status = :status, progressPercent = :pct, stageMessage = :msg, planned = :planned, accepted = :accepted, rejected = :rejected, outputPath = :out, estimatedCostUSD = :cost"
	if r.ReportPath != "" {
		expr += ", reportPath = :report"
		values[":report"] = &types.AttributeValueMemberS{Value: r.ReportPath}
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       runKey(id),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// FailRun marks the run as failed with an error message.
func (s *DynamoStore) FailRun(ctx context.Context, id, errMsg string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              runKey(id),
		UpdateExpression: aws.String("SET #status = :status, errorMessage = :err, stageMessage = :msg"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(RunStatusFailed)},
			":err":    &types.AttributeValueMemberS{Value: errMsg},
			":msg":    &types.AttributeValueMemberS{Value: "Failed: " + errMsg},
		},
	})
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return nil
}

// GetRun returns the run with id, or nil when there is none.
func (s *DynamoStore) GetRun(ctx context.Context, id string) (*RunItem, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       runKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var item RunItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &item, nil
}

// ListRuns returns runs newest first via GSI1. cursor is the GSI1SK of the
// last item of the previous page.
func (s *DynamoStore) ListRuns(ctx context.Context, limit int, cursor string) ([]RunItem, string, error) {
	if limit <= 0 {
		limit = 20
	}

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: "RUNS"},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	if cursor != "" {
		parts := strings.SplitN(cursor, "#", 2)
		if len(parts) != 2 {
			return nil, "", fmt.Errorf("invalid cursor format")
		}
		input.ExclusiveStartKey = map[string]types.AttributeValue{
			"PK":     &types.AttributeValueMemberS{Value: "RUN#" + parts[1]},
			"SK":     &types.AttributeValueMemberS{Value: "METADATA"},
			"GSI1PK": &types.AttributeValueMemberS{Value: "RUNS"},
			"GSI1SK": &types.AttributeValueMemberS{Value: cursor},
		}
	}

	result, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("list runs: %w", err)
	}

	var items []RunItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, "", fmt.Errorf("unmarshal run list: %w", err)
	}

	var next string
	if result.LastEvaluatedKey != nil {
		if sk, ok := result.LastEvaluatedKey["GSI1SK"].(*types.AttributeValueMemberS); ok {
			next = sk.Value
		}
	}
	return items, next, nil
}

// MemoryStore is a process-local RunStore for a server without a table.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]*RunItem
	keys map[string]*APIKeyRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: map[string]*RunItem{}, keys: map[string]*APIKeyRecord{}}
}

func (s *MemoryStore) CreateRun(ctx context.Context, item RunItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[item.RunID]; ok {
		return fmt.Errorf("run %s already exists", item.RunID)
	}
	s.runs[item.RunID] = &item
	return nil
}

func (s *MemoryStore) update(id string, fn func(*RunItem)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	fn(item)
	return nil
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, id string, status RunStatus, percent float64, message string) error {
	return s.update(id, func(item *RunItem) {
		item.Status, item.ProgressPercent, item.StageMessage = string(status), percent, message
	})
}

func (s *MemoryStore) CompleteRun(ctx context.Context, id string, r RunResult) error {
	return s.update(id, func(item *RunItem) {
		item.Status = string(completedStatus(r))
		item.ProgressPercent = 1
		item.StageMessage = completedMessage(r)
		item.Planned, item.Accepted, item.Rejected = r.Planned, r.Accepted, r.Rejected
		item.OutputPath, item.ReportPath, item.CostUSD = r.OutputPath, r.ReportPath, r.CostUSD
	})
}

func (s *MemoryStore) FailRun(ctx context.Context, id, errMsg string) error {
	return s.update(id, func(item *RunItem) {
		item.Status = string(RunStatusFailed)
		item.ErrorMessage = errMsg
		item.StageMessage = "Failed: " + errMsg
	})
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*RunItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, limit int, cursor string) ([]RunItem, string, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	items := make([]RunItem, 0, len(s.runs))
	for _, item := range s.runs {
		items = append(items, *item)
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].GSI1SK > items[j].GSI1SK })
	if cursor != "" {
		i := sort.Search(len(items), func(i int) bool { return items[i].GSI1SK < cursor })
		items = items[i:]
	}
	var next string
	if len(items) > limit {
		items = items[:limit]
		next = items[limit-1].GSI1SK
	}
	return items, next, nil
}

func completedStatus(r RunResult) RunStatus {
	if r.Partial {
		return RunStatusPartial
	}
	return RunStatusComplete
}

func completedMessage(r RunResult) string {
	msg := fmt.Sprintf("%d accepted, %d rejected of %d planned", r.Accepted, r.Rejected, r.Planned)
	if r.Partial {
		msg = "Interrupted: " + msg
	}
	return msg
}
