package mcpserver

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// API keys look like csk_<64 hex>. The first 8 hex characters are the
// lookup id; only the SHA-256 of the whole key is stored.
const (
	apiKeyPrefix = "csk_"
	keyIDLen     = 8

	KeyActive  = "active"
	KeyRevoked = "revoked"
)

var (
	ErrNoAPIKey      = errors.New("missing API key")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// APIKeyRecord is the stored form of an API key.
type APIKeyRecord struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	KeyID      string `dynamodbav:"keyId"`
	Name       string `dynamodbav:"name"`
	KeyHash    string `dynamodbav:"keyHash"`
	Status     string `dynamodbav:"status"`
	CreatedAt  string `dynamodbav:"createdAt"`
	LastUsedAt string `dynamodbav:"lastUsedAt,omitempty"`
}

// KeyStore persists API key records.
type KeyStore interface {
	PutKey(ctx context.Context, rec APIKeyRecord) error
	GetKey(ctx context.Context, keyID string) (*APIKeyRecord, error)
	RevokeKey(ctx context.Context, keyID string) error
	TouchKey(ctx context.Context, keyID string, now time.Time) error
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NewAPIKey generates a key for name. The plaintext is returned once and
// never stored.
func NewAPIKey(name string, now time.Time) (string, APIKeyRecord, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", APIKeyRecord{}, fmt.Errorf("generate key: %w", err)
	}
	key := apiKeyPrefix + hex.EncodeToString(raw)
	id := key[len(apiKeyPrefix) : len(apiKeyPrefix)+keyIDLen]
	return key, APIKeyRecord{
		PK:        "APIKEY#" + id,
		SK:        "METADATA",
		KeyID:     id,
		Name:      name,
		KeyHash:   hashKey(key),
		Status:    KeyActive,
		CreatedAt: now.UTC().Format(time.RFC3339),
	}, nil
}

// CreateAPIKey generates and stores a key, returning the plaintext.
func CreateAPIKey(ctx context.Context, ks KeyStore, name string) (string, APIKeyRecord, error) {
	key, rec, err := NewAPIKey(name, time.Now())
	if err != nil {
		return "", rec, err
	}
	if err := ks.PutKey(ctx, rec); err != nil {
		return "", rec, err
	}
	return key, rec, nil
}

// Principal is the key a request authenticated with.
type Principal struct {
	KeyID string
	Name  string
}

type authKey struct{}

type authResult struct {
	principal Principal
	err       error
}

// Authenticator checks bearer API keys against a KeyStore.
type Authenticator struct {
	keys KeyStore
	now  func() time.Time
}

func NewAuthenticator(keys KeyStore) *Authenticator {
	return &Authenticator{keys: keys, now: time.Now}
}

// Validate resolves an Authorization header value to a Principal.
func (a *Authenticator) Validate(ctx context.Context, header string) (Principal, error) {
	key := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "Bearer "))
	if key == "" {
		return Principal{}, ErrNoAPIKey
	}
	if !strings.HasPrefix(key, apiKeyPrefix) || len(key) < len(apiKeyPrefix)+keyIDLen {
		return Principal{}, ErrInvalidAPIKey
	}
	id := key[len(apiKeyPrefix) : len(apiKeyPrefix)+keyIDLen]

	rec, err := a.keys.GetKey(ctx, id)
	if err != nil {
		return Principal{}, fmt.Errorf("look up API key: %w", err)
	}
	if rec == nil || subtle.ConstantTimeCompare([]byte(rec.KeyHash), []byte(hashKey(key))) != 1 {
		return Principal{}, ErrInvalidAPIKey
	}
	if rec.Status != KeyActive {
		return Principal{}, fmt.Errorf("API key %s is %s", id, rec.Status)
	}

	// Last-used is informational; a failed write does not fail the request.
	_ = a.keys.TouchKey(ctx, id, a.now())
	return Principal{KeyID: id, Name: rec.Name}, nil
}

// HTTPContext authenticates the HTTP request behind an MCP call and stores
// the outcome in ctx for the tool handlers.
func (a *Authenticator) HTTPContext(ctx context.Context, r *http.Request) context.Context {
	p, err := a.Validate(ctx, r.Header.Get("Authorization"))
	return context.WithValue(ctx, authKey{}, authResult{principal: p, err: err})
}

// PrincipalFromContext returns the authenticated caller of a tool call.
func PrincipalFromContext(ctx context.Context) (Principal, error) {
	res, ok := ctx.Value(authKey{}).(authResult)
	if !ok {
		return Principal{}, ErrNoAPIKey
	}
	return res.principal, res.err
}

// guard rejects tool calls without a valid key. A nil Authenticator leaves
// the server open.
func guard(a *Authenticator, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	if a == nil {
		return next
	}
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := PrincipalFromContext(ctx); err != nil {
			return mcp.NewToolResultError("unauthorized: " + err.Error()), nil
		}
		return next(ctx, req)
	}
}

func keyItemKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "APIKEY#" + id},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

func (s *DynamoStore) PutKey(ctx context.Context, rec APIKeyRecord) error {
	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal API key: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("put API key: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetKey(ctx context.Context, id string) (*APIKeyRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{TableName: &s.tableName, Key: keyItemKey(id)})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	var rec APIKeyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal API key: %w", err)
	}
	return &rec, nil
}

func (s *DynamoStore) RevokeKey(ctx context.Context, id string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      keyItemKey(id),
		UpdateExpression:         aws.String("SET #status = :revoked"),
		ConditionExpression:      aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":revoked": &types.AttributeValueMemberS{Value: KeyRevoked},
		},
	})
	if err != nil {
		return fmt.Errorf("revoke API key %s: %w", id, err)
	}
	return nil
}

// TouchKey records use at most once a minute to avoid a write per call.
func (s *DynamoStore) TouchKey(ctx context.Context, id string, now time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyItemKey(id),
		UpdateExpression:    aws.String("SET lastUsedAt = :now"),
		ConditionExpression: aws.String("attribute_not_exists(lastUsedAt) OR lastUsedAt < :threshold"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":       &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
			":threshold": &types.AttributeValueMemberS{Value: now.UTC().Add(-time.Minute).Format(time.RFC3339)},
		},
	})
	return err
}

func (s *MemoryStore) PutKey(ctx context.Context, rec APIKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[rec.KeyID]; ok {
		return fmt.Errorf("API key %s already exists", rec.KeyID)
	}
	s.keys[rec.KeyID] = &rec
	return nil
}

func (s *MemoryStore) GetKey(ctx context.Context, id string) (*APIKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) RevokeKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[id]
	if !ok {
		return fmt.Errorf("API key %s not found", id)
	}
	rec.Status = KeyRevoked
	return nil
}

func (s *MemoryStore) TouchKey(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.keys[id]; ok {
		rec.LastUsedAt = now.UTC().Format(time.RFC3339)
	}
	return nil
}

// ImportKeys stores plaintext keys, e.g. from the environment, so a server
// without a table can still require auth.
func (s *MemoryStore) ImportKeys(keys []string, now time.Time) error {
	for i, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !strings.HasPrefix(key, apiKeyPrefix) || len(key) < len(apiKeyPrefix)+keyIDLen {
			return fmt.Errorf("key %d: %w", i+1, ErrInvalidAPIKey)
		}
		id := key[len(apiKeyPrefix) : len(apiKeyPrefix)+keyIDLen]
		err := s.PutKey(context.Background(), APIKeyRecord{
			PK:        "APIKEY#" + id,
			SK:        "METADATA",
			KeyID:     id,
			Name:      fmt.Sprintf("env-%d", i+1),
			KeyHash:   hashKey(key),
			Status:    KeyActive,
			CreatedAt: now.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
