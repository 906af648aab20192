package dynamodb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"oidcstore/application/ports"
	pkgerrors "oidcstore/pkg/errors"
)

// The backing store pages with an opaque continuation key, not a numeric
// offset. Cursors returned to callers are that key, serialized; the legacy
// (count, offset) surface is emulated by remembering which continuation key
// each previously reached offset maps to. Every key attribute in this
// schema is a string, which keeps the serialized form simple.

// EncodeCursor converts a native continuation key into an opaque cursor.
func EncodeCursor(lastEvaluatedKey map[string]types.AttributeValue) string {
	if len(lastEvaluatedKey) == 0 {
		return ""
	}
	flat := make(map[string]string, len(lastEvaluatedKey))
	for name, av := range lastEvaluatedKey {
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return ""
		}
		flat[name] = s.Value
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor converts an opaque cursor back into a continuation key.
func DecodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}
	data, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, pkgerrors.NewValidationError("invalid pagination cursor")
	}
	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, pkgerrors.NewValidationError("invalid pagination cursor")
	}
	key := make(map[string]types.AttributeValue, len(flat))
	for name, value := range flat {
		key[name] = &types.AttributeValueMemberS{Value: value}
	}
	return key, nil
}

// cursorCache remembers the continuation key each cumulative offset ended
// at, per store instance. The state is process-local: a multi-instance
// deployment must pin offset-based pagination to one instance or switch to
// explicit cursors.
type cursorCache struct {
	mu      sync.Mutex
	cursors map[int]map[string]types.AttributeValue
}

func newCursorCache() *cursorCache {
	return &cursorCache{cursors: make(map[int]map[string]types.AttributeValue)}
}

func (c *cursorCache) get(offset int) (map[string]types.AttributeValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.cursors[offset]
	return key, ok
}

func (c *cursorCache) put(offset int, key map[string]types.AttributeValue) {
	if key == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[offset] = key
}

// lister scans one entity kind out of the shared table with cursor
// pagination and the legacy offset emulation layered on top.
type lister struct {
	client    DynamoDBAPI
	tableName string
	counts    *counter
	cache     *cursorCache
}

func newLister(client DynamoDBAPI, tableName string, counts *counter) *lister {
	return &lister{
		client:    client,
		tableName: tableName,
		counts:    counts,
		cache:     newCursorCache(),
	}
}

// listPage fetches up to the requested count of items of one kind,
// looping native page fetches until the target is met or the table is
// exhausted. Returns the raw items and the final continuation key.
func (l *lister) listPage(ctx context.Context, kind entityKind, opts ports.ListOptions) ([]map[string]types.AttributeValue, map[string]types.AttributeValue, error) {
	startKey, offset, err := l.resolveStart(opts)
	if err != nil {
		return nil, nil, err
	}

	target, err := l.resolveTarget(ctx, kind, opts)
	if err != nil {
		return nil, nil, err
	}

	if target == 0 {
		return nil, startKey, nil
	}

	var items []map[string]types.AttributeValue
	lastKey := startKey
	for {
		// The limit bounds rows scanned, not rows matched, which keeps
		// the continuation key aligned with the last row consumed.
		input := &dynamodb.ScanInput{
			TableName:        aws.String(l.tableName),
			FilterExpression: aws.String("EntityType = :entityType"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":entityType": &types.AttributeValueMemberS{Value: string(kind)},
			},
			ExclusiveStartKey: lastKey,
			Limit:             aws.Int32(int32(target - len(items))),
		}
		result, err := l.client.Scan(ctx, input)
		if err != nil {
			return nil, nil, mapInfrastructureError("list scan", err)
		}

		for _, raw := range result.Items {
			if len(items) >= target {
				break
			}
			items = append(items, raw)
		}

		lastKey = result.LastEvaluatedKey
		if len(items) >= target || lastKey == nil {
			break
		}
	}

	if lastKey != nil {
		l.cache.put(target+offset, lastKey)
	}
	return items, lastKey, nil
}

// resolveStart turns the caller's cursor or offset into a native
// continuation key. Offsets that were never reached by sequential paging
// fail outright: silently restarting from the beginning would return
// duplicate rows and hide the limitation.
func (l *lister) resolveStart(opts ports.ListOptions) (map[string]types.AttributeValue, int, error) {
	if opts.Cursor != "" {
		key, err := DecodeCursor(opts.Cursor)
		return key, l.offsetOrZero(opts), err
	}

	offset := l.offsetOrZero(opts)
	if offset == 0 {
		return nil, 0, nil
	}
	key, ok := l.cache.get(offset)
	if !ok {
		return nil, 0, pkgerrors.NewValidationError(
			fmt.Sprintf("offset %d was not reached by sequential paging; only previously seen offsets are supported", offset))
	}
	return key, offset, nil
}

func (l *lister) offsetOrZero(opts ports.ListOptions) int {
	if opts.Offset == nil {
		return 0
	}
	if *opts.Offset < 0 {
		return 0
	}
	return *opts.Offset
}

// resolveTarget picks the page size: the caller's count, or the
// approximate total when no count was given.
func (l *lister) resolveTarget(ctx context.Context, kind entityKind, opts ports.ListOptions) (int, error) {
	if opts.Count != nil {
		if *opts.Count < 0 {
			return 0, pkgerrors.NewValidationError("count cannot be negative")
		}
		return *opts.Count, nil
	}
	approx, err := l.counts.read(ctx, kind)
	if err != nil {
		return 0, err
	}
	if approx <= 0 {
		// Approximate counters can lag actual inserts; fall back to a
		// sane page rather than returning nothing.
		return defaultPageSize, nil
	}
	return int(approx), nil
}

const defaultPageSize = 50
