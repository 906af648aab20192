package dynamodb

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDB is an in-memory stand-in for the backing table. It evaluates the
// expression shapes the stores actually issue: equality, begins_with,
// lexicographic less-than, attribute_exists and attribute_not_exists, and
// SET update expressions. Items are kept in stable (PK, SK) order so scans
// and queries page deterministically.
type fakeDB struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	queries []dynamodb.QueryInput
}

func newFakeDB() *fakeDB {
	return &fakeDB{items: make(map[string]map[string]types.AttributeValue)}
}

var _ DynamoDBAPI = (*fakeDB)(nil)

const fakeKeySep = "\x00"

func itemKey(item map[string]types.AttributeValue) string {
	return stringAttr(item, attrPK) + fakeKeySep + stringAttr(item, attrSK)
}

func keyOf(key map[string]types.AttributeValue) string {
	return stringAttr(key, attrPK) + fakeKeySep + stringAttr(key, attrSK)
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// sortedKeys returns all item keys in stable order.
func (f *fakeDB) sortedKeys() []string {
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// itemCount reports how many stored items satisfy the predicate. Test
// helper for shadow record assertions.
func (f *fakeDB) itemCount(predicate func(map[string]types.AttributeValue) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if predicate(item) {
			n++
		}
	}
	return n
}

// condition evaluation

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if resolved, ok := names[name]; ok {
			return resolved
		}
	}
	return name
}

func attrEqual(a, b types.AttributeValue) bool {
	as, aok := a.(*types.AttributeValueMemberS)
	bs, bok := b.(*types.AttributeValueMemberS)
	if aok && bok {
		return as.Value == bs.Value
	}
	return reflect.DeepEqual(a, b)
}

// evalClause evaluates one expression clause against an item. Supported
// shapes: attribute_exists(A), attribute_not_exists(A), begins_with(A, :v),
// A = :v, A < :v.
func evalClause(clause string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) bool {
	clause = strings.TrimSpace(clause)

	if strings.HasPrefix(clause, "attribute_not_exists(") {
		attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")"), names)
		if item == nil {
			return true
		}
		_, exists := item[attr]
		return !exists
	}
	if strings.HasPrefix(clause, "attribute_exists(") {
		attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_exists("), ")"), names)
		if item == nil {
			return false
		}
		_, exists := item[attr]
		return exists
	}
	if strings.HasPrefix(clause, "begins_with(") {
		inner := strings.TrimSuffix(strings.TrimPrefix(clause, "begins_with("), ")")
		parts := strings.SplitN(inner, ",", 2)
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		prefix, ok := values[strings.TrimSpace(parts[1])].(*types.AttributeValueMemberS)
		if !ok || item == nil {
			return false
		}
		actual, ok := item[attr].(*types.AttributeValueMemberS)
		return ok && strings.HasPrefix(actual.Value, prefix.Value)
	}
	if parts := strings.SplitN(clause, " < ", 2); len(parts) == 2 {
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		bound, ok := values[strings.TrimSpace(parts[1])].(*types.AttributeValueMemberS)
		if !ok || item == nil {
			return false
		}
		actual, ok := item[attr].(*types.AttributeValueMemberS)
		return ok && actual.Value < bound.Value
	}
	if parts := strings.SplitN(clause, " = ", 2); len(parts) == 2 {
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		expected, ok := values[strings.TrimSpace(parts[1])]
		if !ok || item == nil {
			return false
		}
		actual, exists := item[attr]
		return exists && attrEqual(actual, expected)
	}
	return false
}

func evalExpression(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) bool {
	for _, clause := range strings.Split(expr, " AND ") {
		if !evalClause(clause, item, names, values) {
			return false
		}
	}
	return true
}

// DynamoDBAPI implementation

func (f *fakeDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[keyOf(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := itemKey(params.Item)
	existing := f.items[key]
	if params.ConditionExpression != nil {
		if !evalExpression(*params.ConditionExpression, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("the conditional request failed")}
		}
	}
	f.items[key] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := keyOf(params.Key)
	existing := f.items[key]
	if params.ConditionExpression != nil {
		if !evalExpression(*params.ConditionExpression, existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("the conditional request failed")}
		}
	}

	item := copyItem(existing)
	if item == nil {
		item = copyItem(params.Key)
	}
	expr := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(aws.ToString(params.UpdateExpression)), "SET"))
	for _, assignment := range strings.Split(expr, ",") {
		parts := strings.SplitN(assignment, "=", 2)
		if len(parts) != 2 {
			continue
		}
		attr := resolveName(strings.TrimSpace(parts[0]), params.ExpressionAttributeNames)
		item[attr] = params.ExpressionAttributeValues[strings.TrimSpace(parts[1])]
	}
	f.items[key] = item
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, keyOf(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, *params)

	var matched []map[string]types.AttributeValue
	for _, key := range f.sortedKeys() {
		item := f.items[key]
		if !evalExpression(aws.ToString(params.KeyConditionExpression), item, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			continue
		}
		matched = append(matched, item)
	}
	if params.Limit != nil && len(matched) > int(*params.Limit) {
		matched = matched[:int(*params.Limit)]
	}

	out := &dynamodb.QueryOutput{}
	for _, item := range matched {
		if params.FilterExpression != nil {
			if !evalExpression(*params.FilterExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
				continue
			}
		}
		out.Items = append(out.Items, copyItem(item))
	}
	return out, nil
}

func (f *fakeDB) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := f.sortedKeys()
	start := 0
	if params.ExclusiveStartKey != nil {
		resume := keyOf(params.ExclusiveStartKey)
		for i, key := range keys {
			if key > resume {
				start = i
				break
			}
			start = i + 1
		}
	}

	end := len(keys)
	if params.Limit != nil && start+int(*params.Limit) < end {
		end = start + int(*params.Limit)
	}

	out := &dynamodb.ScanOutput{}
	for _, key := range keys[start:end] {
		item := f.items[key]
		if params.FilterExpression != nil {
			if !evalExpression(*params.FilterExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
				continue
			}
		}
		out.Items = append(out.Items, copyItem(item))
	}
	if end < len(keys) {
		last := f.items[keys[end-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			attrPK: last[attrPK],
			attrSK: last[attrSK],
		}
	}
	return out, nil
}

func (f *fakeDB) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &dynamodb.BatchGetItemOutput{Responses: make(map[string][]map[string]types.AttributeValue)}
	for table, req := range params.RequestItems {
		for _, key := range req.Keys {
			if item, ok := f.items[keyOf(key)]; ok {
				out.Responses[table] = append(out.Responses[table], copyItem(item))
			}
		}
	}
	return out, nil
}

func (f *fakeDB) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, requests := range params.RequestItems {
		for _, req := range requests {
			switch {
			case req.PutRequest != nil:
				f.items[itemKey(req.PutRequest.Item)] = copyItem(req.PutRequest.Item)
			case req.DeleteRequest != nil:
				delete(f.items, keyOf(req.DeleteRequest.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}
