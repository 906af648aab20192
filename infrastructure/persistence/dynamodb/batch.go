package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	pkgerrors "oidcstore/pkg/errors"
)

const (
	maxBatchWriteItems = 25
	maxBatchGetKeys    = 100
	maxBatchRetries    = 5
)

// batchWrite issues write requests in chunks of at most 25, retrying
// unprocessed items a bounded number of times.
func batchWrite(ctx context.Context, client DynamoDBAPI, tableName string, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += maxBatchWriteItems {
		end := start + maxBatchWriteItems
		if end > len(requests) {
			end = len(requests)
		}

		pending := requests[start:end]
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt >= maxBatchRetries {
				return pkgerrors.NewDatabaseError("batch write",
					fmt.Errorf("%d items still unprocessed after %d attempts", len(pending), attempt))
			}
			result, err := client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{tableName: pending},
			})
			if err != nil {
				return mapInfrastructureError("batch write", err)
			}
			pending = result.UnprocessedItems[tableName]
		}
	}
	return nil
}

// batchGet fetches items by key in chunks of at most 100, retrying
// unprocessed keys a bounded number of times.
func batchGet(ctx context.Context, client DynamoDBAPI, tableName string, keys []map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue

	for start := 0; start < len(keys); start += maxBatchGetKeys {
		end := start + maxBatchGetKeys
		if end > len(keys) {
			end = len(keys)
		}

		pending := keys[start:end]
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt >= maxBatchRetries {
				return nil, pkgerrors.NewDatabaseError("batch get",
					fmt.Errorf("%d keys still unprocessed after %d attempts", len(pending), attempt))
			}
			result, err := client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]types.KeysAndAttributes{
					tableName: {Keys: pending},
				},
			})
			if err != nil {
				return nil, mapInfrastructureError("batch get", err)
			}
			items = append(items, result.Responses[tableName]...)
			pending = result.UnprocessedKeys[tableName].Keys
		}
	}
	return items, nil
}

// deleteRequest builds a batch delete request for a primary key.
func deleteRequest(pk, sk string) types.WriteRequest {
	return types.WriteRequest{
		DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{
				attrPK: &types.AttributeValueMemberS{Value: pk},
				attrSK: &types.AttributeValueMemberS{Value: sk},
			},
		},
	}
}

// putRequest builds a batch put request for a marshaled item.
func putRequest(item map[string]types.AttributeValue) types.WriteRequest {
	return types.WriteRequest{
		PutRequest: &types.PutRequest{Item: item},
	}
}

func stringAttr(raw map[string]types.AttributeValue, name string) string {
	if v, ok := raw[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
