package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// scanMatching drains a filtered full-table scan. Used by the no-subject
// search fallback and the prune passes; both re-check the predicate in
// memory, so the filter only trims transfer volume.
func scanMatching(ctx context.Context, client DynamoDBAPI, tableName, filterExpression string, values map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		result, err := client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(tableName),
			FilterExpression:          aws.String(filterExpression),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, mapInfrastructureError("scan", err)
		}
		items = append(items, result.Items...)

		startKey = result.LastEvaluatedKey
		if startKey == nil {
			return items, nil
		}
	}
}
