package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// counter maintains the approximate per-entity-type item count as a
// singleton record. The read-then-write protocol is deliberately not
// atomic with the primary write it accompanies: concurrent writers can
// drift the value, which is the documented accuracy contract. Counting by
// full-table scan is what this avoids.
type counter struct {
	client    DynamoDBAPI
	tableName string
	logger    *zap.Logger
}

func newCounter(client DynamoDBAPI, tableName string, logger *zap.Logger) *counter {
	return &counter{client: client, tableName: tableName, logger: logger}
}

func (c *counter) countKey(kind entityKind) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: countPartitionKey(kind)},
		attrSK: &types.AttributeValueMemberS{Value: countSortKey(kind)},
	}
}

// read returns the current approximate count, 0 when the record is absent.
func (c *counter) read(ctx context.Context, kind entityKind) (int64, error) {
	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.countKey(kind),
	})
	if err != nil {
		return 0, mapInfrastructureError("read count", err)
	}
	if result.Item == nil {
		return 0, nil
	}

	var item countItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return 0, fmt.Errorf("unmarshal count item: %w", err)
	}
	return item.Count, nil
}

// adjust shifts the approximate count by delta, flooring at zero.
func (c *counter) adjust(ctx context.Context, kind entityKind, delta int64) error {
	current, err := c.read(ctx, kind)
	if err != nil {
		return err
	}

	next := current + delta
	if next < 0 {
		next = 0
	}

	item := countItem{
		PK:         countPartitionKey(kind),
		SK:         countSortKey(kind),
		EntityType: string(kindCount),
		CountType:  string(kind),
		Count:      next,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal count item: %w", err)
	}

	if _, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      av,
	}); err != nil {
		return mapInfrastructureError("write count", err)
	}

	c.logger.Debug("adjusted approximate count",
		zap.String("kind", string(kind)),
		zap.Int64("delta", delta),
		zap.Int64("count", next),
	)
	return nil
}
