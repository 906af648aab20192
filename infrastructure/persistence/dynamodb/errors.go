package dynamodb

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	pkgerrors "oidcstore/pkg/errors"
)

// isConditionalCheckFailed reports whether a write was rejected by its
// condition expression. For updates guarded on the concurrency token this
// is the optimistic-concurrency conflict signal.
func isConditionalCheckFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.As(err, &condErr)
}

// mapInfrastructureError classifies a failed backing-store call. Throttling
// and timeouts get their own types so callers can decide about retries; the
// store itself never retries (outside the bounded provisioning loops).
func mapInfrastructureError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.NewTimeoutError(operation)
	}

	var throughput *types.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return pkgerrors.NewThrottleError(operation, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "RequestLimitExceeded":
			return pkgerrors.NewThrottleError(operation, err)
		}
	}

	return pkgerrors.NewDatabaseError(operation, err)
}
