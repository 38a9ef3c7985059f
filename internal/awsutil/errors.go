package awsutil

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sesv2"
	"github.com/pkg/errors"

	imagestack_errors "github.com/customeros/imagestack/internal/errors"
)

const (
	codeNotFound = "NotFound"
	codeSlowDown = "SlowDown"
)

var capacityCodes = map[string]struct{}{
	dynamodb.ErrCodeProvisionedThroughputExceededException: {},
	dynamodb.ErrCodeRequestLimitExceeded:                   {},
	sesv2.ErrCodeTooManyRequestsException:                  {},
	sesv2.ErrCodeLimitExceededException:                    {},
	codeSlowDown:                                           {},
}

// ClassifyError maps an aws-sdk-go error onto the service error taxonomy.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return imagestack_errors.Transient(op, err)
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, codeNotFound:
			return imagestack_errors.NotFound(op, err)
		case request.CanceledErrorCode:
			return imagestack_errors.Transient(op, err)
		}
		if _, ok := capacityCodes[aerr.Code()]; ok {
			return imagestack_errors.Capacity(op, err)
		}
	}
	if request.IsErrorThrottle(err) {
		return imagestack_errors.Capacity(op, err)
	}

	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		switch status := reqErr.StatusCode(); {
		case status == http.StatusNotFound:
			return imagestack_errors.NotFound(op, err)
		case status == http.StatusTooManyRequests:
			return imagestack_errors.Capacity(op, err)
		case status >= http.StatusInternalServerError:
			return imagestack_errors.Transient(op, err)
		}
	}
	if request.IsErrorRetryable(err) {
		return imagestack_errors.Transient(op, err)
	}
	return errors.Wrap(err, op)
}

func IsConditionalCheckFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

func IsResourceNotFound(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeResourceNotFoundException
}
