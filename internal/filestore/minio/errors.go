package minio

import (
	"context"
	"errors"
	"net/http"

	"github.com/koustreak/cosbrowser/internal/errs"
	minioErr "github.com/minio/minio-go/v7"
)

// mapError translates a minio-go SDK error into a *errs.Error.
// COS returns the same S3 error codes as AWS for the cases below.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	// Context cancellation / deadline
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	// minio-go exposes a typed ErrorResponse for S3-protocol errors
	var resp minioErr.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchBucket", "NoSuchKey":
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "RequestTimeTooSkewed":
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case "InvalidBucketName", "InvalidObjectName", "KeyTooLongError", "InvalidArgument":
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		case "RequestTimeout", "SlowDown":
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		}

		switch resp.StatusCode {
		case http.StatusNotFound:
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case http.StatusForbidden, http.StatusUnauthorized:
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case http.StatusBadRequest:
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		}

		if resp.StatusCode >= 500 {
			return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
		}
	}

	// Anything else is a generic connection or I/O failure
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
