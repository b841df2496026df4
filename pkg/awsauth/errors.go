package awsauth

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
)

var accessDeniedCodes = map[string]bool{
	"AccessDenied":          true,
	"AccessDeniedException": true,
	"UnauthorizedOperation": true,
}

var expiredTokenCodes = map[string]bool{
	"ExpiredToken":          true,
	"ExpiredTokenException": true,
	"RequestExpired":        true,
	"InvalidClientTokenId":  true,
}

var throttledCodes = map[string]bool{
	"Throttling":               true,
	"ThrottlingException":      true,
	"TooManyRequestsException": true,
	"RequestLimitExceeded":     true,
}

func hasErrorCode(err error, codes map[string]bool) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return codes[apiErr.ErrorCode()]
	}
	return false
}

// IsAccessDenied reports whether err is the provider refusing the caller.
func IsAccessDenied(err error) bool {
	return hasErrorCode(err, accessDeniedCodes)
}

// IsExpiredToken reports whether the caller's own credentials have lapsed.
func IsExpiredToken(err error) bool {
	return hasErrorCode(err, expiredTokenCodes)
}

// IsThrottled reports whether the provider is rate limiting the caller.
func IsThrottled(err error) bool {
	return hasErrorCode(err, throttledCodes)
}

// RetryThrottled runs call, sleeping wait between attempts while the
// provider reports throttling, up to cap retries. Any other error, or a
// cancelled context, stops the loop immediately.
func RetryThrottled(ctx context.Context, cap int, wait time.Duration, call func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = call()
		if err == nil || !IsThrottled(err) || attempt >= cap {
			return err
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
