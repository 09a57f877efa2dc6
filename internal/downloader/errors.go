package downloader

import (
	"errors"
	"fmt"
)

type (
	// ContentError indicates that the source content itself is the
	// problem (deleted, private, region locked, not a video). No
	// retry or fallback strategy can recover it.
	ContentError struct {
		reason string
	}

	// StrategyError indicates that a particular strategy failed for
	// reasons unrelated to the content (network, rate limit, tooling).
	// The downloader moves on to the next strategy.
	StrategyError struct {
		Strategy string
		cause    error
	}

	// AllStrategiesFailedError is returned when every configured
	// strategy was exhausted without producing a download.
	AllStrategiesFailedError struct {
		Errors []error
	}
)

func (err *ContentError) Error() string {
	return fmt.Sprintf("source content is not downloadable: %s", err.reason)
}

func (err *StrategyError) Error() string {
	return fmt.Sprintf("download strategy %s failed: %s", err.Strategy, err.cause.Error())
}
func (err *StrategyError) Unwrap() error { return err.cause }

func (err *AllStrategiesFailedError) Error() string {
	if len(err.Errors) == 0 {
		return "no download strategies are configured"
	}

	return fmt.Sprintf("all %d download strategies failed (last: %s)", len(err.Errors), err.Errors[len(err.Errors)-1].Error())
}

// IsContentError reports whether the error chain contains a
// ContentError, i.e. whether the failure is permanent for this source
// regardless of strategy.
func IsContentError(err error) bool {
	var contentErr *ContentError
	return errors.As(err, &contentErr)
}
