package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrStoreTypeUnknown      = errors.New("cache store type unknown")
	ErrStoreOperationFailed  = errors.New("cache store operation failed")
	ErrStoreIsDisabled       = errors.New("cache store is disabled")
	ErrPatternEmpty          = errors.New("cache pattern empty")
)

var (
	ErrEntityRefEmpty      = errors.New("entity reference has no identifier and no coordinates")
	ErrCategoryUnknown     = errors.New("enrichment category unknown")
	ErrCategoryNameInvalid = errors.New("enrichment category name invalid")
	ErrProviderMissing     = errors.New("upstream provider not registered")
	ErrProviderFailed      = errors.New("upstream provider failed")
	ErrProviderRateLimited = errors.New("upstream provider rate limited")
	ErrLowConfidence       = errors.New("candidate rejected with low confidence")
)

var (
	ErrComponentAlreadyRunning = errors.New("component already running")
	ErrComponentNotRunning     = errors.New("component not running")
	ErrComponentStartFailed    = errors.New("component start failed")
	ErrComponentStopFailed     = errors.New("component stop failed")
)

var (
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobTimeout        = errors.New("cron job timeout")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrClientRequestFailed = errors.New("client request failed")
	ErrCircuitBreakerOpen  = errors.New("circuit breaker open")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
