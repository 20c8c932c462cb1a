package provider

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-enrichment/types"
)

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests"`
}

type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// CircuitBreaker shields one upstream from repeated calls while it is
// failing. Closed passes everything, open rejects until the recovery timeout
// elapses, half-open lets probes through until enough of them succeed.
type CircuitBreaker struct {
	config    *BreakerConfig
	logger    types.Logger
	upstream  string
	state     atomic.Value
	failures  atomic.Int32
	successes atomic.Int32
	lastFail  atomic.Int64
	mutex     sync.Mutex
}

func NewCircuitBreaker(config *BreakerConfig, logger types.Logger, upstream string) *CircuitBreaker {
	if config == nil {
		config = &BreakerConfig{Enabled: false}
	}

	cb := &CircuitBreaker{
		config:   config,
		logger:   logger,
		upstream: upstream,
	}
	cb.state.Store(BreakerClosed)

	return cb
}

func (cb *CircuitBreaker) CanExecute() bool {
	if cb == nil || !cb.config.Enabled {
		return true
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.getStateUnsafe() {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(time.Unix(cb.lastFail.Load(), 0)) > cb.config.RecoveryTimeout {
			cb.transitionToHalfOpen()
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.getStateUnsafe() {
	case BreakerClosed:
		cb.failures.Store(0)
	case BreakerHalfOpen:
		if cb.successes.Add(1) >= int32(cb.config.HalfOpenRequests) {
			cb.transitionToClosed()
		}
	case BreakerOpen:
		cb.logger.Warn("Success recorded while circuit breaker open",
			zap.String("upstream", cb.upstream))
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.lastFail.Store(time.Now().Unix())

	switch cb.getStateUnsafe() {
	case BreakerClosed:
		if cb.failures.Add(1) >= int32(cb.config.FailureThreshold) {
			cb.transitionToOpen()
		}
	case BreakerHalfOpen:
		cb.transitionToOpen()
	case BreakerOpen:
	}
}

func (cb *CircuitBreaker) StateString() string {
	if cb == nil || !cb.config.Enabled {
		return "disabled"
	}

	switch cb.state.Load().(BreakerState) {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (cb *CircuitBreaker) getStateUnsafe() BreakerState {
	return cb.state.Load().(BreakerState)
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.state.Store(BreakerClosed)
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.lastFail.Store(0)
	cb.logger.Info("Circuit breaker closed",
		zap.String("upstream", cb.upstream))
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.state.Store(BreakerOpen)
	cb.successes.Store(0)
	cb.logger.Warn("Circuit breaker opened",
		zap.String("upstream", cb.upstream),
		zap.Int32("failures", cb.failures.Load()),
		zap.Int("threshold", cb.config.FailureThreshold))
}

func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.state.Store(BreakerHalfOpen)
	cb.successes.Store(0)
	cb.logger.Info("Circuit breaker half-open",
		zap.String("upstream", cb.upstream))
}

// breakerFailure reports whether a response should count against the breaker.
// Client errors other than throttling and timeouts are the caller's problem,
// not the upstream's.
func breakerFailure(statusCode int, err error) bool {
	if err != nil {
		return true
	}
	switch statusCode {
	case 408, 429, 502, 503, 504:
		return true
	default:
		return false
	}
}

func successfulResponse(statusCode int, err error) bool {
	return err == nil && statusCode >= 200 && statusCode < 300
}

func retryableStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 502, 503, 504:
		return true
	default:
		return false
	}
}
