package provider

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-enrichment/types"
	"github.com/saiset-co/sai-enrichment/utils"
)

type State int32

const (
	StateRunning State = iota
	StateStopping
	StateStopped
)

// Config describes one upstream candidate source.
type Config struct {
	BaseURL        string         `yaml:"base_url" json:"base_url" validate:"required"`
	Path           string         `yaml:"path" json:"path"`
	APIKey         string         `yaml:"api_key" json:"api_key"`
	Timeout        time.Duration  `yaml:"timeout" json:"timeout"`
	Retries        int            `yaml:"retries" json:"retries"`
	CircuitBreaker *BreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// candidateRequest is the wire shape sent to the upstream for one lookup.
type candidateRequest struct {
	ID        string  `json:"id,omitempty"`
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
	HasCoords bool    `json:"has_coords"`
}

// candidateResponse is the wire shape the upstream answers with.
type candidateResponse struct {
	Candidates []types.Candidate `json:"candidates"`
}

// HTTPProvider turns a remote candidate source into a ProviderFunc. Retries
// with linear backoff on transient failures, classifies throttling so the
// orchestrator can tell it apart from a broken upstream, and trips its
// circuit breaker while the upstream is down.
type HTTPProvider struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	name    string
	client  *fasthttp.Client
	config  *Config
	breaker *CircuitBreaker
	state   atomic.Value
}

func NewHTTPProvider(ctx context.Context, logger types.Logger, name string, config *Config) *HTTPProvider {
	providerCtx, cancel := context.WithCancel(ctx)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	p := &HTTPProvider{
		ctx:    providerCtx,
		cancel: cancel,
		logger: logger,
		name:   name,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		config:  config,
		breaker: NewCircuitBreaker(config.CircuitBreaker, logger, name),
	}
	p.state.Store(StateRunning)

	return p
}

// Fetch implements the provider contract: candidates for one entity, or a
// classified error.
func (p *HTTPProvider) Fetch(ctx context.Context, ref types.EntityRef) ([]types.Candidate, error) {
	if !p.IsRunning() {
		return nil, types.Errorf(types.ErrProviderFailed, "provider stopped: %s", p.name)
	}

	body, err := utils.Marshal(candidateRequest{
		ID:        ref.ID,
		Lat:       ref.Lat,
		Lon:       ref.Lon,
		HasCoords: ref.HasCoords,
	})
	if err != nil {
		return nil, types.WrapError(err, "marshal candidate request")
	}

	type fetchResult struct {
		candidates []types.Candidate
		err        error
	}

	done := make(chan fetchResult, 1)
	go func() {
		candidates, err := p.executeWithRetries(body)
		done <- fetchResult{candidates: candidates, err: err}
	}()

	select {
	case result := <-done:
		return result.candidates, result.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "fetch aborted for provider: "+p.name)
	case <-p.ctx.Done():
		return nil, types.Errorf(types.ErrProviderFailed, "provider shutting down: %s", p.name)
	}
}

// AsProviderFunc adapts the provider for orchestrator registration.
func (p *HTTPProvider) AsProviderFunc() types.ProviderFunc {
	return p.Fetch
}

func (p *HTTPProvider) Close() {
	if !p.state.CompareAndSwap(StateRunning, StateStopping) {
		return
	}

	p.cancel()
	p.state.Store(StateStopped)

	p.logger.Debug("Provider closed",
		zap.String("provider", p.name))
}

func (p *HTTPProvider) IsRunning() bool {
	return p.state.Load().(State) == StateRunning
}

func (p *HTTPProvider) BreakerState() string {
	return p.breaker.StateString()
}

func (p *HTTPProvider) executeWithRetries(body []byte) ([]types.Candidate, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= p.config.Retries; attempt++ {
		if !p.breaker.CanExecute() {
			return nil, types.Errorf(types.ErrCircuitBreakerOpen, "provider: %s", p.name)
		}

		candidates, statusCode, err := p.doRequest(body)

		if successfulResponse(statusCode, err) {
			p.breaker.RecordSuccess()
			return candidates, nil
		}

		if breakerFailure(statusCode, err) {
			p.breaker.RecordFailure()
		}

		lastErr = err
		lastStatus = statusCode

		if statusCode == fasthttp.StatusTooManyRequests {
			return nil, types.Errorf(types.ErrProviderRateLimited, "provider: %s", p.name)
		}

		if err == nil && !retryableStatus(statusCode) {
			break
		}

		if attempt < p.config.Retries {
			backoff := time.Duration(attempt+1) * time.Second

			select {
			case <-time.After(backoff):
				p.logger.Debug("Retrying provider request",
					zap.String("provider", p.name),
					zap.Duration("backoff", backoff),
					zap.Error(lastErr))
			case <-p.ctx.Done():
				return nil, types.Errorf(types.ErrProviderFailed, "provider shutting down during retry: %s", p.name)
			}
		}
	}

	if lastErr != nil {
		return nil, types.Errorf(types.ErrProviderFailed, "provider %s: %v", p.name, lastErr)
	}
	return nil, types.Errorf(types.ErrProviderFailed, "provider %s: HTTP %d", p.name, lastStatus)
}

func (p *HTTPProvider) doRequest(body []byte) ([]types.Candidate, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.config.BaseURL + p.config.Path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}
	req.SetBody(body)

	if err := p.client.DoTimeout(req, resp, p.client.ReadTimeout); err != nil {
		return nil, 0, err
	}

	statusCode := resp.StatusCode()
	if statusCode < 200 || statusCode >= 300 {
		return nil, statusCode, nil
	}

	var decoded candidateResponse
	raw := make([]byte, len(resp.Body()))
	copy(raw, resp.Body())

	if err := utils.Unmarshal(raw, &decoded); err != nil {
		return nil, statusCode, types.WrapError(err, "decode candidate response")
	}

	return decoded.Candidates, statusCode, nil
}
