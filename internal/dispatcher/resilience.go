package dispatcher

import (
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// ResilienceConfig wraps origin round trips with retry and circuit-breaking
// policies. Both are optional; a nil Dispatcher.Resilience executes the
// origin call directly, matching the teacher's "no policy configured"
// fallback.
type ResilienceConfig struct {
	RetryPolicy    retrypolicy.RetryPolicy[*http.Response]
	CircuitBreaker circuitbreaker.CircuitBreaker[*http.Response]
}

// DefaultRetryPolicy retries origin connect/transport failures (never a
// parsed response, since the decision engine already decided to go DIRECT)
// with a short exponential backoff, bounded so an overloaded origin does not
// turn one slow client into many slow clients.
func DefaultRetryPolicy(maxRetries int) retrypolicy.RetryPolicy[*http.Response] {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	return retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(r *http.Response, err error) bool {
			return err != nil
		}).
		WithMaxRetries(maxRetries).
		WithBackoff(50*time.Millisecond, 2*time.Second).
		Build()
}

// DefaultCircuitBreaker opens after a run of origin failures so a dead
// origin stops absorbing connect-timeout latency on every request.
func DefaultCircuitBreaker() circuitbreaker.CircuitBreaker[*http.Response] {
	return circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(r *http.Response, err error) bool {
			return err != nil
		}).
		WithFailureThreshold(5).
		WithSuccessThreshold(2).
		WithDelay(30 * time.Second).
		Build()
}

// roundTripWithResilience executes fn, optionally guarded by retry and
// circuit-breaker policies (sandrolain-httpcache's resilience.go pattern:
// retry outermost, circuit breaker innermost, so a breaker trip short-circuits
// individual retry attempts instead of retrying into an already-open breaker).
func roundTripWithResilience(cfg *ResilienceConfig, fn func() (*http.Response, error)) (*http.Response, error) {
	if cfg == nil {
		return fn()
	}
	var policies []failsafe.Policy[*http.Response]
	if cfg.RetryPolicy != nil {
		policies = append(policies, cfg.RetryPolicy)
	}
	if cfg.CircuitBreaker != nil {
		policies = append(policies, cfg.CircuitBreaker)
	}
	if len(policies) == 0 {
		return fn()
	}
	return failsafe.With(policies...).Get(fn)
}
