// Package dashboard is the query layer behind the admin dashboard. It fetches
// interaction records through the backend client, retries transient gateway
// failures with exponential backoff, and reuses recent results for a short
// cache window so rapid page refreshes do not hammer the backend.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PromtiorLabs/chat_svc/internal/client"
)

const (
	maxAutomaticRetries = 2
	backoffBaseDelay    = 1 * time.Second
	backoffMaxDelay     = 10 * time.Second

	cacheKeyAllRecords      = "dashboard:interactions:all"
	cacheKeyByEmailPrefix   = "dashboard:interactions:email:"
	cacheKeySearchPrefix    = "dashboard:interactions:search:"
	logEventQueryRetry      = "dashboard_query_retry"
	logFieldAttemptName     = "attempt"
	logFieldBackoffName     = "backoff"
	logFieldCacheKeyName    = "cache_key"
	logEventCacheCorruption = "dashboard_cache_decode_failed"
)

// ErrMissingQueryEmail indicates a by-email lookup was requested without an email.
var ErrMissingQueryEmail = errors.New("dashboard: missing query email")

// Backend is the subset of the backend client the dashboard reads through.
type Backend interface {
	ListInteractions(ctx context.Context) ([]client.InteractionRecord, error)
	InteractionsByEmail(ctx context.Context, email string) (client.InteractionRecord, error)
	SearchInteractions(ctx context.Context, term string) ([]client.InteractionRecord, error)
}

// QueryService serves dashboard reads with retry and short-lived caching.
type QueryService struct {
	backend Backend
	cache   ResultCache
	logger  *zap.Logger
	sleep   func(ctx context.Context, delay time.Duration) error
}

// NewQueryService constructs a QueryService over the given backend and cache.
func NewQueryService(backend Backend, cache ResultCache, logger *zap.Logger) *QueryService {
	if cache == nil {
		cache = NewMemoryCache(DefaultResultTTL, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{
		backend: backend,
		cache:   cache,
		logger:  logger,
		sleep:   sleepWithContext,
	}
}

// WithSleeper overrides the retry delay function.
func (service *QueryService) WithSleeper(sleep func(ctx context.Context, delay time.Duration) error) *QueryService {
	service.sleep = sleep
	return service
}

// ListInteractions returns every stored interaction record.
func (service *QueryService) ListInteractions(ctx context.Context) ([]client.InteractionRecord, error) {
	var records []client.InteractionRecord
	fetchErr := service.cachedQuery(ctx, cacheKeyAllRecords, &records, func() (any, error) {
		return service.listWithRetry(ctx)
	})
	if fetchErr != nil {
		return nil, fetchErr
	}
	return records, nil
}

// InteractionsByEmail returns the record for one visitor email. An empty email
// is rejected without contacting the backend.
func (service *QueryService) InteractionsByEmail(ctx context.Context, email string) (client.InteractionRecord, error) {
	trimmedEmail := strings.TrimSpace(email)
	if trimmedEmail == "" {
		return client.InteractionRecord{}, ErrMissingQueryEmail
	}

	var record client.InteractionRecord
	fetchErr := service.cachedQuery(ctx, cacheKeyByEmailPrefix+strings.ToLower(trimmedEmail), &record, func() (any, error) {
		return service.byEmailWithRetry(ctx, trimmedEmail)
	})
	if fetchErr != nil {
		return client.InteractionRecord{}, fetchErr
	}
	return record, nil
}

// SearchByName returns records whose visitor name contains the term. A blank
// term short-circuits to an empty result without contacting the backend.
func (service *QueryService) SearchByName(ctx context.Context, term string) ([]client.InteractionRecord, error) {
	trimmedTerm := strings.TrimSpace(term)
	if trimmedTerm == "" {
		return []client.InteractionRecord{}, nil
	}

	var records []client.InteractionRecord
	fetchErr := service.cachedQuery(ctx, cacheKeySearchPrefix+strings.ToLower(trimmedTerm), &records, func() (any, error) {
		return service.searchWithRetry(ctx, trimmedTerm)
	})
	if fetchErr != nil {
		return nil, fetchErr
	}
	return records, nil
}

func (service *QueryService) listWithRetry(ctx context.Context) (any, error) {
	var records []client.InteractionRecord
	retryErr := service.withRetry(ctx, func() error {
		var listErr error
		records, listErr = service.backend.ListInteractions(ctx)
		return listErr
	})
	return records, retryErr
}

func (service *QueryService) byEmailWithRetry(ctx context.Context, email string) (any, error) {
	var record client.InteractionRecord
	retryErr := service.withRetry(ctx, func() error {
		var fetchErr error
		record, fetchErr = service.backend.InteractionsByEmail(ctx, email)
		return fetchErr
	})
	return record, retryErr
}

func (service *QueryService) searchWithRetry(ctx context.Context, term string) (any, error) {
	var records []client.InteractionRecord
	retryErr := service.withRetry(ctx, func() error {
		var searchErr error
		records, searchErr = service.backend.SearchInteractions(ctx, term)
		return searchErr
	})
	return records, retryErr
}

// cachedQuery serves the result for key from cache when present, otherwise
// runs fetch, caches its serialized result, and decodes it into result.
func (service *QueryService) cachedQuery(ctx context.Context, key string, result any, fetch func() (any, error)) error {
	if cachedValue, present := service.cache.Get(ctx, key); present {
		if unmarshalErr := json.Unmarshal(cachedValue, result); unmarshalErr == nil {
			return nil
		}
		service.logger.Warn(logEventCacheCorruption, zap.String(logFieldCacheKeyName, key))
	}

	fetched, fetchErr := fetch()
	if fetchErr != nil {
		return fetchErr
	}

	encodedValue, marshalErr := json.Marshal(fetched)
	if marshalErr != nil {
		return marshalErr
	}
	service.cache.Set(ctx, key, encodedValue)
	return json.Unmarshal(encodedValue, result)
}

// withRetry runs operation, retrying up to maxAutomaticRetries additional
// times when the failure is a transient gateway status. Delays start at
// backoffBaseDelay and double per attempt, capped at backoffMaxDelay.
func (service *QueryService) withRetry(ctx context.Context, operation func() error) error {
	delay := backoffBaseDelay
	for attempt := 0; ; attempt++ {
		operationErr := operation()
		if operationErr == nil {
			return nil
		}

		var statusErr *client.StatusError
		if attempt >= maxAutomaticRetries || !errors.As(operationErr, &statusErr) || !statusErr.TimeoutClass() {
			return operationErr
		}

		service.logger.Warn(logEventQueryRetry,
			zap.Int(logFieldAttemptName, attempt+1),
			zap.Duration(logFieldBackoffName, delay),
			zap.Error(operationErr),
		)
		if sleepErr := service.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		delay *= 2
		if delay > backoffMaxDelay {
			delay = backoffMaxDelay
		}
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
