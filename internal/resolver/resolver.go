package resolver

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"git.home.luguber.info/inful/linkaudit/internal/dictionary"
	"git.home.luguber.info/inful/linkaudit/internal/hyperlink"
	"git.home.luguber.info/inful/linkaudit/internal/logfields"
	"git.home.luguber.info/inful/linkaudit/internal/metrics"
	"git.home.luguber.info/inful/linkaudit/internal/retry"
)

// Options bounds resolution dispatch.
type Options struct {
	BatchSize          int // maximum keys per batch
	Parallelism        int // maximum concurrent batch calls
	RateLimitPerMinute int // dispatch ceiling; zero disables throttling
	Policy             retry.Policy
}

func (o Options) normalized() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 1
	}
	if o.Policy.Initial == 0 {
		o.Policy = retry.DefaultPolicy()
	}
	return o
}

// Resolver resolves lookup keys against a Source, mapping document-id keys
// through the identifier dictionary first. It is the only component sharing
// an outbound channel across concurrent jobs; all mediation (batching, rate
// limit, retries) lives here.
type Resolver struct {
	source   Source
	dict     *dictionary.Store
	opts     Options
	limiter  *rate.Limiter
	recorder metrics.Recorder
}

// New builds a resolver. dict may be nil when no document-id keys are
// expected; such keys then resolve to not found.
func New(source Source, dict *dictionary.Store, opts Options) *Resolver {
	opts = opts.normalized()
	var limiter *rate.Limiter
	if opts.RateLimitPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RateLimitPerMinute)/60.0), 1)
	}
	return &Resolver{
		source:   source,
		dict:     dict,
		opts:     opts,
		limiter:  limiter,
		recorder: metrics.NoopRecorder{},
	}
}

// SetRecorder injects a metrics recorder (optional).
func (r *Resolver) SetRecorder(rec metrics.Recorder) {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	r.recorder = rec
}

// ResolveAll resolves a set of lookup keys. Keys are deduplicated before
// dispatch; a key appearing in many documents is resolved exactly once.
// Partial results are returned even when some batches fail: every requested
// key is present in the returned map, failed ones with Found=false and the
// failure reason. The only returned error is context cancellation.
func (r *Resolver) ResolveAll(ctx context.Context, keys []hyperlink.Key) (map[string]hyperlink.Resolution, error) {
	deduped := dedupeKeys(keys)
	if len(deduped) == 0 {
		return map[string]hyperlink.Resolution{}, nil
	}

	results := make(map[string]hyperlink.Resolution, len(deduped))

	// Document-id keys go through the dictionary first.
	contentFor, unmapped := r.mapDocumentKeys(ctx, deduped)
	for _, key := range unmapped {
		results[key.Value] = hyperlink.NotFound(key.Value, "document id not in dictionary")
	}

	// Collect the distinct content identifiers to resolve.
	contentSet := make(map[string]struct{})
	for _, key := range deduped {
		switch key.Kind {
		case hyperlink.KeyKindContent:
			contentSet[key.Value] = struct{}{}
		case hyperlink.KeyKindDocument:
			if cid, ok := contentFor[key.Value]; ok {
				contentSet[cid] = struct{}{}
			}
		}
	}

	resolved, err := r.resolveContentIDs(ctx, sortedKeys(contentSet))
	if err != nil {
		return nil, err
	}

	// Fan results back out to the original keys.
	for _, key := range deduped {
		if _, done := results[key.Value]; done {
			continue
		}
		lookupID := key.Value
		if key.Kind == hyperlink.KeyKindDocument {
			lookupID = contentFor[key.Value]
		}
		res, ok := resolved[lookupID]
		if !ok {
			results[key.Value] = hyperlink.NotFound(key.Value, "no result returned")
			continue
		}
		res.Key = key.Value
		if res.ContentID == "" && res.Found {
			res.ContentID = lookupID
		}
		results[key.Value] = res
	}

	return results, nil
}

// mapDocumentKeys maps document-id keys to content identifiers via the
// dictionary. Returns the mapping and the keys that could not be mapped.
func (r *Resolver) mapDocumentKeys(ctx context.Context, keys []hyperlink.Key) (map[string]string, []hyperlink.Key) {
	var docIDs []string
	for _, key := range keys {
		if key.Kind == hyperlink.KeyKindDocument {
			docIDs = append(docIDs, key.Value)
		}
	}
	if len(docIDs) == 0 {
		return nil, nil
	}
	if r.dict == nil {
		return nil, filterDocumentKeys(keys)
	}

	mapped, err := r.dict.MapDocumentIDs(ctx, docIDs)
	if err != nil {
		slog.Warn("Dictionary lookup failed; document-id keys degrade to not found", logfields.Error(err))
		return nil, filterDocumentKeys(keys)
	}

	var unmapped []hyperlink.Key
	for _, key := range keys {
		if key.Kind == hyperlink.KeyKindDocument {
			if _, ok := mapped[key.Value]; !ok {
				unmapped = append(unmapped, key)
			}
		}
	}
	return mapped, unmapped
}

// resolveContentIDs splits ids into batches and dispatches them with bounded
// concurrency, throttling, and per-batch retries.
func (r *Resolver) resolveContentIDs(ctx context.Context, ids []string) (map[string]hyperlink.Resolution, error) {
	results := make(map[string]hyperlink.Resolution, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	batches := chunk(ids, r.opts.BatchSize)
	slog.Debug("Dispatching resolution batches",
		logfields.KeyCount(len(ids)),
		slog.Int("batches", len(batches)),
		logfields.BatchSize(r.opts.BatchSize))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, r.opts.Parallelism)
	)

	for _, batch := range batches {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(batch []string) {
			defer wg.Done()
			defer func() { <-sem }()

			batchResults := r.resolveBatchWithRetry(ctx, batch)
			mu.Lock()
			for k, v := range batchResults {
				results[k] = v
			}
			mu.Unlock()
		}(batch)
	}

	wg.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return results, nil
}

// resolveBatchWithRetry runs one batch call with throttling and the retry
// policy. Exhausted retries degrade every key in the batch to a not-found
// result carrying the reason, never failing the whole resolution.
func (r *Resolver) resolveBatchWithRetry(ctx context.Context, batch []string) map[string]hyperlink.Resolution {
	var lastErr error

	for attempt := 0; attempt <= r.opts.Policy.MaxRetries; attempt++ {
		if attempt > 0 {
			r.recorder.IncResolveRetry()
			delay := r.opts.Policy.Delay(attempt)
			select {
			case <-ctx.Done():
				return failBatch(batch, ctx.Err().Error())
			case <-time.After(delay):
			}
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return failBatch(batch, err.Error())
			}
		}

		start := time.Now()
		res, err := r.source.ResolveBatch(ctx, batch)
		r.recorder.ObserveResolveBatch(time.Since(start), len(batch), err == nil)
		if err == nil {
			return completeBatch(batch, res)
		}

		lastErr = err
		if !IsTransient(err) {
			slog.Warn("Resolution batch failed permanently",
				logfields.BatchSize(len(batch)), logfields.Error(err))
			return failBatch(batch, err.Error())
		}
		slog.Debug("Resolution batch failed, will retry",
			slog.Int("attempt", attempt+1), logfields.Error(err))
	}

	r.recorder.IncResolveRetryExhausted()
	slog.Warn("Resolution batch retries exhausted",
		logfields.BatchSize(len(batch)), logfields.Error(lastErr))
	return failBatch(batch, lastErr.Error())
}

// completeBatch fills in results for keys the source omitted.
func completeBatch(batch []string, res map[string]hyperlink.Resolution) map[string]hyperlink.Resolution {
	out := make(map[string]hyperlink.Resolution, len(batch))
	for _, key := range batch {
		if r, ok := res[key]; ok {
			out[key] = r
		} else {
			out[key] = hyperlink.NotFound(key, "")
		}
	}
	return out
}

func failBatch(batch []string, reason string) map[string]hyperlink.Resolution {
	out := make(map[string]hyperlink.Resolution, len(batch))
	for _, key := range batch {
		out[key] = hyperlink.NotFound(key, reason)
	}
	return out
}

func filterDocumentKeys(keys []hyperlink.Key) []hyperlink.Key {
	var out []hyperlink.Key
	for _, key := range keys {
		if key.Kind == hyperlink.KeyKindDocument {
			out = append(out, key)
		}
	}
	return out
}

func dedupeKeys(keys []hyperlink.Key) []hyperlink.Key {
	seen := make(map[string]struct{}, len(keys))
	var out []hyperlink.Key
	for _, key := range keys {
		if key.Value == "" {
			continue
		}
		if _, ok := seen[key.Value]; ok {
			continue
		}
		seen[key.Value] = struct{}{}
		out = append(out, key)
	}
	return out
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
