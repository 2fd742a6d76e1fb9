package cache

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"chronicle/proofread/internal/analysis"
)

// Analyzer serves repeated requests from a Store and collapses identical
// concurrent requests into one upstream call. Cache failures are logged and
// otherwise ignored. The upstream call carries no deadline of its own, so next
// should bound itself (languagetool.Options.Timeout).
type Analyzer struct {
	next  analysis.Analyzer
	store Store
	log   *slog.Logger
	group singleflight.Group
}

func NewAnalyzer(next analysis.Analyzer, store Store, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{next: next, store: store, log: logger}
}

func (a *Analyzer) Check(ctx context.Context, req analysis.Request) (analysis.Response, error) {
	key := req.Fingerprint()
	resp, ok, err := a.store.Get(ctx, key)
	if err != nil {
		a.log.Warn("analysis cache read failed", "key", key, "error", err)
	}
	if ok {
		a.log.Debug("analysis cache hit", "key", key)
		return resp, nil
	}

	// The shared call is not tied to any one caller's cancellation; each
	// caller stops waiting when its own ctx ends.
	results := a.group.DoChan(key, func() (any, error) {
		upstream := context.WithoutCancel(ctx)
		resp, err := a.next.Check(upstream, req)
		if err != nil {
			return analysis.Response{}, err
		}
		if err := a.store.Put(upstream, key, resp); err != nil {
			a.log.Warn("analysis cache write failed", "key", key, "error", err)
		}
		return resp, nil
	})
	select {
	case res := <-results:
		if res.Err != nil {
			return analysis.Response{}, res.Err
		}
		if res.Shared {
			a.log.Debug("analysis request shared", "key", key)
		}
		return res.Val.(analysis.Response), nil
	case <-ctx.Done():
		return analysis.Response{}, ctx.Err()
	}
}
