package music

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/time/rate"
)

var (
	ErrUnrecognizedRequest = errors.New("unrecognized request")
	ErrResolveFailed       = errors.New("resolve failed")
)

const (
	DefaultBatchSize   = 10
	DefaultConcurrency = 10
	DefaultSearchLimit = 5
)

// Skip reasons recorded for entries that never reach the queue.
const (
	SkipNotPublic  = "not public"
	SkipNoMatch    = "no search match"
	SkipLookupFail = "lookup failed"
)

// Sink receives each resolved batch in source order. The resolver waits for
// it to return before starting the next batch.
type Sink func(ctx context.Context, tracks []Track) error

type ResolverOptions struct {
	BatchSize   int
	Concurrency int
	// Timeout bounds every single provider call. Zero means no bound.
	Timeout time.Duration
	// Limiter is shared by every provider call in the process.
	Limiter     *rate.Limiter
	SearchLimit int
}

// Result summarizes one Resolve call.
type Result struct {
	JobID   string
	Added   int
	Skipped int
	First   Track
}

// Resolver turns user requests into tracks.
type Resolver struct {
	links LinkProvider
	meta  []MetadataProvider
	cache *Cache
	skips SkipRecorder
	opts  ResolverOptions
	log   *slog.Logger
}

func NewResolver(links LinkProvider, meta []MetadataProvider, cache *Cache, skips SkipRecorder, opts ResolverOptions, log *slog.Logger) *Resolver {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = DefaultSearchLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		links: links,
		meta:  lo.Filter(meta, func(m MetadataProvider, _ int) bool { return m != nil }),
		cache: cache,
		skips: skips,
		opts:  opts,
		log:   log,
	}
}

// outcome is the fate of a single entry.
type outcome struct {
	track  Track
	ok     bool
	title  string
	reason string
}

// Resolve resolves request and hands the tracks to sink batch by batch.
// Individual entries that cannot be resolved are skipped; only a failure of
// the request as a whole is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, room snowflake.ID, request string, playlist bool, sink Sink) (Result, error) {
	request = strings.TrimSpace(request)
	res := Result{JobID: uuid.NewString()}
	log := r.log.With("job", res.JobID, "room", room)

	if request == "" {
		return res, ErrUnrecognizedRequest
	}

	var (
		outcomes []outcome
		err      error
	)
	if mp := r.metadataFor(request); mp != nil {
		outcomes, err = r.resolveMetadata(ctx, mp, request, sink, &res)
	} else if isURL(request) {
		outcomes, err = r.resolveLink(ctx, request, playlist, sink, &res)
	} else if looksLikeLink(request) {
		err = ErrUnrecognizedRequest
	} else {
		outcomes, err = r.resolveSearch(ctx, request, sink, &res)
	}

	skipped := lo.Filter(outcomes, func(o outcome, _ int) bool { return !o.ok })
	res.Skipped = len(skipped)
	if res.Skipped > 0 {
		log.Warn("Skipped unavailable entries", "request", request, "skipped", res.Skipped, "added", res.Added)
		r.recordSkips(ctx, res.JobID, room, request, skipped)
	}
	if err != nil {
		log.Debug("Resolve failed", "request", request, "err", err)
		return res, err
	}
	log.Info("Resolved request", "request", request, "added", res.Added, "skipped", res.Skipped)
	return res, nil
}

func (r *Resolver) metadataFor(request string) MetadataProvider {
	mp, _ := lo.Find(r.meta, func(m MetadataProvider) bool { return m.Supports(request) })
	return mp
}

// resolveLink extracts link. Only single-item requests go through the link
// cache, since the same URL can name a whole playlist.
func (r *Resolver) resolveLink(ctx context.Context, link string, playlist bool, sink Sink, res *Result) ([]outcome, error) {
	if !playlist {
		if t, ok := r.cache.Get(link); ok {
			return r.deliverCached(ctx, t, sink, res)
		}
	}

	var entries []RawCatalogEntry
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		entries, err = r.links.Extract(ctx, link, playlist)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolveFailed, err)
	}
	if len(entries) == 0 {
		return nil, ErrUnrecognizedRequest
	}

	outcomes, err := r.fanOut(ctx, len(entries), func(ctx context.Context, i int) outcome {
		return r.resolveEntry(ctx, entries[i])
	}, sink, res)
	if !playlist && len(entries) == 1 && len(outcomes) == 1 && outcomes[0].ok {
		r.cache.Put(link, outcomes[0].track)
	}
	return outcomes, err
}

func (r *Resolver) resolveSearch(ctx context.Context, query string, sink Sink, res *Result) ([]outcome, error) {
	key := NormalizeQuery(query)
	if t, ok := r.cache.Get(key); ok {
		return r.deliverCached(ctx, t, sink, res)
	}

	var hits []RawCatalogEntry
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		hits, err = r.links.Search(ctx, query, r.opts.SearchLimit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolveFailed, err)
	}
	hit, ok := lo.Find(hits, RawCatalogEntry.Public)
	if !ok {
		return nil, ErrUnrecognizedRequest
	}

	t := hit.Track()
	r.cache.Put(hit.URL, t)
	r.cache.Put(key, t)
	return r.deliverCached(ctx, t, sink, res)
}

func (r *Resolver) resolveMetadata(ctx context.Context, mp MetadataProvider, request string, sink Sink, res *Result) ([]outcome, error) {
	var metas []TrackMeta
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		metas, err = mp.Tracks(ctx, request)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolveFailed, err)
	}
	if len(metas) == 0 {
		return nil, ErrUnrecognizedRequest
	}

	return r.fanOut(ctx, len(metas), func(ctx context.Context, i int) outcome {
		return r.resolveMeta(ctx, metas[i])
	}, sink, res)
}

func (r *Resolver) deliverCached(ctx context.Context, t Track, sink Sink, res *Result) ([]outcome, error) {
	if err := sink(ctx, []Track{t}); err != nil {
		return nil, err
	}
	res.Added, res.First = 1, t
	return []outcome{{track: t, ok: true, title: t.Title}}, nil
}

// resolveEntry turns one link-provider entry into a track. Flat playlist
// listings sometimes lack titles; those are looked up individually.
func (r *Resolver) resolveEntry(ctx context.Context, e RawCatalogEntry) outcome {
	if e.URL != "" {
		if t, ok := r.cache.Get(e.URL); ok {
			return outcome{track: t, ok: true, title: t.Title}
		}
	}
	if !e.Public() {
		return outcome{title: lo.CoalesceOrEmpty(e.Title, e.URL), reason: SkipNotPublic}
	}

	if e.Title == "" || e.Title == "NA" {
		var full []RawCatalogEntry
		err := r.call(ctx, func(ctx context.Context) error {
			var err error
			full, err = r.links.Extract(ctx, e.URL, false)
			return err
		})
		if err != nil || len(full) == 0 {
			return outcome{title: e.URL, reason: SkipLookupFail}
		}
		if !full[0].Public() {
			return outcome{title: lo.CoalesceOrEmpty(full[0].Title, e.URL), reason: SkipNotPublic}
		}
		e = full[0]
	}

	t := e.Track()
	r.cache.Put(t.Locator, t)
	return outcome{track: t, ok: true, title: t.Title}
}

// resolveMeta finds a playable track for a metadata-only result.
func (r *Resolver) resolveMeta(ctx context.Context, m TrackMeta) outcome {
	key := m.SearchKey()
	if key == "" {
		return outcome{reason: SkipNoMatch}
	}
	if t, ok := r.cache.Get(key); ok {
		return outcome{track: t, ok: true, title: t.Title}
	}

	var hits []RawCatalogEntry
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		hits, err = r.links.Search(ctx, m.Query(), r.opts.SearchLimit)
		return err
	})
	if err != nil {
		return outcome{title: m.Query(), reason: SkipLookupFail}
	}
	best, ok := selectBest(hits, m)
	if !ok {
		return outcome{title: m.Query(), reason: SkipNoMatch}
	}

	t := best.Track()
	r.cache.Put(key, t)
	return outcome{track: t, ok: true, title: t.Title}
}

// fanOut resolves n entries in fixed-size batches with bounded concurrency.
// Each batch is handed to sink in source order before the next one starts.
func (r *Resolver) fanOut(ctx context.Context, n int, resolve func(context.Context, int) outcome, sink Sink, res *Result) ([]outcome, error) {
	all := make([]outcome, 0, n)
	sem := make(chan struct{}, r.opts.Concurrency)

	for _, batch := range lo.Chunk(lo.Range(n), r.opts.BatchSize) {
		results := make([]outcome, len(batch))
		var wg sync.WaitGroup
		for j, idx := range batch {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return all, ctx.Err()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				defer func() {
					if rec := recover(); rec != nil {
						r.log.Error("Panic while resolving entry", "index", idx, "panic", rec)
						results[j] = outcome{reason: SkipLookupFail}
					}
				}()
				results[j] = resolve(ctx, idx)
			}()
		}
		wg.Wait()

		all = append(all, results...)
		tracks := lo.FilterMap(results, func(o outcome, _ int) (Track, bool) { return o.track, o.ok })
		if len(tracks) == 0 {
			continue
		}
		if err := sink(ctx, tracks); err != nil {
			return all, err
		}
		if res.Added == 0 {
			res.First = tracks[0]
		}
		res.Added += len(tracks)
	}
	return all, ctx.Err()
}

// call runs one provider call under the shared rate limit and timeout.
func (r *Resolver) call(ctx context.Context, fn func(context.Context) error) error {
	if r.opts.Limiter != nil {
		if err := r.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	return fn(ctx)
}

func (r *Resolver) recordSkips(ctx context.Context, job string, room snowflake.ID, request string, skipped []outcome) {
	for _, o := range skipped {
		r.log.Debug("Skipped entry", "job", job, "title", o.title, "reason", o.reason)
	}
	if r.skips == nil {
		return
	}
	records := lo.Map(skipped, func(o outcome, _ int) Skip {
		return Skip{JobID: job, Room: room, Request: request, Title: o.title, Reason: o.reason}
	})
	if err := r.skips.RecordSkips(context.WithoutCancel(ctx), records); err != nil {
		r.log.Warn("Failed to record skipped entries", "job", job, "err", err)
	}
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// looksLikeLink catches links no provider can open, such as other schemes.
func looksLikeLink(s string) bool {
	return !strings.ContainsAny(s, " \t") && strings.Contains(s, "://")
}
