package mastosw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	cacheHeader        = "X-Sw-Cache"
	revalidateTimeout  = 30 * time.Second
	maxBackgroundFetch = 32
)

// Outcomes reported in the X-Sw-Cache response header.
const (
	OutcomeNetwork    = "network"
	OutcomeOffline    = "offline"
	OutcomeFallback   = "fallback"
	OutcomeHit        = "hit"
	OutcomeMiss       = "miss"
	OutcomeBypass     = "bypass"
	OutcomeBadGateway = "bad-gateway"
)

type RouterConfig struct {
	// Page is the origin browsers load the app from.
	Page *url.URL
	// Origin is the base URL network fetches are sent to.
	Origin string
	// MaxEntry caps the body size written to the cache; 0 means no cap.
	MaxEntry  int64
	Transport http.RoundTripper

	Store     Store
	Fetcher   Fetcher
	Lifecycle *Lifecycle
	Stale     *StaleDetector
	Log       *zap.Logger
}

// Router classifies intercepted requests and answers them with the
// matching cache strategy.
type Router struct {
	page     *url.URL
	origin   *url.URL
	maxEntry int64

	store Store
	fetch Fetcher
	life  *Lifecycle
	stale *StaleDetector
	log   *zap.Logger
	stats *statsCollector
	proxy *httputil.ReverseProxy

	bgSem chan struct{}
	bgLog *rateLimitedLogger
	wg    sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[string]struct{}
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, err
	}
	rt := &Router{
		page:     cfg.Page,
		origin:   origin,
		maxEntry: cfg.MaxEntry,
		store:    cfg.Store,
		fetch:    cfg.Fetcher,
		life:     cfg.Lifecycle,
		stale:    cfg.Stale,
		log:      cfg.Log,
		stats:    newStatsCollector(),
		bgSem:    make(chan struct{}, maxBackgroundFetch),
		bgLog:    newRateLimitedLogger(cfg.Log, time.Minute),
		pending:  map[string]struct{}{},
	}
	rt.proxy = &httputil.ReverseProxy{
		Rewrite:        rt.rewrite,
		Transport:      cfg.Transport,
		ModifyResponse: rt.markBypass,
		ErrorHandler:   rt.proxyError,
	}
	return rt, nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	class := Classify(r.URL, r.Header.Get("Sec-Fetch-Mode"), rt.page)
	if !class.Intercepted() || r.Method != http.MethodGet {
		rt.proxy.ServeHTTP(w, r)
		return
	}

	ent, outcome, err := rt.Respond(r.Context(), r, class)
	if err != nil {
		rt.log.Debug("no response", zap.String("url", r.URL.String()), zap.Stringer("class", class), zap.Error(err))
		setCacheHeaders(w.Header(), OutcomeBadGateway)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		rt.stats.Observe(OutcomeBadGateway, 0)
		return
	}
	writeEntry(w, ent, outcome)
	rt.stats.Observe(outcome, len(ent.Body))
}

// Respond answers an intercepted GET with the strategy for its class.
func (rt *Router) Respond(ctx context.Context, r *http.Request, class Class) (CacheEntry, string, error) {
	key := cacheKey(r.URL)
	switch class {
	case ClassNavigation:
		return rt.networkFirst(ctx, r, key)
	case ClassBuildAsset:
		return rt.buildAsset(ctx, r, key)
	case ClassStatic:
		return rt.staleWhileRevalidate(ctx, r, key)
	}
	return CacheEntry{}, "", errors.New("class " + class.String() + " is not intercepted")
}

// Drain waits for background revalidations to finish.
func (rt *Router) Drain() {
	rt.wg.Wait()
}

func (rt *Router) networkFirst(ctx context.Context, r *http.Request, key string) (CacheEntry, string, error) {
	ent, err := rt.fetchKey(ctx, r, key)
	if err == nil {
		rt.put(key, ent)
		return ent, OutcomeNetwork, nil
	}
	if cached, ok := rt.match(key); ok {
		return cached, OutcomeOffline, nil
	}
	// TODO: fall back per route once the app shell is cached separately from "/".
	if root, ok := rt.match("/"); ok {
		return root, OutcomeFallback, nil
	}
	return CacheEntry{}, "", err
}

func (rt *Router) buildAsset(ctx context.Context, r *http.Request, key string) (CacheEntry, string, error) {
	ent, err := rt.fetchKey(ctx, r, key)
	if err == nil {
		switch ent.Status {
		case http.StatusOK:
			rt.put(key, ent)
			if rt.life.MarkFresh() {
				rt.log.Info("build assets loading again", zap.String("url", key))
			}
		case http.StatusNotFound:
			if err := rt.stale.Invalidate(context.WithoutCancel(ctx)); err != nil {
				rt.log.Warn("invalidate build assets", zap.String("url", key), zap.Error(err))
			}
		}
		return ent, OutcomeNetwork, nil
	}
	// A build asset from an old deployment beats no asset while offline.
	if cached, ok := rt.match(key); ok {
		return cached, OutcomeOffline, nil
	}
	return CacheEntry{}, "", err
}

func (rt *Router) staleWhileRevalidate(ctx context.Context, r *http.Request, key string) (CacheEntry, string, error) {
	cached, ok := rt.match(key)
	if ok {
		rt.revalidateAsync(r, key)
		return cached, OutcomeHit, nil
	}
	ent, err := rt.fetchKey(ctx, r, key)
	if err != nil {
		return CacheEntry{}, "", err
	}
	rt.put(key, ent)
	return ent, OutcomeMiss, nil
}

// revalidateAsync refreshes key in the background. At most
// maxBackgroundFetch fetches run at once; the rest wait for a slot. A key
// already waiting or in flight is not queued twice.
func (rt *Router) revalidateAsync(r *http.Request, key string) {
	rt.pendingMu.Lock()
	if _, ok := rt.pending[key]; ok {
		rt.pendingMu.Unlock()
		return
	}
	rt.pending[key] = struct{}{}
	rt.pendingMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), revalidateTimeout)
	req, err := outgoing(ctx, r, rt.target(key))
	if err != nil {
		cancel()
		rt.donePending(key)
		return
	}

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		defer rt.donePending(key)
		defer cancel()

		select {
		case rt.bgSem <- struct{}{}:
		case <-ctx.Done():
			rt.bgLog.Warn("background fetch pool full, revalidation timed out", zap.String("url", key))
			return
		}
		defer func() { <-rt.bgSem }()

		ent, err := rt.fetch.Fetch(req)
		if err != nil {
			rt.log.Debug("revalidate failed", zap.String("url", key), zap.Error(err))
			return
		}
		if cur, ok := rt.match(key); ok && cur.Status == ent.Status && cur.Hash32 == ent.Hash32 {
			return
		}
		rt.put(key, ent)
	}()
}

func (rt *Router) donePending(key string) {
	rt.pendingMu.Lock()
	delete(rt.pending, key)
	rt.pendingMu.Unlock()
}

func (rt *Router) fetchKey(ctx context.Context, r *http.Request, key string) (CacheEntry, error) {
	req, err := outgoing(ctx, r, rt.target(key))
	if err != nil {
		return CacheEntry{}, err
	}
	return rt.fetch.Fetch(req)
}

func (rt *Router) target(key string) string {
	return strings.TrimRight(rt.origin.String(), "/") + key
}

func (rt *Router) put(key string, ent CacheEntry) {
	if !cacheable(ent) {
		return
	}
	if rt.maxEntry > 0 && int64(len(ent.Body)) > rt.maxEntry {
		rt.log.Debug("response too large to cache", zap.String("url", key), zap.Int("bytes", len(ent.Body)))
		return
	}
	if err := rt.store.Put(rt.life.CacheName(), key, ent); err != nil {
		rt.log.Warn("cache put", zap.String("url", key), zap.Error(err))
	}
}

func (rt *Router) match(key string) (CacheEntry, bool) {
	ent, ok, err := rt.store.Match(rt.life.CacheName(), key)
	if err != nil {
		rt.log.Warn("cache match", zap.String("url", key), zap.Error(err))
		return CacheEntry{}, false
	}
	return ent, ok
}

// rewrite targets the origin for same-origin requests and leaves
// cross-origin ones where they were going.
func (rt *Router) rewrite(pr *httputil.ProxyRequest) {
	pr.SetXForwarded()
	if Classify(pr.In.URL, "", rt.page) == ClassCrossOrigin {
		pr.Out.URL.Scheme = pr.In.URL.Scheme
		pr.Out.URL.Host = pr.In.URL.Host
		pr.Out.Host = ""
		return
	}
	pr.SetURL(rt.origin)
}

func (rt *Router) markBypass(resp *http.Response) error {
	setCacheHeaders(resp.Header, OutcomeBypass)
	rt.stats.Observe(OutcomeBypass, int(resp.ContentLength))
	return nil
}

func (rt *Router) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	rt.log.Debug("pass-through failed", zap.String("url", r.URL.String()), zap.Error(err))
	setCacheHeaders(w.Header(), OutcomeBadGateway)
	http.Error(w, "bad gateway", http.StatusBadGateway)
	rt.stats.Observe(OutcomeBadGateway, 0)
}

func writeEntry(w http.ResponseWriter, ent CacheEntry, outcome string) {
	for k, vs := range ent.Header {
		if strings.EqualFold(k, cacheHeader) {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setCacheHeaders(w.Header(), outcome)
	w.WriteHeader(ent.Status)
	_, _ = w.Write(ent.Body)
}

func setCacheHeaders(h http.Header, outcome string) {
	if outcome != "" {
		h.Set(cacheHeader, outcome)
	}
	ensureExposedHeader(h, cacheHeader)
}

func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}
	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}
