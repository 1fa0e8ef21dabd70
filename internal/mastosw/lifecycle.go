package mastosw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInstallFailed = errors.New("install failed")
	ErrNotInstalled  = errors.New("activate before a successful install")
)

// Phase is the state of the current cache generation.
type Phase int

const (
	PhaseInstalling Phase = iota
	PhaseActive
	PhaseStaleDetected
)

func (p Phase) String() string {
	switch p {
	case PhaseInstalling:
		return "installing"
	case PhaseActive:
		return "active"
	case PhaseStaleDetected:
		return "stale-detected"
	}
	return "unknown"
}

// Lifecycle seeds the current cache generation, retires older ones and
// tracks whether a new deployment has been detected.
type Lifecycle struct {
	cacheName string
	seed      []string
	origin    string

	store   Store
	fetch   Fetcher
	clients ClientSet
	log     *zap.Logger

	mu        sync.Mutex
	phase     Phase
	installed bool
}

func NewLifecycle(cacheName string, seed []string, origin string, store Store, fetch Fetcher, clients ClientSet, log *zap.Logger) *Lifecycle {
	return &Lifecycle{
		cacheName: cacheName,
		seed:      seed,
		origin:    origin,
		store:     store,
		fetch:     fetch,
		clients:   clients,
		log:       log,
	}
}

func (l *Lifecycle) CacheName() string { return l.cacheName }

func (l *Lifecycle) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Install fills the current cache with the seed assets. Any failed seed, or
// one answered with anything but 200, fails the whole install and nothing is
// written, not even an empty cache. Installing again over an installed
// generation refreshes its seeds and leaves the phase alone.
func (l *Lifecycle) Install(ctx context.Context) error {
	var mu sync.Mutex
	ents := make(map[string]CacheEntry, len(l.seed))

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range l.seed {
		p := p
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, l.origin+p, nil)
			if err != nil {
				return err
			}
			ent, err := l.fetch.Fetch(req)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			if !cacheable(ent) {
				return fmt.Errorf("%s: status %d", p, ent.Status)
			}
			mu.Lock()
			ents[p] = ent
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	if err := l.store.PutAll(l.cacheName, ents); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	l.mu.Lock()
	l.installed = true
	l.mu.Unlock()
	l.log.Info("installed", zap.String("cache", l.cacheName), zap.Int("assets", len(ents)))
	return nil
}

// Activate drops every cache generation other than the current one and
// claims the open clients.
func (l *Lifecycle) Activate(ctx context.Context) error {
	l.mu.Lock()
	installed := l.installed
	l.mu.Unlock()
	if !installed {
		return ErrNotInstalled
	}

	names, err := l.store.Names()
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	for _, n := range names {
		if n == l.cacheName {
			continue
		}
		if err := l.store.Drop(n); err != nil {
			return fmt.Errorf("drop cache %s: %w", n, err)
		}
		l.log.Info("dropped old cache", zap.String("cache", n))
	}
	if err := l.clients.Claim(ctx); err != nil {
		return fmt.Errorf("claim clients: %w", err)
	}

	l.mu.Lock()
	l.phase = PhaseActive
	l.mu.Unlock()
	return nil
}

// MarkStale moves an active generation to stale-detected. It reports whether
// the phase changed.
func (l *Lifecycle) MarkStale() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != PhaseActive {
		return false
	}
	l.phase = PhaseStaleDetected
	return true
}

// MarkFresh returns a stale-detected generation to active once build assets
// load again.
func (l *Lifecycle) MarkFresh() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != PhaseStaleDetected {
		return false
	}
	l.phase = PhaseActive
	return true
}
