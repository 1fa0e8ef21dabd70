package mastosw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	maxPushBytes = 64 << 10
	pushTimeout  = 30 * time.Second
)

// Service is the worker: fetch mediation, lifecycle, push and clicks
// behind one HTTP handler.
type Service struct {
	cfg Config
	log *zap.Logger

	httpClient *http.Client

	store   Store
	clients ClientSet
	hub     *Hub

	life   *Lifecycle
	stale  *StaleDetector
	router *Router
	center *NotificationCenter
	push   *PushResolver
	clicks *ClickRouter
	stats  *statsCollector

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewService(cfg Config, log *zap.Logger) (*Service, error) {
	var store Store
	switch cfg.Storage.Kind {
	case "memory":
		store = NewMemoryStore()
	default:
		ls, err := OpenLevelStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		store = ls
	}
	hub := NewHub(cfg.Server.PageOrigin(), *cfg.Push.OpenWindow, log.Named("clients"))
	s, err := newService(cfg, log, store, hub)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	s.hub = hub
	return s, nil
}

func newService(cfg Config, log *zap.Logger, store Store, clients ClientSet) (*Service, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	fetch := NewHTTPFetcher(httpClient)

	life := NewLifecycle(cfg.Cache.Name, cfg.Cache.Seed, cfg.Server.Origin, store, fetch, clients, log.Named("lifecycle"))
	stale := NewStaleDetector(life, store, clients, log.Named("stale"))
	router, err := NewRouter(RouterConfig{
		Page:      cfg.Server.PageOrigin(),
		Origin:    cfg.Server.Origin,
		MaxEntry:  cfg.Cache.maxEntryBytes,
		Transport: httpClient.Transport,
		Store:     store,
		Fetcher:   fetch,
		Lifecycle: life,
		Stale:     stale,
		Log:       log.Named("fetch"),
	})
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	center := NewNotificationCenter()
	api := NewAPIClient(cfg.API.BaseURL, &http.Client{Timeout: cfg.API.timeoutDur})

	s := &Service{
		cfg:        cfg,
		log:        log,
		httpClient: httpClient,
		store:      store,
		clients:    clients,
		life:       life,
		stale:      stale,
		router:     router,
		center:     center,
		push:       NewPushResolver(clients, api, center, cfg.Push, log.Named("push")),
		clicks:     NewClickRouter(center, clients, log.Named("click")),
		stats:      router.stats,
		stopCh:     make(chan struct{}),
	}

	if cfg.Logging.logStatsEveryDur > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(cfg.Logging.logStatsEveryDur)
		}()
	}
	return s, nil
}

// Start installs the current cache generation and activates it right away
// instead of waiting for open clients to go away.
func (s *Service) Start(ctx context.Context) error {
	if err := s.life.Install(ctx); err != nil {
		return err
	}
	return s.life.Activate(ctx)
}

func (s *Service) Close() {
	close(s.stopCh)
	s.wg.Wait()
	s.router.Drain()
	if err := s.store.Close(); err != nil {
		s.log.Warn("close store", zap.Error(err))
	}
}

func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/_sw", func(r chi.Router) {
		r.Get("/state", s.handleState)
		if s.hub != nil {
			r.Handle("/clients", s.hub.Handler())
		}
		r.Post("/push", s.handlePush)
		r.Get("/notifications", s.handleNotifications)
		r.Post("/notifications/{tag}/click", s.handleClick)
	})
	r.Handle("/*", s.router)
	return r
}

type stateResponse struct {
	Cache   string `json:"cache"`
	Phase   string `json:"phase"`
	Clients int    `json:"clients"`
	Cached  int    `json:"cached"`
}

func (s *Service) handleState(w http.ResponseWriter, r *http.Request) {
	clients, err := s.clients.MatchAll(r.Context(), true)
	if err != nil {
		s.log.Warn("match clients", zap.Error(err))
	}
	keys, err := s.store.Keys(s.life.CacheName())
	if err != nil {
		s.log.Warn("list cache", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, stateResponse{
		Cache:   s.life.CacheName(),
		Phase:   s.life.Phase().String(),
		Clients: len(clients),
		Cached:  len(keys),
	})
}

func (s *Service) handlePush(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxPushBytes+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(data) > maxPushBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	// The push relay hanging up must not cut resolution short.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), pushTimeout)
	defer cancel()
	if err := s.push.HandlePush(ctx, data); err != nil {
		s.log.Error("show notification", zap.Error(err))
		http.Error(w, "notification failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.center.List())
}

func (s *Service) handleClick(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	err := s.clicks.HandleClick(context.WithoutCancel(r.Context()), tag)
	switch {
	case errors.Is(err, ErrNotificationNotFound):
		http.Error(w, "notification not found", http.StatusNotFound)
	case err != nil:
		s.log.Error("notification click", zap.String("tag", tag), zap.Error(err))
		http.Error(w, "click failed", http.StatusBadGateway)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
