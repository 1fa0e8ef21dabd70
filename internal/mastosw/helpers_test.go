package mastosw

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errOffline = errors.New("dial tcp: connect: connection refused")

// fakeOrigin answers fetches from a fixed table keyed by request URI.
type fakeOrigin struct {
	mu        sync.Mutex
	responses map[string]CacheEntry
	calls     map[string]int
	offline   bool
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{responses: map[string]CacheEntry{}, calls: map[string]int{}}
}

func (o *fakeOrigin) set(key string, status int, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.responses[key] = newEntry(status, http.Header{"Content-Type": {"text/plain"}}, []byte(body))
}

func (o *fakeOrigin) setOffline(v bool) {
	o.mu.Lock()
	o.offline = v
	o.mu.Unlock()
}

func (o *fakeOrigin) count(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[key]
}

func (o *fakeOrigin) Fetch(req *http.Request) (CacheEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := req.URL.RequestURI()
	o.calls[key]++
	if o.offline {
		return CacheEntry{}, errOffline
	}
	ent, ok := o.responses[key]
	if !ok {
		return newEntry(http.StatusNotFound, nil, []byte("not found")), nil
	}
	return ent.clone(), nil
}

type postedMessage struct {
	ID  string
	Msg Message
}

type navigation struct {
	ID  string
	URL string
}

// fakeClients is a scripted ClientSet that records what was asked of it.
type fakeClients struct {
	mu        sync.Mutex
	list      []WindowClient
	claims    int
	posted    []postedMessage
	focused   []string
	navigated []navigation
	opened    []string
	navErr    error
}

func (f *fakeClients) MatchAll(ctx context.Context, includeUncontrolled bool) ([]WindowClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []WindowClient
	for _, c := range f.list {
		if includeUncontrolled || c.Controlled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeClients) Claim(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims++
	for i := range f.list {
		f.list[i].Controlled = true
	}
	return nil
}

func (f *fakeClients) PostMessage(ctx context.Context, id string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, postedMessage{ID: id, Msg: msg})
	return nil
}

func (f *fakeClients) Focus(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focused = append(f.focused, id)
	return nil
}

func (f *fakeClients) Navigate(ctx context.Context, id, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navErr != nil {
		return f.navErr
	}
	f.navigated = append(f.navigated, navigation{ID: id, URL: target})
	return nil
}

func (f *fakeClients) OpenWindow(ctx context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, target)
	return nil
}

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

const (
	testCache  = "mastodon-pwa-v1"
	testOrigin = "http://origin.test"
	testPage   = "https://social.test"
)

type routerFixture struct {
	rt      *Router
	store   *MemoryStore
	origin  *fakeOrigin
	clients *fakeClients
	life    *Lifecycle
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	log := zap.NewNop()
	f := &routerFixture{
		store:   NewMemoryStore(),
		origin:  newFakeOrigin(),
		clients: &fakeClients{},
	}
	f.life = NewLifecycle(testCache, nil, testOrigin, f.store, f.origin, f.clients, log)
	require.NoError(t, f.life.Install(context.Background()))
	require.NoError(t, f.life.Activate(context.Background()))

	rt, err := NewRouter(RouterConfig{
		Page:      mustURL(t, testPage),
		Origin:    testOrigin,
		Store:     f.store,
		Fetcher:   f.origin,
		Lifecycle: f.life,
		Stale:     NewStaleDetector(f.life, f.store, f.clients, log),
		Log:       log,
	})
	require.NoError(t, err)
	f.rt = rt
	return f
}

func (f *routerFixture) seed(t *testing.T, key, body string) {
	t.Helper()
	require.NoError(t, f.store.Put(testCache, key, newEntry(http.StatusOK, nil, []byte(body))))
}

func (f *routerFixture) cached(t *testing.T, key string) (string, bool) {
	t.Helper()
	ent, ok, err := f.store.Match(testCache, key)
	require.NoError(t, err)
	return string(ent.Body), ok
}
