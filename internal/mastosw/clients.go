package mastosw

import (
	"context"
	"errors"
)

const (
	VisibilityVisible = "visible"
	VisibilityHidden  = "hidden"
)

// Message types exchanged with window clients.
const (
	MessageReloadPage = "RELOAD_PAGE"
	MessageFocus      = "FOCUS"
	MessageNavigate   = "NAVIGATE"
)

var ErrClientGone = errors.New("window client is gone")

// WindowClient is a snapshot of an open browser tab or window.
type WindowClient struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Focused         bool   `json:"focused"`
	VisibilityState string `json:"visibilityState"`
	Controlled      bool   `json:"controlled"`
	// SupportsNavigate is false for engines that cannot navigate a window
	// in place.
	SupportsNavigate bool `json:"supportsNavigate"`
}

type Message struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// ClientSet is the set of window clients for the page origin. Snapshots are
// taken fresh on every call and never cached.
type ClientSet interface {
	MatchAll(ctx context.Context, includeUncontrolled bool) ([]WindowClient, error)
	// Claim takes control of every open client.
	Claim(ctx context.Context) error
	PostMessage(ctx context.Context, id string, msg Message) error
	Focus(ctx context.Context, id string) error
	Navigate(ctx context.Context, id, url string) error
	OpenWindow(ctx context.Context, url string) error
}

// pickClient prefers a focused client, then a visible one, then the first.
func pickClient(list []WindowClient) (WindowClient, bool) {
	for _, c := range list {
		if c.Focused {
			return c, true
		}
	}
	for _, c := range list {
		if c.VisibilityState == VisibilityVisible {
			return c, true
		}
	}
	if len(list) > 0 {
		return list[0], true
	}
	return WindowClient{}, false
}
