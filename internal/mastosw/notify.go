package mastosw

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationData travels with a shown notification and is read back when
// it is clicked.
type NotificationData struct {
	URL             string `json:"url"`
	AccessToken     string `json:"access_token,omitempty"`
	PreferredLocale string `json:"preferred_locale,omitempty"`
	ID              string `json:"id,omitempty"`
}

type Notification struct {
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Icon      string           `json:"icon,omitempty"`
	Image     string           `json:"image,omitempty"`
	Tag       string           `json:"tag,omitempty"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
	Data      NotificationData `json:"data"`

	ShownAt time.Time `json:"shown_at"`
}

// Notifier displays platform notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// NotificationCenter is the queue of shown notifications. A notification
// with the tag of one already shown replaces it.
type NotificationCenter struct {
	mu    sync.Mutex
	items map[string]Notification
	now   func() time.Time
}

func NewNotificationCenter() *NotificationCenter {
	return &NotificationCenter{items: map[string]Notification{}, now: time.Now}
}

func (c *NotificationCenter) Show(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.Tag == "" {
		n.Tag = uuid.NewString()
	}
	n.ShownAt = c.now()
	c.mu.Lock()
	c.items[n.Tag] = n
	c.mu.Unlock()
	return nil
}

func (c *NotificationCenter) Get(tag string) (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.items[tag]
	return n, ok
}

// Close removes a notification. It reports whether one was shown.
func (c *NotificationCenter) Close(tag string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[tag]
	delete(c.items, tag)
	return ok
}

// List returns shown notifications, oldest first.
func (c *NotificationCenter) List() []Notification {
	c.mu.Lock()
	out := make([]Notification, 0, len(c.items))
	for _, n := range c.items {
		out = append(out, n)
	}
	c.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ShownAt.Equal(out[j].ShownAt) {
			return out[i].Tag < out[j].Tag
		}
		return out[i].ShownAt.Before(out[j].ShownAt)
	})
	return out
}
