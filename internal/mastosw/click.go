package mastosw

import (
	"context"

	"go.uber.org/zap"
)

// ClickRouter brings the app to the resource a clicked notification points
// at, reusing an open window when it can.
type ClickRouter struct {
	center  *NotificationCenter
	clients ClientSet
	log     *zap.Logger
}

func NewClickRouter(center *NotificationCenter, clients ClientSet, log *zap.Logger) *ClickRouter {
	return &ClickRouter{center: center, clients: clients, log: log}
}

func (c *ClickRouter) HandleClick(ctx context.Context, tag string) error {
	n, ok := c.center.Get(tag)
	if !ok {
		return ErrNotificationNotFound
	}
	c.center.Close(tag)

	target := n.Data.URL
	if target == "" {
		target = "/"
	}
	log := c.log.With(zap.String("tag", tag), zap.String("url", target))

	if err := c.clients.Claim(ctx); err != nil {
		log.Warn("claim clients", zap.Error(err))
	}
	list, err := c.clients.MatchAll(ctx, false)
	if err != nil {
		log.Warn("match clients", zap.Error(err))
	}

	if client, ok := pickClient(list); ok && client.SupportsNavigate {
		err := c.clients.Focus(ctx, client.ID)
		if err == nil {
			err = c.clients.Navigate(ctx, client.ID, target)
		}
		if err == nil {
			log.Debug("navigated client", zap.String("client", client.ID))
			return nil
		}
		log.Warn("navigate client", zap.String("client", client.ID), zap.Error(err))
	}
	return c.clients.OpenWindow(ctx, target)
}
