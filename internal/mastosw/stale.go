package mastosw

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// StaleDetector reacts to a missing build asset: the deployment that
// produced the cached build output is gone.
type StaleDetector struct {
	life    *Lifecycle
	store   Store
	clients ClientSet
	log     *zap.Logger
}

func NewStaleDetector(life *Lifecycle, store Store, clients ClientSet, log *zap.Logger) *StaleDetector {
	return &StaleDetector{life: life, store: store, clients: clients, log: log}
}

// Invalidate deletes every cached build asset and asks all window clients,
// controlled or not, to reload. Running it again is harmless.
func (d *StaleDetector) Invalidate(ctx context.Context) error {
	if d.life.MarkStale() {
		d.log.Info("new deployment detected", zap.String("cache", d.life.CacheName()))
	}

	name := d.life.CacheName()
	keys, err := d.store.Keys(name)
	if err != nil {
		return fmt.Errorf("list %s: %w", name, err)
	}
	deleted := 0
	for _, k := range keys {
		if !isBuildKey(k) {
			continue
		}
		if err := d.store.Delete(name, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
		deleted++
	}

	clients, err := d.clients.MatchAll(ctx, true)
	if err != nil {
		return fmt.Errorf("match clients: %w", err)
	}
	for _, c := range clients {
		if err := d.clients.PostMessage(ctx, c.ID, Message{Type: MessageReloadPage}); err != nil {
			d.log.Warn("reload message not delivered", zap.String("client", c.ID), zap.Error(err))
		}
	}
	d.log.Info("build assets invalidated", zap.Int("deleted", deleted), zap.Int("clients", len(clients)))
	return nil
}
