package mastosw

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// PushPayload is the decrypted push message.
type PushPayload struct {
	AccessToken     string `json:"access_token"`
	NotificationID  FlexID `json:"notification_id"`
	PreferredLocale string `json:"preferred_locale"`
	Title           string `json:"title"`
	Body            string `json:"body"`
	Icon            string `json:"icon"`
}

func parsePushPayload(data []byte) (PushPayload, error) {
	var p PushPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return PushPayload{}, &ParseError{Err: fmt.Errorf("push payload: %w", err)}
	}
	return p, nil
}

// PushResolver turns push messages into platform notifications.
type PushResolver struct {
	clients  ClientSet
	api      NotificationAPI
	notifier Notifier
	cfg      PushConfig
	log      *zap.Logger
}

func NewPushResolver(clients ClientSet, api NotificationAPI, notifier Notifier, cfg PushConfig, log *zap.Logger) *PushResolver {
	if cfg.DefaultIcon == "" {
		cfg.DefaultIcon = DefaultIcon
	}
	if cfg.FallbackTitle == "" {
		cfg.FallbackTitle = FallbackTitle
	}
	if cfg.FallbackBody == "" {
		cfg.FallbackBody = FallbackBody
	}
	return &PushResolver{clients: clients, api: api, notifier: notifier, cfg: cfg, log: log}
}

// HandlePush shows a notification for one push message. Empty data is
// dropped, and nothing is shown while any window client is focused.
// Resolution failures degrade to a notification built from the payload
// alone, then to a fixed one.
func (p *PushResolver) HandlePush(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	clients, err := p.clients.MatchAll(ctx, true)
	if err != nil {
		p.log.Warn("match clients", zap.Error(err))
	}
	for _, c := range clients {
		if c.Focused {
			p.log.Debug("app focused, notification suppressed", zap.String("client", c.ID))
			return nil
		}
	}

	n, err := p.resolve(ctx, data)
	if err == nil {
		if err = p.notifier.Show(ctx, n); err == nil {
			return nil
		}
	}
	p.log.Warn("push resolution failed", zap.Error(err))

	n, err = p.payloadOnly(data)
	if err == nil {
		if err = p.notifier.Show(ctx, n); err == nil {
			return nil
		}
	}
	p.log.Warn("payload notification failed", zap.Error(err))

	return p.notifier.Show(ctx, p.fixed())
}

func (p *PushResolver) resolve(ctx context.Context, data []byte) (Notification, error) {
	payload, err := parsePushPayload(data)
	if err != nil {
		return Notification{}, err
	}
	res, err := p.api.Notification(ctx, payload.AccessToken, payload.NotificationID.String())
	if err != nil {
		return Notification{}, err
	}

	n := Notification{
		Title:     payload.Title,
		Body:      payload.Body,
		Icon:      payload.Icon,
		Tag:       res.ID.String(),
		Timestamp: res.CreatedAt,
		Data: NotificationData{
			URL:             deepLink(res),
			AccessToken:     payload.AccessToken,
			PreferredLocale: payload.PreferredLocale,
		},
	}
	if n.Tag == "" {
		n.Tag = payload.NotificationID.String()
	}
	if res.Account != nil && res.Account.AvatarStatic != "" {
		n.Icon = res.Account.AvatarStatic
	}
	if n.Icon == "" {
		n.Icon = p.cfg.DefaultIcon
	}
	if st := res.Status; st != nil {
		n.Body = htmlToText(st.Content)
		n.Data.ID = st.ID.String()
		if len(st.MediaAttachments) > 0 {
			n.Image = st.MediaAttachments[0].PreviewURL
		}
	} else if res.Account != nil {
		n.Data.ID = res.Account.ID.String()
	}
	if n.Title == "" {
		n.Title = p.cfg.FallbackTitle
	}
	return n, nil
}

// payloadOnly parses the push data again and builds a notification from it
// without contacting the server.
func (p *PushResolver) payloadOnly(data []byte) (Notification, error) {
	payload, err := parsePushPayload(data)
	if err != nil {
		return Notification{}, err
	}
	n := Notification{
		Title: payload.Title,
		Body:  payload.Body,
		Icon:  payload.Icon,
		Tag:   payload.NotificationID.String(),
		Data: NotificationData{
			URL:             NotificationsPath,
			AccessToken:     payload.AccessToken,
			PreferredLocale: payload.PreferredLocale,
		},
	}
	if n.Title == "" {
		n.Title = p.cfg.FallbackTitle
	}
	if n.Body == "" {
		n.Body = p.cfg.FallbackBody
	}
	if n.Icon == "" {
		n.Icon = p.cfg.DefaultIcon
	}
	return n, nil
}

func (p *PushResolver) fixed() Notification {
	return Notification{
		Title: p.cfg.FallbackTitle,
		Body:  p.cfg.FallbackBody,
		Icon:  p.cfg.DefaultIcon,
		Data:  NotificationData{URL: NotificationsPath},
	}
}

// deepLink is the post for status notifications, otherwise the actor's
// profile.
func deepLink(n *APINotification) string {
	if n.Status != nil && n.Status.ID != "" {
		return "/status/" + n.Status.ID.String()
	}
	if n.Account != nil && n.Account.Acct != "" {
		return "/@" + n.Account.Acct
	}
	return NotificationsPath
}
