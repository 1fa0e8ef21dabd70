package mastosw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// FlexID is an identifier the server may encode as a JSON string or number.
type FlexID string

func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = FlexID(n.String())
	return nil
}

func (id FlexID) String() string { return string(id) }

type APIAccount struct {
	ID           FlexID `json:"id"`
	Acct         string `json:"acct"`
	AvatarStatic string `json:"avatar_static"`
}

type APIMediaAttachment struct {
	ID         FlexID `json:"id"`
	Type       string `json:"type"`
	PreviewURL string `json:"preview_url"`
}

type APIStatus struct {
	ID               FlexID               `json:"id"`
	Content          string               `json:"content"`
	MediaAttachments []APIMediaAttachment `json:"media_attachments"`
	Account          *APIAccount          `json:"account"`
}

// APINotification is the notification-detail entity.
type APINotification struct {
	ID        FlexID      `json:"id"`
	Type      string      `json:"type"`
	CreatedAt *time.Time  `json:"created_at"`
	Account   *APIAccount `json:"account"`
	Status    *APIStatus  `json:"status"`
}

type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("notification api: status %d", e.Status)
}

type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "notification api: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// NotificationAPI resolves a notification id into its full entity.
type NotificationAPI interface {
	Notification(ctx context.Context, token, id string) (*APINotification, error)
}

type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, client *http.Client) *APIClient {
	return &APIClient{baseURL: baseURL, client: client}
}

func (c *APIClient) Notification(ctx context.Context, token, id string) (*APINotification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/notifications/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var n APINotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &n, nil
}
