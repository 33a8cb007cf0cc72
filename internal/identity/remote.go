package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const mePath = "/api/v1/auth/me"

// RemoteResolver asks the auth service who owns a token.
type RemoteResolver struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewRemoteResolver(baseURL string, timeout time.Duration, client *http.Client, log *zap.Logger) *RemoteResolver {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RemoteResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log.Named("identity.remote"),
	}
}

type meResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (r *RemoteResolver) Resolve(ctx context.Context, token string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+mePath, nil)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Warn("auth service unreachable", zap.Error(err))
		return Identity{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Identity{}, ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return Identity{}, ErrForbidden
	case resp.StatusCode >= http.StatusInternalServerError:
		return Identity{}, fmt.Errorf("%w: auth service status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		r.log.Info("auth service rejected token",
			zap.Int("status", resp.StatusCode),
			zap.String("detail", detail(body)),
		)
		return Identity{}, ErrUnauthorized
	}

	var me meResponse
	if err := json.Unmarshal(body, &me); err != nil {
		return Identity{}, fmt.Errorf("%w: decode user: %w", ErrUnavailable, err)
	}
	userID, err := uuid.Parse(me.ID)
	if err != nil || userID == uuid.Nil {
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: userID, Email: me.Email, Role: me.Role}, nil
}

func detail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(body))
}
