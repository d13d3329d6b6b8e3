package syncworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/poiselabs/poise/internal/domain"
)

// HTTPSyncer pushes finalized session records to the remote session
// service's sync endpoint.
type HTTPSyncer struct {
	url       string
	authToken string
	client    *http.Client
}

// NewHTTPSyncer creates a syncer posting to the given URL.
func NewHTTPSyncer(url, authToken string) *HTTPSyncer {
	return &HTTPSyncer{
		url:       url,
		authToken: authToken,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Sync implements session.Syncer. Any non-2xx response counts as a failed
// sync; the record stays queued.
func (s *HTTPSyncer) Sync(ctx context.Context, rec *domain.SessionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sync request: %w", domain.ErrSyncFailed)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sync returned %d: %w", resp.StatusCode, domain.ErrSyncFailed)
	}
	return nil
}
