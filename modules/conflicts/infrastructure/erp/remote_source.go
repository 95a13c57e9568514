package erp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

// RemoteSource reads ERP records over the client. Missing records map to
// ports.ErrRecordNotFound; transport failures, throttling and 5xx responses
// map to *types.SourceUnavailableError.
type RemoteSource struct {
	client *Client
	tokens *TokenSource
}

func NewRemoteSource(client *Client) *RemoteSource {
	return &RemoteSource{client: client, tokens: NewTokenSource(client)}
}

var _ ports.RemoteSource = (*RemoteSource)(nil)

type recordResponse struct {
	Fields     types.Fields `json:"fields"`
	ModifiedAt string       `json:"modified_at"`
}

func (s *RemoteSource) Fetch(ctx context.Context, tenantID string, entityType string, entityID string) (types.Snapshot, error) {
	tenantID = strings.TrimSpace(tenantID)
	entityType = strings.TrimSpace(entityType)
	entityID = strings.TrimSpace(entityID)
	if tenantID == "" || entityType == "" || entityID == "" {
		return types.Snapshot{}, types.NewValidationError("tenant_id, entity_type and entity_id are required")
	}
	unavailable := func(err error) error {
		return &types.SourceUnavailableError{EntityType: entityType, EntityID: entityID, Source: types.SourceRemote, Err: err}
	}

	// One retry after a 401 with a fresh token.
	for attempt := 0; ; attempt++ {
		if err := s.client.limiter.Wait(ctx); err != nil {
			return types.Snapshot{}, err
		}
		token, err := s.tokens.Token(ctx)
		if err != nil {
			return types.Snapshot{}, unavailable(err)
		}
		snap, status, err := s.fetchOnce(ctx, token, tenantID, entityType, entityID)
		switch {
		case status == http.StatusUnauthorized && attempt == 0:
			s.tokens.Invalidate()
			continue
		case status == http.StatusNotFound:
			return types.Snapshot{}, ports.ErrRecordNotFound
		case err != nil && ctx.Err() != nil:
			return types.Snapshot{}, ctx.Err()
		case err != nil && (status == 0 || status == http.StatusTooManyRequests || status >= 500):
			return types.Snapshot{}, unavailable(err)
		case err != nil:
			return types.Snapshot{}, err
		}
		return snap, nil
	}
}

func (s *RemoteSource) fetchOnce(ctx context.Context, token string, tenantID string, entityType string, entityID string) (types.Snapshot, int, error) {
	u, err := s.client.endpoint("/api/v1/records/" + url.PathEscape(entityType) + "/" + url.PathEscape(entityID))
	if err != nil {
		return types.Snapshot{}, -1, err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := s.client.HTTPClient.Do(req)
	if err != nil {
		return types.Snapshot{}, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.Snapshot{}, resp.StatusCode, &APIError{Status: resp.StatusCode, Msg: strings.TrimSpace(string(body))}
	}

	var rr recordResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return types.Snapshot{}, resp.StatusCode, fmt.Errorf("decode erp record: %w", err)
	}
	snap := types.Snapshot{Fields: rr.Fields}
	if snap.Fields == nil {
		snap.Fields = types.Fields{}
	}
	if rr.ModifiedAt != "" {
		at, err := parseModifiedAt(rr.ModifiedAt)
		if err != nil {
			return types.Snapshot{}, resp.StatusCode, err
		}
		snap.ModifiedAt = at
	}
	return snap, resp.StatusCode, nil
}

var errBadModifiedAt = errors.New("erp record has invalid modified_at")

// parseModifiedAt accepts RFC 3339 or unix seconds.
func parseModifiedAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", errBadModifiedAt, raw)
}
