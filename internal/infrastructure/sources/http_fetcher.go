// Package sources contains connector clients that pull raw message
// pages from external platforms on behalf of the ingestion pipeline.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/recallhq/recall-server/internal/domain/recall"
)

// HTTPFetcher pulls message pages from a connector service exposing
// GET /v1/messages. The connector owns pagination; the cursor is
// opaque here and fetching the same cursor twice yields the same page.
type HTTPFetcher struct {
	baseURL    string
	httpClient *http.Client
}

var _ recall.Fetcher = (*HTTPFetcher)(nil)

func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type pageResponse struct {
	Messages []struct {
		ConversationExternalID string            `json:"conversation_external_id"`
		ConversationTitle      string            `json:"conversation_title"`
		Participants           []string          `json:"participants"`
		ExternalID             string            `json:"external_id"`
		Sender                 string            `json:"sender"`
		SentAt                 time.Time         `json:"sent_at"`
		Body                   string            `json:"body"`
		Metadata               map[string]string `json:"metadata"`
	} `json:"messages"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ownerID, source, cursor string) (recall.Page, error) {
	query := url.Values{}
	query.Set("owner_id", ownerID)
	query.Set("source", source)
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	endpoint := f.baseURL + "/v1/messages?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return recall.Page{}, fmt.Errorf("create fetch request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return recall.Page{}, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return recall.Page{}, fmt.Errorf("connector returned status %d: %s", resp.StatusCode, string(body))
	}

	var decoded pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return recall.Page{}, fmt.Errorf("decode connector response: %w", err)
	}

	page := recall.Page{
		Messages:   make([]recall.RawMessage, 0, len(decoded.Messages)),
		NextCursor: decoded.NextCursor,
		HasMore:    decoded.HasMore,
	}
	for _, m := range decoded.Messages {
		page.Messages = append(page.Messages, recall.RawMessage{
			ConversationExternalID: m.ConversationExternalID,
			ConversationTitle:      m.ConversationTitle,
			Participants:           m.Participants,
			ExternalID:             m.ExternalID,
			Sender:                 m.Sender,
			SentAt:                 m.SentAt,
			Body:                   m.Body,
			Metadata:               m.Metadata,
		})
	}

	return page, nil
}
