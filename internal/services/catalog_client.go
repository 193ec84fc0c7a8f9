package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/slabworks/slab-market/backend/internal/models"
)

const (
	defaultCatalogBaseURL = "https://api.pokemontcg.io/v2"
	catalogPageSize       = 250
	catalogPageTimeout    = 30 * time.Second
)

// CatalogClient talks to the upstream card catalog API. Pagination within
// a set is strictly sequential because each page's continuation depends on
// the previous page's result size; pages are paced at one request per
// second to respect upstream rate limits.
type CatalogClient struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	limiter     *rate.Limiter
	pageTimeout time.Duration
}

type catalogPageResponse struct {
	Data []RawCard `json:"data"`
}

func NewCatalogClient(baseURL, apiKey string) *CatalogClient {
	if baseURL == "" {
		baseURL = defaultCatalogBaseURL
	}
	return &CatalogClient{
		client: &http.Client{
			Timeout: catalogPageTimeout,
		},
		baseURL:     baseURL,
		apiKey:      apiKey,
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		pageTimeout: catalogPageTimeout,
	}
}

// setQuery prefers the upstream set id when one exists; set name matching
// is the fallback and is more prone to upstream renames.
func setQuery(set models.Set) string {
	if set.ExternalID != "" {
		return fmt.Sprintf(`set.id:%q`, set.ExternalID)
	}
	return fmt.Sprintf(`set.name:%q`, set.Name)
}

// FetchSetCards pages through every card of a set, up to limit cards when
// limit > 0. A short page signals the end. On a page error or timeout,
// pages already fetched are returned rather than discarded so partial
// progress survives a slow upstream; the error is only returned when
// nothing was fetched at all.
func (c *CatalogClient) FetchSetCards(ctx context.Context, set models.Set, limit int) ([]RawCard, error) {
	var cards []RawCard

	for page := 1; ; page++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return cards, partialOrErr(cards, err)
		}

		batch, err := c.fetchPage(ctx, set, page)
		if err != nil {
			if len(cards) > 0 {
				log.Printf("CatalogClient: page %d of set %q failed (%v), keeping %d cards already fetched", page, set.Name, err, len(cards))
				return cards, nil
			}
			return nil, err
		}

		cards = append(cards, batch...)

		if limit > 0 && len(cards) >= limit {
			return cards[:limit], nil
		}
		if len(batch) < catalogPageSize {
			return cards, nil
		}
	}
}

func partialOrErr(cards []RawCard, err error) error {
	if len(cards) > 0 {
		return nil
	}
	return err
}

func (c *CatalogClient) fetchPage(ctx context.Context, set models.Set, page int) ([]RawCard, error) {
	pageCtx, cancel := context.WithTimeout(ctx, c.pageTimeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/cards?q=%s&pageSize=%d&page=%d",
		c.baseURL, url.QueryEscape(setQuery(set)), catalogPageSize, page)

	req, err := http.NewRequestWithContext(pageCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog API returned status %d for page %d", resp.StatusCode, page)
	}

	var pageResp catalogPageResponse
	if err := json.NewDecoder(resp.Body).Decode(&pageResp); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	return pageResp.Data, nil
}
