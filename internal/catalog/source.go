package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rondot/internal"
	"rondot/internal/config"
)

// HTTPSource pulls the client and product catalogs from the ERP bridge API
// using scroll pagination.
type HTTPSource struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *RateLimiter
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

type clientScrollPayload struct {
	Clients  []clientRow `json:"clients"`
	ScrollID *string     `json:"scrollId"`
}

type productScrollPayload struct {
	Products []productRow `json:"products"`
	ScrollID *string      `json:"scrollId"`
}

type clientRow struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
}

type productRow struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func NewHTTPSource(cfg config.Config) *HTTPSource {
	return &HTTPSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.CatalogTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.CatalogRateRPS),
	}
}

func (c *HTTPSource) FetchClients(ctx context.Context) ([]internal.ReferenceClient, error) {
	all := make([]internal.ReferenceClient, 0)
	err := c.scroll(ctx, "client/scroll", func(data json.RawMessage) (*string, int, error) {
		var payload clientScrollPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, 0, err
		}
		for _, row := range payload.Clients {
			if strings.TrimSpace(row.ID) == "" || strings.TrimSpace(row.DisplayName) == "" {
				continue
			}
			all = append(all, internal.ReferenceClient{
				ID:          strings.TrimSpace(row.ID),
				DisplayName: strings.TrimSpace(row.DisplayName),
				Email:       strings.TrimSpace(row.Email),
				Phone:       strings.TrimSpace(row.Phone),
			})
		}
		return payload.ScrollID, len(payload.Clients), nil
	})
	return all, err
}

func (c *HTTPSource) FetchProducts(ctx context.Context) ([]internal.ReferenceProduct, error) {
	all := make([]internal.ReferenceProduct, 0)
	err := c.scroll(ctx, "product/scroll", func(data json.RawMessage) (*string, int, error) {
		var payload productScrollPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, 0, err
		}
		for _, row := range payload.Products {
			if strings.TrimSpace(row.Code) == "" {
				continue
			}
			all = append(all, internal.ReferenceProduct{
				Code: strings.TrimSpace(row.Code),
				Name: strings.TrimSpace(row.Name),
			})
		}
		return payload.ScrollID, len(payload.Products), nil
	})
	return all, err
}

func (c *HTTPSource) scroll(ctx context.Context, endpoint string, page func(json.RawMessage) (*string, int, error)) error {
	seen := map[string]struct{}{}
	var scrollID string

	for {
		query := map[string]string{}
		if scrollID != "" {
			query["scrollId"] = scrollID
		}

		body, err := c.fetchJSON(ctx, endpoint, query)
		if err != nil {
			return err
		}

		next, count, err := page(body)
		if err != nil {
			return err
		}
		if next == nil || *next == "" || count == 0 {
			return nil
		}
		if _, ok := seen[*next]; ok {
			return nil
		}
		seen[*next] = struct{}{}
		scrollID = *next
	}
}

func (c *HTTPSource) fetchJSON(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	if strings.TrimSpace(c.cfg.CatalogAPIToken) == "" {
		return nil, errors.New("missing CATALOG_API_TOKEN")
	}

	baseURL := strings.TrimRight(c.cfg.CatalogAPIBaseURL, "/") + "/"
	u, err := url.Parse(baseURL + endpoint)
	if err != nil {
		return nil, err
	}

	q := u.Query()
	for k, v := range params {
		if strings.TrimSpace(v) != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var lastErr error
	for attempt := 1; attempt <= 5; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.CatalogAPIToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < 5 {
				backoff := time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
				time.Sleep(backoff)
				lastErr = fmt.Errorf("catalog status %d", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("catalog api error: status=%d body=%s", resp.StatusCode, string(body))
		}

		var apiResp apiResponse
		if err := json.Unmarshal(body, &apiResp); err != nil {
			return nil, err
		}
		if !apiResp.Success {
			return nil, fmt.Errorf("catalog api unsuccessful: %s", string(apiResp.Errors))
		}
		return apiResp.Data, nil
	}

	if lastErr == nil {
		lastErr = errors.New("catalog request failed")
	}
	return nil, lastErr
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
