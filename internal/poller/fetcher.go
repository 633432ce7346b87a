package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxStatusBytes = 1 << 20

// ErrThrottled is returned when the API rate-limits the poller. It is
// transient like any transport error.
var ErrThrottled = errors.New("informe status throttled")

// HTTPFetcher queries GET {BaseURL}/api/informe/{id}.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher returns a fetcher whose single requests time out after
// requestTimeout.
func NewHTTPFetcher(baseURL string, requestTimeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: requestTimeout},
	}
}

// Fetch performs one query. Any JSON answer is a Status, whatever its HTTP
// code, except 429; transport failures and non-JSON bodies are errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, id string) (Status, error) {
	endpoint := f.BaseURL + "/api/informe/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Status{}, err
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Status{}, fmt.Errorf("%w (retry after %ss)", ErrThrottled, resp.Header.Get("Retry-After"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBytes))
	if err != nil {
		return Status{}, err
	}
	var status Status
	if err := json.Unmarshal(body, &status); err != nil {
		return Status{}, fmt.Errorf("informe status %d: invalid body: %w", resp.StatusCode, err)
	}
	status.HTTPStatus = resp.StatusCode
	return status, nil
}
