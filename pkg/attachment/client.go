package attachment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/synaptica-ai/proof-portal/pkg/common/logger"
	"github.com/synaptica-ai/proof-portal/pkg/gateway/httpclient"
)

// Client asks the file service for a short-lived download URL.
type Client struct {
	baseURL  string
	http     *http.Client
	attempts int
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpclient.New(timeout),
		attempts: 3,
	}
}

type urlResponse struct {
	URL string `json:"url"`
}

// ResolveURL returns false for unknown references and for any failure to
// reach the file service; the record is then shown without a link.
func (c *Client) ResolveURL(ctx context.Context, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}

	endpoint := fmt.Sprintf("%s/api/v1/files/%s/url", c.baseURL, url.PathEscape(ref))
	var resolved string
	found := false
	err := httpclient.Retry(ctx, c.attempts, 100*time.Millisecond, time.Second, httpclient.IsRetriable, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil
		case resp.StatusCode != http.StatusOK:
			return &httpclient.StatusError{Code: resp.StatusCode}
		}
		var body urlResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decode file service response: %w", err)
		}
		resolved = body.URL
		found = body.URL != ""
		return nil
	})
	if err != nil {
		logger.Log.WithError(err).WithField("attachment_ref", ref).Warn("failed to resolve attachment url")
		return "", false
	}
	return resolved, found
}
