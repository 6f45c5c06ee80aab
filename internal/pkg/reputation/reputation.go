package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Checker probes an external URL-reputation service. The service contract:
// GET <endpoint>?url=<target> → 200 {"malicious": bool}. Any transport or
// protocol failure is fail-open: the caller logs and allows the URL.
type Checker struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

func New(endpoint string, logger *zap.Logger) *Checker {
	return &Checker{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
	}
}

type verdict struct {
	Malicious bool `json:"malicious"`
}

// Check returns true only when the service positively flags the URL.
func (c *Checker) Check(ctx context.Context, target string) (bool, error) {
	if c.endpoint == "" {
		return false, nil
	}

	probe := c.endpoint + "?url=" + url.QueryEscape(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("reputation service returned HTTP %d", resp.StatusCode)
	}

	var v verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return false, err
	}
	return v.Malicious, nil
}
