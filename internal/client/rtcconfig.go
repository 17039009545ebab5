package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// FetchSTUNURLs asks the server for its ICE server list. The result
// feeds rtc.DefaultConfig so every client negotiates against the STUN
// servers the operator configured.
func FetchSTUNURLs(ctx context.Context, baseURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/rtc/config", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rtc config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rtc config: status %d", resp.StatusCode)
	}

	var body struct {
		StunURLs []string `json:"stun_urls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rtc config: %w", err)
	}
	return body.StunURLs, nil
}
