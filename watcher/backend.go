package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const backendTimeout = 10

// Errors returned by the wallet service collaborator API.
var (
	ErrUnknownAddress = errors.New("address is not registered with the wallet service")
	ErrBackend        = errors.New("unexpected wallet service response")
)

// Backend is an http client to the wallet service collaborator API. The watcher reads the watch-set and reports
// confirmed deposits through it; the wallet keeps the ledger.
type Backend struct {
	url string
	c   *http.Client
}

// NewBackend returns a client to the wallet service listening on url.
func NewBackend(url string) *Backend {
	return &Backend{
		url: strings.TrimRight(url, "/"),
		c:   &http.Client{Timeout: backendTimeout * time.Second},
	}
}

// WatchAddresses fetches the deposit addresses to monitor. Addresses are replied lowercased so they can be matched
// against transaction destinations directly.
func (b *Backend) WatchAddresses(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url+"/watch-addresses", nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBackend, resp.StatusCode)
	}

	var res struct {
		Addresses []string `json:"addresses"`
	}

	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}

	for i := range res.Addresses {
		res.Addresses[i] = strings.ToLower(res.Addresses[i])
	}

	return res.Addresses, nil
}

// Credit reports a confirmed deposit to the wallet service. Reporting the same transaction hash again is a successful
// no-op for the wallet, so Credit is safe to retry.
func (b *Backend) Credit(ctx context.Context, address, amount, txHash string) error {
	body, err := json.Marshal(map[string]string{
		"address": address,
		"amount":  amount,
		"txHash":  txHash,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+"/credit", bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := b.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrUnknownAddress
	default:
		return fmt.Errorf("%w: status %d", ErrBackend, resp.StatusCode)
	}
}
