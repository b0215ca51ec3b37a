package ipfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devblac/peep-indexer/internal/peep"
)

// ErrNotFound signals that content could not be loaded for a hash.
var ErrNotFound = errors.New("ipfs content not found")

// Defaults applied when Options leaves a field zero.
const (
	DefaultTimeout = 10 * time.Second
	DefaultBackoff = 500 * time.Millisecond
	maxBodyBytes   = 1 << 20
)

// emptyCID is the identity CID of zero bytes; every gateway serves it locally.
const emptyCID = "bafkqaaa"

// Options configures a Resolver.
type Options struct {
	GatewayURL string
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	Client     *http.Client
}

// Resolver loads JSON documents through an HTTP IPFS gateway.
type Resolver struct {
	gateway *url.URL
	client  *http.Client
	retries int
	backoff time.Duration
	log     *slog.Logger
}

// NewResolver builds a gateway resolver.
func NewResolver(opts Options, log *slog.Logger) (*Resolver, error) {
	if opts.GatewayURL == "" {
		return nil, errors.New("gateway url required")
	}
	u, err := url.Parse(strings.TrimRight(opts.GatewayURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway url must be http(s): %s", opts.GatewayURL)
	}
	if opts.Retries < 0 {
		return nil, errors.New("retries must be >= 0")
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		gateway: u,
		client:  client,
		retries: opts.Retries,
		backoff: backoff,
		log:     log,
	}, nil
}

// Resolve fetches and decodes the JSON object stored under hash.
// Any failure to produce a payload is reported as ErrNotFound, except
// context cancellation which is returned as is.
func (r *Resolver) Resolve(ctx context.Context, hash string, tx peep.TxInfo) (peep.Payload, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" || strings.ContainsAny(hash, "/?#") {
		return nil, fmt.Errorf("%w: invalid hash %q", ErrNotFound, hash)
	}

	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * r.backoff):
			}
		}

		body, retry, err := r.fetch(ctx, hash)
		if err == nil {
			payload, err := peep.DecodePayload(body)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, hash, err)
			}
			return payload, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		r.log.Debug("ipfs fetch failed", "hash", hash, "attempt", attempt+1, "tx", tx.Hash, "error", err)
		if !retry {
			break
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, hash, lastErr)
}

// fetch performs one gateway request. retry reports whether the failure is transient.
func (r *Resolver) fetch(ctx context.Context, hash string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.gateway.String()+"/ipfs/"+hash, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("gateway status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("gateway status %d", resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, false, fmt.Errorf("document exceeds %d bytes", maxBodyBytes)
	}
	return body, false, nil
}

// Ping checks that the gateway answers.
func (r *Resolver) Ping(ctx context.Context) error {
	_, _, err := r.fetch(ctx, emptyCID)
	return err
}

// Gateway returns the configured gateway base URL.
func (r *Resolver) Gateway() string {
	return r.gateway.String()
}
