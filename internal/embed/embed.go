// Package embed implements the consumed Embedding provider interface (§6)
// plus a real HTTP-backed implementation and a deterministic test double.
package embed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"convmem/internal/pipelineerr"
)

// CacheKey returns the sha256 hex digest used as the content-addressed
// half of the (model, sha256(text)) embedding cache key the Context
// Engine and CachedProvider both use.
func CacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Provider embeds text into fixed-dimension vectors.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// HTTPConfig configures the HTTP-backed embedding client.
type HTTPConfig struct {
	Host       string
	APIKey     string
	Dimensions int
	Model      string
	Timeout    time.Duration
}

type httpProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPProvider builds a Provider backed by an HTTP embedding endpoint
// using a plain {input, model} request / {data: [{embedding}]} response
// shape; the first returned vector is used.
func NewHTTPProvider(cfg HTTPConfig) Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &httpProvider{cfg: cfg, client: &http.Client{}}
}

func (p *httpProvider) Name() string   { return p.cfg.Model }
func (p *httpProvider) Dimension() int { return p.cfg.Dimensions }

type embedReq struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *httpProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(embedReq{Input: []string{text}, Model: p.cfg.Model})
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindEmbedding, "encode embed request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host, bytes.NewReader(body))
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindEmbedding, "build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindEmbedding, "embed request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, pipelineerr.New(pipelineerr.KindEmbedding, fmt.Sprintf("embed endpoint returned status %d", resp.StatusCode))
	}

	var decoded embedResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindEmbedding, "decode embed response", err)
	}
	if len(decoded.Data) == 0 {
		return nil, pipelineerr.New(pipelineerr.KindEmbedding, "embed response contained no vectors")
	}
	return decoded.Data[0].Embedding, nil
}

// Ping checks reachability by embedding a short probe string.
func Ping(ctx context.Context, p Provider) error {
	_, err := p.Embed(ctx, "ping")
	return err
}

// CachedProvider wraps a Provider with an LRU cache keyed by
// (model, sha256(text)) — the same discipline the token counter cache
// uses: shared, concurrent readers, writes serialized by the underlying
// lru.Cache's own lock, entries immutable once written.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCached wraps p with an LRU cache of the given size.
func NewCached(p Provider, size int) *CachedProvider {
	if size <= 0 {
		size = 1000
	}
	c, _ := lru.New[string, []float32](size)
	return &CachedProvider{inner: p, cache: c}
}

func (c *CachedProvider) Name() string   { return c.inner.Name() }
func (c *CachedProvider) Dimension() int { return c.inner.Dimension() }

func (c *CachedProvider) cacheKey(text string) string {
	return c.inner.Name() + "\x00" + CacheKey(text)
}

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}
