// internal/vault/vault.go
//
// HashiCorp Vault client for secret-bearing config fields.
//
// Context
// -------
// config.ResolveSecrets swaps `vault:<mount>/<secret>#<key>` references for
// plain values at boot.  This package supplies the lookup it needs: a KV-v2
// read with a per-key TTL cache, plus a background loop that keeps the
// token alive for the lifetime of the process.
//
// Workflow
// --------
//  1. cli, err := vault.New(ctx)                          // during boot.
//  2. err = config.ResolveSecrets(ctx, cfg, cli.Secrets(cfg.Vault.TTL))
//
// Notes
// -----
// • VAULT_ADDR and VAULT_TOKEN are read by the SDK's ReadEnvironment.
// • Oxford commas, two spaces after periods, no m-dash.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/config"
)

//
// SECTION 1.  Public façade
//

// KV reads one KV-v2 secret.  *vault.Client satisfies it through kvAPI.
type KV interface {
	Get(ctx context.Context, mount, secret string) (map[string]any, error)
}

type kvAPI struct{ api *vault.Client }

func (k kvAPI) Get(ctx context.Context, mount, secret string) (map[string]any, error) {
	s, err := k.api.KVv2(mount).Get(ctx, secret)
	if err != nil {
		return nil, err
	}
	return s.Data, nil
}

// Client is safe for concurrent use.  Zero value is invalid.
type Client struct {
	kv  KV
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]cached // path#key → value + expiry.
}

type cached struct {
	val string
	exp time.Time
}

// New dials Vault from the environment and starts token renewal, which
// stops when ctx is cancelled.
func New(ctx context.Context) (*Client, error) {
	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	api, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}

	c := NewWithKV(kvAPI{api})
	go renewLoop(ctx, api)
	return c, nil
}

// NewWithKV builds a Client on any KV reader.  No renewal loop is started.
func NewWithKV(kv KV) *Client {
	return &Client{kv: kv, now: time.Now, cache: make(map[string]cached)}
}

// GetKV fetches key from the secret at path (`<mount>/<secret>`).  With
// ttl > 0 the value is served from cache until it expires.
func (c *Client) GetKV(ctx context.Context, path, key string, ttl time.Duration) (string, error) {
	if path == "" || key == "" {
		return "", errors.New("vault: secret path and key must be non-empty")
	}
	canonical := path + "#" + key

	if ttl > 0 {
		c.mu.RLock()
		cv, ok := c.cache[canonical]
		c.mu.RUnlock()
		if ok && c.now().Before(cv.exp) {
			return cv.val, nil
		}
	}

	mount, secret, ok := strings.Cut(path, "/")
	if !ok || secret == "" {
		return "", fmt.Errorf("vault: path %q must be <mount>/<secret>", path)
	}
	data, err := c.kv.Get(ctx, mount, secret)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", path, err)
	}
	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("vault: key %q not found in %q", key, path)
	}
	val, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("vault: value at %s is not a string", canonical)
	}

	if ttl > 0 {
		c.mu.Lock()
		c.cache[canonical] = cached{val: val, exp: c.now().Add(ttl)}
		c.mu.Unlock()
	}
	return val, nil
}

// Secrets adapts GetKV to config.SecretFunc.
func (c *Client) Secrets(ttl time.Duration) config.SecretFunc {
	return func(ctx context.Context, path, key string) (string, error) {
		return c.GetKV(ctx, path, key, ttl)
	}
}

//
// SECTION 2.  Background token renewal
//

func renewLoop(ctx context.Context, api *vault.Client) {
	log := zap.S().Named("vault")
	for ctx.Err() == nil {
		sec, err := api.Auth().Token().RenewSelfWithContext(ctx, 0)
		if err != nil {
			log.Warnw("token renew-self failed", "err", err)
			sleep(ctx, 30*time.Second)
			continue
		}
		if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
			log.Infow("token is not renewable, rechecking in 1h")
			sleep(ctx, time.Hour)
			continue
		}

		w, err := api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{Secret: sec})
		if err != nil {
			log.Warnw("lifetime watcher init failed", "err", err)
			sleep(ctx, 30*time.Second)
			continue
		}
		watch(ctx, w, log)
		sleep(ctx, 15*time.Second)
	}
}

func watch(ctx context.Context, w *vault.LifetimeWatcher, log *zap.SugaredLogger) {
	go w.Start()
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.DoneCh():
			if err != nil {
				log.Warnw("token renewal stopped", "err", err)
			}
			return
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				log.Debugw("token renewed", "ttl_s", ev.Secret.Auth.LeaseDuration)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
