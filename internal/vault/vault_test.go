package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caresuite/hospital/internal/config"
)

type fakeKV struct {
	data  map[string]map[string]any
	calls int
}

func (f *fakeKV) Get(_ context.Context, mount, secret string) (map[string]any, error) {
	f.calls++
	d, ok := f.data[mount+"/"+secret]
	if !ok {
		return nil, errors.New("secret not found")
	}
	return d, nil
}

func TestGetKV_CachesWithinTTL(t *testing.T) {
	kv := &fakeKV{data: map[string]map[string]any{"kv/hms": {"jwt_secret": "s3cret-s3cret-s3cret"}}}
	c := NewWithKV(kv)
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		v, err := c.GetKV(context.Background(), "kv/hms", "jwt_secret", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "s3cret-s3cret-s3cret", v)
	}
	assert.Equal(t, 1, kv.calls)

	now = now.Add(2 * time.Minute)
	_, err := c.GetKV(context.Background(), "kv/hms", "jwt_secret", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, kv.calls)
}

func TestGetKV_Errors(t *testing.T) {
	c := NewWithKV(&fakeKV{data: map[string]map[string]any{"kv/hms": {"port": 5432}}})
	ctx := context.Background()

	_, err := c.GetKV(ctx, "", "x", 0)
	assert.Error(t, err)
	_, err = c.GetKV(ctx, "kv", "x", 0)
	assert.ErrorContains(t, err, "<mount>/<secret>")
	_, err = c.GetKV(ctx, "kv/hms", "missing", 0)
	assert.ErrorContains(t, err, "not found")
	_, err = c.GetKV(ctx, "kv/hms", "port", 0)
	assert.ErrorContains(t, err, "not a string")
	_, err = c.GetKV(ctx, "kv/other", "x", 0)
	assert.ErrorContains(t, err, "secret not found")
}

func TestSecrets_ResolvesConfig(t *testing.T) {
	kv := &fakeKV{data: map[string]map[string]any{"kv/hms": {
		"tenant_password": "tenant-pw",
		"jwt_secret":      "0123456789abcdef",
	}}}
	cfg := &config.Config{}
	cfg.TenantDB.Password = "vault:kv/hms#tenant_password"
	cfg.Auth.JWTSecret = "vault:kv/hms#jwt_secret"
	cfg.Catalog.Password = "plain"

	require.NoError(t, config.ResolveSecrets(context.Background(), cfg, NewWithKV(kv).Secrets(time.Minute)))
	assert.Equal(t, "tenant-pw", cfg.TenantDB.Password)
	assert.Equal(t, "0123456789abcdef", cfg.Auth.JWTSecret)
	assert.Equal(t, "plain", cfg.Catalog.Password)
}
