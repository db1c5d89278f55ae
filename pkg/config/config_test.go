package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poolerrors "github.com/ajitpratap0/netpool/pkg/errors"
)

func TestDefaultMaxConnections(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultMaxConnections(), 16)
}

func TestPoolSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PoolSpec)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*PoolSpec) {}},
		{name: "zero max", mutate: func(s *PoolSpec) { s.MaxConnections = 0 }, wantErr: true},
		{name: "unbounded pending", mutate: func(s *PoolSpec) { *s = s.WithPendingAcquireMaxCount(-1) }},
		{name: "zero pending", mutate: func(s *PoolSpec) { *s = s.WithPendingAcquireMaxCount(0) }},
		{name: "pending below -1", mutate: func(s *PoolSpec) { *s = s.WithPendingAcquireMaxCount(-2) }, wantErr: true},
		{name: "negative timeout", mutate: func(s *PoolSpec) { s.PendingAcquireTimeout = -time.Second }, wantErr: true},
		{name: "negative idle", mutate: func(s *PoolSpec) { *s = s.WithMaxIdleTime(-time.Second) }, wantErr: true},
		{name: "zero idle", mutate: func(s *PoolSpec) { *s = s.WithMaxIdleTime(0) }},
		{name: "negative life", mutate: func(s *PoolSpec) { *s = s.WithMaxLifeTime(-time.Second) }, wantErr: true},
		{name: "lifo", mutate: func(s *PoolSpec) { s.LeasingStrategy = LeasingLIFO }},
		{name: "unknown strategy", mutate: func(s *PoolSpec) { s.LeasingStrategy = "random" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := DefaultPoolSpec()
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPendingAcquireMax(t *testing.T) {
	spec := PoolSpec{MaxConnections: 5}
	assert.Equal(t, 10, spec.PendingAcquireMax())
	assert.Equal(t, -1, spec.WithPendingAcquireMaxCount(-1).PendingAcquireMax())
	assert.Equal(t, 3, spec.WithPendingAcquireMaxCount(3).PendingAcquireMax())
	assert.Nil(t, spec.PendingAcquireMaxCount, "WithPendingAcquireMaxCount must not mutate the receiver")
}

func TestProviderConfigValidate(t *testing.T) {
	cfg := DefaultProviderConfig("")
	require.Error(t, cfg.Validate())

	cfg.Name = "test"
	require.NoError(t, cfg.Validate())

	cfg.Hosts["a:1"] = PoolSpec{MaxConnections: -1, LeasingStrategy: LeasingFIFO}
	err := cfg.Validate()
	require.Error(t, err)
	var perr *poolerrors.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "a:1", perr.Details["host"])
}

func TestApplyDefaults(t *testing.T) {
	cfg := &ProviderConfig{
		Name:  "partial",
		Hosts: map[string]PoolSpec{"b:2": {}},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, DefaultMaxConnections(), cfg.Pool.MaxConnections)
	assert.Equal(t, LeasingFIFO, cfg.Pool.LeasingStrategy)
	assert.Equal(t, LeasingFIFO, cfg.Hosts["b:2"].LeasingStrategy)
	assert.Equal(t, DefaultConnectTimeout, cfg.Transport.ConnectTimeout)
	assert.Equal(t, DefaultInboundBuffer, cfg.Transport.InboundBuffer)
	assert.Positive(t, cfg.Transport.EventLoops)
	// absent durations stay disabled
	assert.Zero(t, cfg.Pool.PendingAcquireTimeout)
	assert.Nil(t, cfg.Pool.MaxIdleTime)
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netpool.yaml")

	cfg := DefaultProviderConfig("roundtrip")
	cfg.Pool = cfg.Pool.WithPendingAcquireMaxCount(7)
	cfg.Pool = cfg.Pool.WithMaxLifeTime(time.Minute).WithMaxIdleTime(0)
	cfg.Hosts["c:3"] = PoolSpec{MaxConnections: 2, LeasingStrategy: LeasingLIFO}
	require.NoError(t, Save(path, cfg))

	loaded, err := LoadProvider(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Pool.PendingAcquireMax())
	require.NotNil(t, loaded.Pool.MaxLifeTime)
	assert.Equal(t, time.Minute, *loaded.Pool.MaxLifeTime)
	require.NotNil(t, loaded.Pool.MaxIdleTime, "an explicit zero idle time survives a round trip")
	assert.Zero(t, *loaded.Pool.MaxIdleTime)
	assert.Equal(t, 2, loaded.Hosts["c:3"].MaxConnections)
	assert.Equal(t, LeasingLIFO, loaded.Hosts["c:3"].LeasingStrategy)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadProvider(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: [unterminated"), 0600))
	_, err = LoadProvider(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("name: x\npool:\n  leasing_strategy: random\n"), 0600))
	_, err = LoadProvider(invalid)
	assert.True(t, poolerrors.IsType(err, poolerrors.ErrorTypeConfig))
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("NETPOOL_TEST_HOST", "proxy.local:1080")
	out := substituteEnvVars("proxy_address: ${NETPOOL_TEST_HOST}\nother: ${NETPOOL_TEST_UNSET}")
	assert.Equal(t, "proxy_address: proxy.local:1080\nother: ", out)
}
