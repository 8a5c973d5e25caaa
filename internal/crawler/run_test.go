package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channelcrawler/internal/proxy"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Interval = 59 * time.Second
	require.ErrorIs(t, cfg.Validate(), ErrIntervalTooShort)

	cfg = DefaultConfig()
	cfg.BatchSize = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.PolitenessDelay = -time.Second
	require.Error(t, cfg.Validate())
}

func TestRun_RejectsShortInterval(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	cfg := testConfig()
	cfg.Interval = 30 * time.Second
	err := New(cfg, h.deps).Run(context.Background(), []string{"foo"})
	require.ErrorIs(t, err, ErrIntervalTooShort)
	h.fetcher.AssertNotCalled(t, "FetchChannelPage", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_RejectsEmptyChannelList(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	err := New(testConfig(), h.deps).Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoChannels)
}

func TestRun_RecoversFromPanickingCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := &cancelingClock{Clock: h.clock, cancel: cancel, after: 2}
	h.deps.Clock = clk

	bios := new(MockBioStore)
	bios.On("Save", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("disk on fire") }).Return("", nil).Once()
	bios.On("Save", mock.Anything, mock.Anything).Return("", nil)
	h.deps.Bios = bios
	h.fetcher.On("FetchChannelPage", mock.Anything, "foo", false).Return(page(t, "Foo", msg(1, t0)), nil)

	connectivity := new(MockConnectivity)
	connectivity.On("CheckConnectivity", mock.Anything).Return(errors.New("offline")).Once()
	h.deps.Connectivity = connectivity

	err := New(testConfig(), h.deps).Run(ctx, []string{"foo"})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []time.Duration{5 * time.Minute, 30 * time.Minute}, clk.longWaits())
	h.fetcher.AssertNumberOfCalls(t, "FetchChannelPage", 2)
	connectivity.AssertExpectations(t)
}

func TestPreflight_Proxies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		use      bool
		require  bool
		checker  bool
		checkErr error
		wantErr  error
	}{
		{name: "disabled", checker: false},
		{name: "optional healthy", use: true, checker: true},
		{name: "optional failing", use: true, checker: true, checkErr: proxy.ErrNoProxy},
		{name: "optional without pool", use: true},
		{name: "required failing", use: true, require: true, checker: true, checkErr: proxy.ErrNoProxy, wantErr: ErrProxiesUnavailable},
		{name: "required without pool", require: true, wantErr: ErrProxiesUnavailable},
		{name: "required healthy", require: true, checker: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			cfg := testConfig()
			cfg.UseProxies, cfg.RequireProxies = tc.use, tc.require
			if tc.checker {
				checker := new(MockProxyChecker)
				checker.On("CheckProxy", mock.Anything).
					Return(proxy.Health{PoolSize: 3, SampleIP: "203.0.113.7"}, tc.checkErr).Once()
				h.deps.Proxies = checker
			}

			err := New(cfg, h.deps).Preflight(context.Background(), []string{"foo"})
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}
