package crawler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/channelcrawler/internal/channel"
	collyfetcher "github.com/JakeFAU/channelcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/channelcrawler/internal/proxy"
)

// MockFetcher is a mock implementation of the Fetcher interface.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchChannelPage(ctx context.Context, channelID string, useProxy bool) (*collyfetcher.Page, error) {
	args := m.Called(ctx, channelID, useProxy)
	page, _ := args.Get(0).(*collyfetcher.Page)
	return page, args.Error(1)
}

// MockBioStore is a mock implementation of the BioStore interface.
type MockBioStore struct {
	mock.Mock
}

func (m *MockBioStore) Save(ctx context.Context, bios channel.Bios) (string, error) {
	args := m.Called(ctx, bios)
	return args.String(0), args.Error(1)
}

// MockProxyChecker is a mock implementation of the ProxyChecker interface.
type MockProxyChecker struct {
	mock.Mock
}

func (m *MockProxyChecker) CheckProxy(ctx context.Context) (proxy.Health, error) {
	args := m.Called(ctx)
	return args.Get(0).(proxy.Health), args.Error(1)
}

// MockConnectivity is a mock implementation of the ConnectivityChecker interface.
type MockConnectivity struct {
	mock.Mock
}

func (m *MockConnectivity) CheckConnectivity(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
