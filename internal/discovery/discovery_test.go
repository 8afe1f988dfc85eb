package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/soundlink/internal/device"
	"github.com/srg/soundlink/internal/testutils"
)

type DiscoveryTestSuite struct {
	suite.Suite
	helper    *testutils.TestHelper
	transport *testutils.FakeTransport
}

func (s *DiscoveryTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.transport = testutils.NewFakeTransport(device.KindRadio)
}

func (s *DiscoveryTestSuite) discoverer(filter Filter) *Discoverer {
	return New(s.transport, Options{Filter: filter, Timeout: 50 * time.Millisecond}, s.helper.Logger)
}

func names(descs []device.DeviceDescriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.DisplayName
	}
	return out
}

func (s *DiscoveryTestSuite) TestExactAndPrefixMatch() {
	// GOAL: exact target name and prefix matches are returned, others excluded
	//
	// TEST SCENARIO: target "X" with prefix enabled over X, Y, X-alt -> [X, X-alt]
	s.transport.SetAdvertisements(
		testutils.Descriptor("AA:01", "X", testutils.RSSI(-40)),
		testutils.Descriptor("AA:02", "Y", testutils.RSSI(-30)),
		testutils.Descriptor("AA:03", "X-alt", testutils.RSSI(-60)),
	)

	got, err := s.discoverer(Filter{TargetName: "X", PrefixMatch: true}).Discover(context.Background(), nil)

	s.Require().NoError(err)
	s.Equal([]string{"X", "X-alt"}, names(got))
	s.Equal(device.KindRadio, got[0].Transport, "transport kind MUST be filled in")
}

func (s *DiscoveryTestSuite) TestExactMatchOnlyWithoutPrefix() {
	s.transport.SetAdvertisements(
		testutils.Descriptor("AA:01", "X", nil),
		testutils.Descriptor("AA:03", "X-alt", nil),
	)

	got, err := s.discoverer(Filter{TargetName: "X"}).Discover(context.Background(), nil)

	s.Require().NoError(err)
	s.Equal([]string{"X"}, names(got))
}

func (s *DiscoveryTestSuite) TestNoMatchIsEmptyNotError() {
	s.transport.SetAdvertisements(testutils.Descriptor("AA:02", "Y", nil))

	got, err := s.discoverer(Filter{TargetName: "X", PrefixMatch: true}).Discover(context.Background(), nil)

	s.Require().NoError(err)
	s.Empty(got)
}

func (s *DiscoveryTestSuite) TestLatestAdvertisementWins() {
	s.transport.SetAdvertisements(
		testutils.Descriptor("AA:01", "SHIELD", testutils.RSSI(-80)),
		testutils.Descriptor("AA:01", "SHIELD", testutils.RSSI(-50)),
	)

	got, err := s.discoverer(Filter{TargetName: "SHIELD"}).Discover(context.Background(), nil)

	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Require().NotNil(got[0].RSSI)
	s.Equal(-50, *got[0].RSSI)
}

func (s *DiscoveryTestSuite) TestScanStopsAfterTimeout() {
	// GOAL: the scan is bounded by the fixed timeout even when the transport would keep going
	s.transport.SetScanHold(true).SetAdvertisements(testutils.Descriptor("AA:01", "SHIELD", nil))

	start := time.Now()
	got, err := s.discoverer(Filter{TargetName: "SHIELD"}).Discover(context.Background(), nil)

	s.Require().NoError(err)
	s.Len(got, 1)
	s.Less(time.Since(start), time.Second)
}

func (s *DiscoveryTestSuite) TestOverlappingDiscoverRejected() {
	s.transport.SetScanHold(true)
	d := New(s.transport, Options{Filter: Filter{TargetName: "SHIELD"}, Timeout: 300 * time.Millisecond}, s.helper.Logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = d.Discover(context.Background(), nil)
	}()

	s.Require().Eventually(func() bool { return s.transport.ScanCalls() == 1 }, time.Second, time.Millisecond)
	_, err := d.Discover(context.Background(), nil)
	s.ErrorIs(err, device.ErrAlreadyScanning)

	wg.Wait()
	_, err = d.Discover(context.Background(), nil)
	s.NoError(err, "a finished scan MUST release the guard")
}

func (s *DiscoveryTestSuite) TestScanErrorsNormalized() {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "typed error passes through", err: &device.DiscoveryError{Kind: device.PermissionDenied}, want: device.ErrScanDenied},
		{name: "permission kind", err: &device.ConnectionError{Kind: device.PermissionDenied}, want: device.ErrScanDenied},
		{name: "anything else unsupported", err: errors.New("hci0: no such device"), want: device.ErrUnsupported},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.transport.SetScanError(tt.err)
			_, err := s.discoverer(Filter{TargetName: "SHIELD"}).Discover(context.Background(), nil)
			s.ErrorIs(err, tt.want)
		})
	}
}

func (s *DiscoveryTestSuite) TestCallerCancellationReported() {
	s.transport.SetScanHold(true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.discoverer(Filter{TargetName: "SHIELD"}).Discover(ctx, nil)
	s.ErrorIs(err, context.Canceled)
}

func (s *DiscoveryTestSuite) TestProgressPhases() {
	var phases []string
	_, err := s.discoverer(Filter{TargetName: "SHIELD"}).Discover(context.Background(), func(p string) { phases = append(phases, p) })

	s.Require().NoError(err)
	s.Equal([]string{"Scanning", "Processing results"}, phases)
}

func TestDiscoveryTestSuite(t *testing.T) {
	suite.Run(t, new(DiscoveryTestSuite))
}

func TestRank(t *testing.T) {
	descs := []device.DeviceDescriptor{
		testutils.Descriptor("04", "B", nil),
		testutils.Descriptor("03", "A", nil),
		testutils.Descriptor("02", "S", testutils.RSSI(-70)),
		testutils.Descriptor("01", "S", testutils.RSSI(-40)),
		testutils.Descriptor("00", "S", testutils.RSSI(-70)),
	}

	Rank(descs)

	ids := make([]string, len(descs))
	for i, d := range descs {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"01", "00", "02", "03", "04"}, ids)
}

func TestFilterMatch(t *testing.T) {
	tests := []struct {
		filter Filter
		name   string
		want   bool
	}{
		{Filter{TargetName: "SHIELD"}, "SHIELD", true},
		{Filter{TargetName: "SHIELD"}, "SHIELD-2", false},
		{Filter{TargetName: "SHIELD", PrefixMatch: true}, "SHIELD-2", true},
		{Filter{TargetName: "SHIELD", NamePrefix: "SND", PrefixMatch: true}, "SND-7", true},
		{Filter{TargetName: "SHIELD", NamePrefix: "SND", PrefixMatch: true}, "SHIELD", true},
		{Filter{TargetName: "SHIELD", NamePrefix: "SND", PrefixMatch: true}, "SHIELD-2", false},
		{Filter{TargetName: "SHIELD", PrefixMatch: true}, "", false},
		{Filter{}, "anything", false},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, tt.filter.Match(tt.name), "filter %+v name %q", tt.filter, tt.name)
	}
}
