package goble

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/soundlink/internal/device"
)

// fakeAdvertisement overrides only what the transport reads
type fakeAdvertisement struct {
	ble.Advertisement
	name string
	addr string
	rssi int
}

func (a *fakeAdvertisement) LocalName() string { return a.name }
func (a *fakeAdvertisement) RSSI() int         { return a.rssi }
func (a *fakeAdvertisement) Addr() ble.Addr    { return fakeAddr(a.addr) }

type fakeAddr string

func (a fakeAddr) String() string { return string(a) }

// fakeClient is a ble.Client backed by testify mock for the calls the transport makes
type fakeClient struct {
	ble.Client
	mock.Mock

	mu           sync.Mutex
	notify       ble.NotificationHandler
	writes       [][]byte
	disconnected chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{disconnected: make(chan struct{})}
}

func (c *fakeClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := c.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (c *fakeClient) Subscribe(char *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	c.mu.Lock()
	c.notify = h
	c.mu.Unlock()
	return c.Called(char.UUID.String(), ind).Error(0)
}

func (c *fakeClient) Unsubscribe(char *ble.Characteristic, ind bool) error {
	return c.Called(char.UUID.String(), ind).Error(0)
}

func (c *fakeClient) WriteCharacteristic(char *ble.Characteristic, value []byte, noRsp bool) error {
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), value...))
	c.mu.Unlock()
	return c.Called(char.UUID.String(), noRsp).Error(0)
}

func (c *fakeClient) CancelConnection() error {
	return c.Called().Error(0)
}

func (c *fakeClient) Disconnected() <-chan struct{} { return c.disconnected }

func (c *fakeClient) push(data []byte) {
	c.mu.Lock()
	h := c.notify
	c.mu.Unlock()
	h(data)
}

func (c *fakeClient) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// fakeAdapter is the Adapter the transport scans and dials through
type fakeAdapter struct {
	ads     []ble.Advertisement
	scanErr error
	dialErr error
	client  *fakeClient
	dialed  []string
}

func (a *fakeAdapter) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	if a.scanErr != nil {
		return a.scanErr
	}
	for _, adv := range a.ads {
		h(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (a *fakeAdapter) Dial(_ context.Context, addr ble.Addr) (ble.Client, error) {
	a.dialed = append(a.dialed, addr.String())
	if a.dialErr != nil {
		return nil, a.dialErr
	}
	return a.client, nil
}

func nusProfile(notifyProps, writeProps ble.Property, withWrite bool) *ble.Profile {
	chars := []*ble.Characteristic{
		{UUID: ble.MustParse(DefaultNotifyCharUUID), Property: notifyProps},
	}
	if withWrite {
		chars = append(chars, &ble.Characteristic{UUID: ble.MustParse(DefaultWriteCharUUID), Property: writeProps})
	}
	return &ble.Profile{Services: []*ble.Service{
		{UUID: ble.MustParse("180f")},
		{UUID: ble.MustParse(DefaultServiceUUID), Characteristics: chars},
	}}
}

type TransportTestSuite struct {
	suite.Suite
	logger  *logrus.Logger
	client  *fakeClient
	adapter *fakeAdapter
	tr      *Transport
}

func (s *TransportTestSuite) SetupTest() {
	s.logger = logrus.New()
	s.logger.SetOutput(io.Discard)

	s.client = newFakeClient()
	s.adapter = &fakeAdapter{client: s.client}

	opts := DefaultOptions()
	opts.ChunkDelay = 0
	tr, err := NewTransportWithAdapter(s.adapter, opts, s.logger)
	s.Require().NoError(err)
	s.tr = tr
}

func (s *TransportTestSuite) expectHappyOpen() {
	s.client.On("DiscoverProfile", true).Return(nusProfile(ble.CharNotify, ble.CharWrite, true), nil)
	s.client.On("Subscribe", ble.MustParse(DefaultNotifyCharUUID).String(), false).Return(nil)
}

func (s *TransportTestSuite) TestScanMapsAdvertisements() {
	// GOAL: advertisements become descriptors keyed by address
	//
	// TEST SCENARIO: two advertisements, scan until deadline -> both reported, no error
	s.adapter.ads = []ble.Advertisement{
		&fakeAdvertisement{name: "SHIELD", addr: "AA:BB:CC:DD:EE:01", rssi: -42},
		&fakeAdvertisement{name: "Other", addr: "AA:BB:CC:DD:EE:02", rssi: -70},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var got []device.DeviceDescriptor
	err := s.tr.Scan(ctx, func(d device.DeviceDescriptor) { got = append(got, d) })

	s.Require().NoError(err, "scan deadline MUST NOT be reported as an error")
	s.Require().Len(got, 2)
	s.Equal("SHIELD", got[0].DisplayName)
	s.Equal(device.KindRadio, got[0].Transport)
	s.Require().NotNil(got[0].RSSI)
	s.Equal(-42, *got[0].RSSI)
	s.Equal(device.KindRadio, s.tr.Kind())
}

func (s *TransportTestSuite) TestScanErrorsAreNormalized() {
	tests := []struct {
		err    error
		target error
	}{
		{errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), device.ErrUnsupported},
		{errors.New("bluetooth is turned off"), device.ErrUnsupported},
		{errors.New("app is not authorized to use Bluetooth"), device.ErrScanDenied},
	}

	for _, tt := range tests {
		s.adapter.scanErr = tt.err
		err := s.tr.Scan(context.Background(), func(device.DeviceDescriptor) {})
		s.ErrorIs(err, tt.target, "scan error %q MUST map to %v", tt.err, tt.target)
	}
}

func (s *TransportTestSuite) TestOpenSubscribesAndDeliversNotifications() {
	s.expectHappyOpen()

	ch, err := s.tr.Open(context.Background(), device.DeviceDescriptor{ID: "AA:BB:CC:DD:EE:01"})
	s.Require().NoError(err)

	received := make(chan []byte, 1)
	ch.OnNotification(func(b []byte) { received <- b })

	payload := []byte("72.3")
	s.client.push(payload)
	payload[0] = 'X'

	select {
	case got := <-received:
		s.Equal("72.3", string(got), "delivered payload MUST be a private copy")
	case <-time.After(time.Second):
		s.Fail("notification MUST be delivered")
	}

	ch.OnNotification(nil)
	s.NotPanics(func() { s.client.push([]byte("1")) })
	s.Require().Len(s.adapter.dialed, 1)
	s.True(strings.EqualFold("AA:BB:CC:DD:EE:01", s.adapter.dialed[0]))
}

func (s *TransportTestSuite) TestOpenRejectsSecondOpenForSameID() {
	s.expectHappyOpen()
	s.client.On("Unsubscribe", mock.Anything, false).Return(nil)
	s.client.On("CancelConnection").Return(nil)

	d := device.DeviceDescriptor{ID: "AA:BB:CC:DD:EE:01"}
	ch, err := s.tr.Open(context.Background(), d)
	s.Require().NoError(err)

	_, err = s.tr.Open(context.Background(), d)
	s.ErrorIs(err, device.ErrAlreadyOpen)

	s.Require().NoError(ch.Close())
	s.NoError(ch.Close(), "second close MUST be a no-op")

	_, err = s.tr.Open(context.Background(), d)
	s.NoError(err, "ID MUST be reusable after close")
}

func (s *TransportTestSuite) TestOpenFailures() {
	s.Run("dial failure is unreachable", func() {
		s.SetupTest()
		s.adapter.dialErr = errors.New("connection timed out")
		_, err := s.tr.Open(context.Background(), device.DeviceDescriptor{ID: "AA"})
		s.ErrorIs(err, device.ErrUnreachable)
	})

	s.Run("dial refused for permissions", func() {
		s.SetupTest()
		s.adapter.dialErr = errors.New("not authorized")
		_, err := s.tr.Open(context.Background(), device.DeviceDescriptor{ID: "AA"})
		s.ErrorIs(err, device.ErrPermissionDenied)
	})

	s.Run("missing service", func() {
		s.SetupTest()
		s.client.On("DiscoverProfile", true).Return(&ble.Profile{Services: []*ble.Service{{UUID: ble.MustParse("180d")}}}, nil)
		s.client.On("CancelConnection").Return(nil)

		_, err := s.tr.Open(context.Background(), device.DeviceDescriptor{ID: "AA"})
		s.ErrorIs(err, device.ErrServiceNotFound)
		var nf *device.NotFoundError
		s.ErrorAs(err, &nf)
		s.client.AssertCalled(s.T(), "CancelConnection")
	})

	s.Run("notify characteristic without notify support", func() {
		s.SetupTest()
		s.client.On("DiscoverProfile", true).Return(nusProfile(ble.CharRead, ble.CharWrite, true), nil)
		s.client.On("CancelConnection").Return(nil)

		_, err := s.tr.Open(context.Background(), device.DeviceDescriptor{ID: "AA"})
		s.ErrorIs(err, device.ErrCharNotFound)
	})

	s.Run("no write characteristic and notify not writable", func() {
		s.SetupTest()
		s.client.On("DiscoverProfile", true).Return(nusProfile(ble.CharNotify, 0, false), nil)
		s.client.On("CancelConnection").Return(nil)

		_, err := s.tr.Open(context.Background(), device.DeviceDescriptor{ID: "AA"})
		s.ErrorIs(err, device.ErrCharNotFound)

		// the reservation MUST be released so a later open can proceed
		s.True(s.tr.reserve("AA"))
	})
}

func (s *TransportTestSuite) TestSendWritesInChunks() {
	// GOAL: writes are split into chunks the peripheral can accept
	//
	// TEST SCENARIO: 45-byte payload -> chunks of 20, 20 and 5 bytes in order
	s.expectHappyOpen()
	s.client.On("WriteCharacteristic", ble.MustParse(DefaultWriteCharUUID).String(), false).Return(nil)

	ch, err := s.tr.Open(context.Background(), device.DeviceDescriptor{ID: "AA"})
	s.Require().NoError(err)

	payload := []byte("0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHI")
	s.Require().NoError(ch.Send(payload))

	writes := s.client.written()
	s.Require().Len(writes, 3)
	s.Len(writes[0], 20)
	s.Len(writes[1], 20)
	s.Equal("EFGHI", string(writes[2]))
}

func (s *TransportTestSuite) TestSendFallsBackToWritableNotifyCharacteristic() {
	s.client.On("DiscoverProfile", true).Return(nusProfile(ble.CharNotify|ble.CharWriteNR, 0, false), nil)
	s.client.On("Subscribe", mock.Anything, false).Return(nil)
	s.client.On("WriteCharacteristic", ble.MustParse(DefaultNotifyCharUUID).String(), true).Return(nil)

	ch, err := s.tr.Open(context.Background(), device.DeviceDescriptor{ID: "AA"})
	s.Require().NoError(err)
	s.NoError(ch.Send([]byte("ping")))
	s.client.AssertExpectations(s.T())
}

func (s *TransportTestSuite) TestSendErrors() {
	s.expectHappyOpen()
	s.client.On("WriteCharacteristic", mock.Anything, false).Return(errors.New("write failed"))
	s.client.On("Unsubscribe", mock.Anything, false).Return(nil)
	s.client.On("CancelConnection").Return(nil)

	ch, err := s.tr.Open(context.Background(), device.DeviceDescriptor{ID: "AA"})
	s.Require().NoError(err)

	s.ErrorIs(ch.Send([]byte("x")), device.ErrIO)

	s.Require().NoError(ch.Close())
	s.ErrorIs(ch.Send([]byte("x")), device.ErrNotOpen)
	s.NoError(ch.Err(), "local close MUST NOT report a cause")
}

func (s *TransportTestSuite) TestRemoteDisconnectEndsChannel() {
	s.expectHappyOpen()
	s.client.On("CancelConnection").Return(nil)

	ch, err := s.tr.Open(context.Background(), device.DeviceDescriptor{ID: "AA"})
	s.Require().NoError(err)

	close(s.client.disconnected)

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		s.Fail("channel MUST end when the stack reports disconnection")
	}
	s.ErrorIs(ch.Err(), device.ErrUnreachable)
	s.Eventually(func() bool { return s.tr.reserve("AA") }, time.Second, 5*time.Millisecond)
}

func (s *TransportTestSuite) TestNewTransportRejectsBadUUID() {
	_, err := NewTransportWithAdapter(s.adapter, Options{ServiceUUID: "nope"}, s.logger)
	s.Error(err)
}

func (s *TransportTestSuite) TestNewTransportUsesDeviceFactory() {
	original := DeviceFactory
	defer func() { DeviceFactory = original }()

	DeviceFactory = func() (Adapter, error) { return nil, errors.New("bluetooth is turned off") }
	_, err := NewTransport(DefaultOptions(), s.logger)
	s.ErrorIs(err, device.ErrUnsupported)

	DeviceFactory = func() (Adapter, error) { return s.adapter, nil }
	tr, err := NewTransport(DefaultOptions(), s.logger)
	s.Require().NoError(err)
	s.Equal(device.KindRadio, tr.Kind())
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}
