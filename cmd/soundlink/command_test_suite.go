package main

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/soundlink/internal/device"
	"github.com/srg/soundlink/internal/devicefactory"
	"github.com/srg/soundlink/internal/testutils"
)

// Test device addresses for consistent fake device identification
const (
	TestDeviceAddress1 = "00:00:00:00:00:01"
	TestDeviceAddress2 = "00:00:00:00:00:02"
	TestDeviceAddress3 = "00:00:00:00:00:03"
)

// syncBuffer lets background goroutines log while the command writes output
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs commands against an in-memory transport.
// All cmd/soundlink test suites should embed it.
type CommandTestSuite struct {
	suite.Suite
	Transport *testutils.FakeTransport

	originalFactory func(devicefactory.Options, *logrus.Logger) (device.Transport, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.Transport = testutils.NewFakeTransport("fake")
	s.originalFactory = transportFactory
	transportFactory = func(devicefactory.Options, *logrus.Logger) (device.Transport, error) {
		return s.Transport, nil
	}

	// keep real scans short and retries fast
	s.T().Setenv("SOUNDLINK_SCAN_TIMEOUT", "50ms")
	s.T().Setenv("SOUNDLINK_RECONNECT_DELAY", "10ms")
}

func (s *CommandTestSuite) TearDownTest() {
	transportFactory = s.originalFactory
}

// ExecuteCommand runs a fresh command tree with args, returns output and error
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := &syncBuffer{}
	cmd := newRootCmd()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// AwaitChannel waits until the command has opened a channel and installed its handler
func (s *CommandTestSuite) AwaitChannel() *testutils.FakeChannel {
	var ch *testutils.FakeChannel
	s.Require().Eventually(func() bool {
		ch = s.Transport.LastChannel()
		return ch != nil && ch.HasHandler()
	}, 2*time.Second, 5*time.Millisecond, "command MUST open a channel")
	return ch
}
