package iec61850

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	simpleIOModelFile = "test/server/simpleIO_direct_control_goose.yaml"
	simpleIOLD        = "simpleIOGenericIO"
)

func loadSimpleIO(t *testing.T) *IedModel {
	t.Helper()
	model, err := CreateModelFromConfigFile(simpleIOModelFile)
	require.NoError(t, err)
	return model
}

// compileSimpleIO compiles the simple I/O model with cfg, or the default
// configuration when cfg is nil.
func compileSimpleIO(t *testing.T, cfg *ServerConfig) *DeviceMapping {
	t.Helper()
	if cfg == nil {
		cfg = NewServerConfig()
	}
	m, err := Compile(loadSimpleIO(t), cfg)
	require.NoError(t, err)
	return m
}

func node(t *testing.T, m *DeviceMapping, ref string) *ModelNode {
	t.Helper()
	n := m.Model().GetModelNodeByObjectReference(ref)
	require.NotNil(t, n, ref)
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type sentReport struct {
	conn   *ServerConnection
	report *Report
}

type recordingSender struct {
	mu      sync.Mutex
	reports []sentReport
	err     error
}

func (s *recordingSender) SendReport(conn *ServerConnection, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, sentReport{conn: conn, report: r})
	return s.err
}

func (s *recordingSender) Reports() []sentReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentReport{}, s.reports...)
}

// ForRptID returns the reports with the given RptID.
func (s *recordingSender) ForRptID(rptID string) []*Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Report
	for _, r := range s.reports {
		if r.report.RptID == rptID {
			out = append(out, r.report)
		}
	}
	return out
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*GooseMessage
}

func (p *recordingPublisher) Publish(msg *GooseMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) ForGoID(goID string) []*GooseMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*GooseMessage
	for _, msg := range p.messages {
		if msg.GoID == goID {
			out = append(out, msg)
		}
	}
	return out
}

func (p *recordingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// testEnv is a compiled simple I/O mapping driven by a fake clock.
type testEnv struct {
	m         *DeviceMapping
	clock     *fakeClock
	sender    *recordingSender
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{clock: newFakeClock(), sender: &recordingSender{}, publisher: &recordingPublisher{}}
	cfg := NewServerConfig()
	cfg.Clock = env.clock.Now
	cfg.ReportSender = env.sender
	cfg.GoosePublisher = env.publisher
	env.m = compileSimpleIO(t, cfg)
	return env
}

// advance moves the clock and runs one worker iteration.
func (env *testEnv) advance(d time.Duration) {
	env.m.ProcessEvents(env.clock.Advance(d))
}
