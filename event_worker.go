package iec61850

import (
	"context"
	"errors"
	"time"

	"go.uber.org/atomic"
)

// ErrWorkerRunning is returned by StartEventWorker if the worker already runs.
var ErrWorkerRunning = errors.New("event worker already running")

type eventWorker struct {
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// StartEventWorker starts the background task that drives GOOSE
// retransmission and report timing. It runs until StopEventWorker is called
// or ctx is cancelled.
func (m *DeviceMapping) StartEventWorker(ctx context.Context) error {
	w := &m.worker
	if !w.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	w.cancel = cancel
	w.done = done
	m.mu.Unlock()

	interval := m.config.EventWorkerInterval
	m.log.Info().Dur("interval", interval).Msg("event worker started")
	go func() {
		defer close(done)
		defer w.running.Store(false)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.log.Info().Msg("event worker stopped")
				return
			case <-ticker.C:
				m.ProcessEvents(m.now())
			}
		}
	}()
	return nil
}

// StopEventWorker stops the worker and waits for the running iteration to finish.
func (m *DeviceMapping) StopEventWorker() {
	m.mu.Lock()
	cancel, done := m.worker.cancel, m.worker.done
	m.worker.cancel, m.worker.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsEventWorkerRunning reports whether the worker task is active.
func (m *DeviceMapping) IsEventWorkerRunning() bool {
	return m.worker.running.Load()
}

// ProcessEvents runs one worker iteration at the given time: every enabled
// GOOSE control block publishes if due, then due report control block events
// are flushed. Messages are sent after the lock is released.
func (m *DeviceMapping) ProcessEvents(now time.Time) {
	var (
		msgs    []*GooseMessage
		reports []outgoingReport
	)
	m.mu.Lock()
	for _, gc := range m.gooseControls {
		if msg := gc.checkAndPublish(now); msg != nil {
			msgs = append(msgs, msg)
		}
	}
	for _, rc := range m.reportControls {
		reports = append(reports, rc.processEvents(now)...)
	}
	m.mu.Unlock()

	m.publishGoose(msgs)
	m.sendReports(reports)
}
