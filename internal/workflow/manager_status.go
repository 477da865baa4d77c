package workflow

import (
	"context"

	"narrator/internal/logging"
	"narrator/internal/queue"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running    bool
	CurrentJob string
	LastError  string
	LastJob    *queue.Job
	Completed  int64
	Failed     int64
	QueueStats map[queue.Status]int
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:    m.running,
		CurrentJob: m.current,
		Completed:  m.completed,
		Failed:     m.failed,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	lastID := m.lastJobID
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats

	if lastID != "" {
		if job, err := m.store.Get(ctx, lastID); err == nil {
			summary.LastJob = job
		}
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setCurrent(id string) {
	m.mu.Lock()
	m.current = id
	m.mu.Unlock()
}

func (m *Manager) recordOutcome(jobID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.completed++
	} else {
		m.failed++
	}
	m.lastJobID = jobID
}
