package audit

import (
	"fmt"
	"log"
	"sync"

	"github.com/strefethen/sonos-fleet-go/internal/devices"
)

const (
	DefaultRetention       = 500
	DefaultQueryLimit      = 50
	MaxQueryLimit          = 500
	MaxConsecutiveFailures = 3

	queueSize = 64
)

// Service persists sweep summaries. It receives them from the fleet as a
// sweep observer and writes them on its own goroutine.
type Service struct {
	logger    *log.Logger
	repo      *Repository
	retention int

	queue    chan devices.SweepResult
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	healthMu            sync.RWMutex
	healthy             bool
	consecutiveFailures int
}

// NewService creates a sweep log keeping the newest retention records.
func NewService(dbPair DBPair, retention int, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Service{
		logger:    logger,
		repo:      NewRepository(dbPair),
		retention: retention,
		queue:     make(chan devices.SweepResult, queueSize),
		stopCh:    make(chan struct{}),
		healthy:   true,
	}
}

// Start launches the writer goroutine.
func (s *Service) Start() {
	s.logger.Printf("Starting sweep log writer (retention: %d records)", s.retention)
	s.wg.Add(1)
	go s.run()
}

// Stop drains queued results and stops the writer.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.logger.Printf("Sweep log writer stopped")
	})
}

// SweepCompleted queues result for writing. It never blocks the caller; when
// the queue is full the result is dropped and logged.
func (s *Service) SweepCompleted(result devices.SweepResult) {
	select {
	case s.queue <- result:
	default:
		s.logger.Printf("SWEEPLOG: queue full, dropping generation=%d outcome=%s", result.Generation, result.Outcome)
	}
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case result := <-s.queue:
			s.write(result)
		case <-s.stopCh:
			for {
				select {
				case result := <-s.queue:
					s.write(result)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) write(result devices.SweepResult) {
	if _, err := s.Record(result); err != nil {
		s.logger.Printf("SWEEPLOG: %v", err)
		return
	}
	if count, err := s.Prune(); err != nil {
		s.logger.Printf("SWEEPLOG: %v", err)
	} else if count > 0 {
		s.logger.Printf("SWEEPLOG: pruned %d records", count)
	}
}

// Record writes result immediately.
func (s *Service) Record(result devices.SweepResult) (*SweepRecord, error) {
	record, err := s.repo.InsertRecord(result)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to record sweep: %w", err)
	}
	s.recordSuccess()
	return record, nil
}

// QueryRecords lists records, clamping the limit.
// Returns: records, total count, hasMore flag, error.
func (s *Service) QueryRecords(filters RecordQueryFilters) ([]SweepRecord, int, bool, error) {
	if filters.Limit <= 0 {
		filters.Limit = DefaultQueryLimit
	}
	if filters.Limit > MaxQueryLimit {
		filters.Limit = MaxQueryLimit
	}

	records, total, err := s.repo.QueryRecords(filters)
	if err != nil {
		s.recordFailure()
		return nil, 0, false, fmt.Errorf("failed to query sweep records: %w", err)
	}
	s.recordSuccess()

	return records, total, filters.Offset+len(records) < total, nil
}

// GetRecord retrieves a single record by ID.
func (s *Service) GetRecord(recordID string) (*SweepRecord, error) {
	record, err := s.repo.GetRecord(recordID)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to get sweep record: %w", err)
	}
	if record == nil {
		return nil, &RecordNotFoundError{RecordID: recordID}
	}
	s.recordSuccess()
	return record, nil
}

// Prune trims the log to the retention limit, returns count deleted.
func (s *Service) Prune() (int64, error) {
	count, err := s.repo.PruneToLatest(s.retention)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("failed to prune sweep records: %w", err)
	}
	s.recordSuccess()
	return count, nil
}

// IsHealthy returns current health status.
func (s *Service) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Service) recordSuccess() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures = 0
	s.healthy = true
}

// recordFailure marks the service unhealthy after MaxConsecutiveFailures.
func (s *Service) recordFailure() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= MaxConsecutiveFailures {
		s.healthy = false
	}
}

// RecordNotFoundError is returned when a sweep record does not exist.
type RecordNotFoundError struct {
	RecordID string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("sweep record not found: %s", e.RecordID)
}
