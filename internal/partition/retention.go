package partition

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// RetentionCleaner periodically asks every registered partition to delete
// its aged-out or over-budget segments (spec §4.7 "retention runs on a
// timer, independent of reads/writes").
//
// Grounded on the teacher's partition.RetentionCleaner, unchanged in shape:
// same register/start/stop lifecycle, generalized only to log through
// go-kit/log instead of silently swallowing cleanup errors.
type RetentionCleaner struct {
	mu         sync.Mutex
	partitions []*Partition
	interval   time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
	logger     log.Logger
}

func NewRetentionCleaner(interval time.Duration, logger log.Logger) *RetentionCleaner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RetentionCleaner{
		partitions: make([]*Partition, 0),
		interval:   interval,
		stopCh:     make(chan struct{}),
		logger:     log.With(logger, "component", "retention_cleaner"),
	}
}

func (rc *RetentionCleaner) Register(p *Partition) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.partitions = append(rc.partitions, p)
}

func (rc *RetentionCleaner) Start() {
	rc.wg.Add(1)
	go rc.run()
}

func (rc *RetentionCleaner) run() {
	defer rc.wg.Done()

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanupAll()
		case <-rc.stopCh:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanupAll() {
	rc.mu.Lock()
	partitions := make([]*Partition, len(rc.partitions))
	copy(partitions, rc.partitions)
	rc.mu.Unlock()

	for _, p := range partitions {
		if err := p.DeleteOldSegments(); err != nil {
			level.Warn(rc.logger).Log("msg", "segment cleanup failed", "topic", p.Topic, "partition", p.ID, "err", err)
		}
	}
}

func (rc *RetentionCleaner) Stop() {
	close(rc.stopCh)
	rc.wg.Wait()
}
