package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	kitlog "github.com/go-kit/log"

	"flowlog/internal/broker"
	"flowlog/internal/memtracker"
	"flowlog/internal/partition"
	"flowlog/internal/segment"
)

func main() {
	logger := kitlog.NewLogfmtLogger(os.Stdout)
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC, "caller", kitlog.DefaultCaller)

	// DefaultConfig already carries sane retention/dedup/cache sizing
	// (spec §4.6-4.7); only the segment file sizes are broker-specific.
	partitionCfg := partition.DefaultConfig()
	partitionCfg.SegmentConfig = segment.Config{
		SegmentMaxBytes:     10 * 1024 * 1024, // 10MB per segment
		OffsetIndexMaxBytes: 100 * 1024,       // 100KB offset index
		TimeIndexMaxBytes:   100 * 1024,       // 100KB time index
	}

	cfg := broker.Config{
		ListenAddr:      ":9092",
		BaseDir:         "./data",
		PartitionConfig: partitionCfg,
	}

	fmt.Println("[Init] Initializing memory tracker...")
	memtracker.Init(256 * 1024 * 1024) // 256MB batch cache budget

	fmt.Println("[Init] Initializing open-segment cache...")
	openCache := segment.NewOpenCache(cfg.PartitionConfig.OpenSegmentCacheCapacity)
	defer openCache.Close()

	fmt.Println("[Init] Initializing Partition Storage...")
	p, err := partition.Open(cfg.BaseDir, "events", 0, cfg.PartitionConfig, openCache, memtracker.Get(), logger)
	if err != nil {
		log.Fatalf("Failed to initialize partition: %v", err)
	}
	defer p.Close()

	fmt.Println("[Init] Starting Retention Cleaner...")
	cleaner := partition.NewRetentionCleaner(cfg.PartitionConfig.RetentionCheckInterval, logger)
	cleaner.Register(p)
	cleaner.Start()
	defer cleaner.Stop()

	brk := broker.NewBroker(cfg, p)

	go func() {
		if err := brk.Start(); err != nil {
			log.Fatalf("Broker failed to start: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\n[Main] Shutting down broker...")
	brk.Stop()
	fmt.Println("[Main] Broker stopped. Bye!")
}
