// Package worker runs the periodic test-data sweep so synthetic records get
// flagged without an operator having to call the scan endpoint.
package worker

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/nimbusworks/envlift/internal/testdata"
)

// Sweep is one entity type's scan, bound to an environment by the caller.
type Sweep struct {
	Name string
	Run  func(ctx context.Context, batchSize int) (testdata.Report, error)
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	Logger    *log.Logger
}

// RunSweeper runs every sweep once per interval until ctx is cancelled. The
// first pass starts immediately so a freshly deployed detector pattern takes
// effect without waiting out a full interval.
func RunSweeper(ctx context.Context, sweeps []Sweep, cfg Config) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = testdata.DefaultScanBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[sweeper] ", log.LstdFlags)
	}

	for {
		for _, sweep := range sweeps {
			if ctx.Err() != nil {
				return
			}
			report, err := sweep.Run(ctx, batchSize)
			if err != nil {
				logger.Printf("sweep %s: %v", sweep.Name, err)
				continue
			}
			if report.Marked > 0 || report.Errors > 0 {
				logger.Printf("sweep %s: scanned=%d marked=%d alreadyMarked=%d errors=%d",
					sweep.Name, report.Scanned, report.Marked, report.AlreadyMarked, report.Errors)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
