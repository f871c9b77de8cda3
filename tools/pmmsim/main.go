// Command pmmsim runs the kernel frame pool on top of an mmapped memory arena
// and stresses it with a concurrent allocate/share/release workload.
package main

import (
	"flag"
	"os"

	"gopheros/kernel/kfmt"

	"github.com/op/go-logging"
)

func exit(err error) {
	log.Errorf("error: %s", err.Error())
	os.Exit(1)
}

func main() {
	var (
		cfg      Config
		logLevel string
	)

	flag.IntVar(&cfg.Frames, "frames", 1024, "number of frames in the simulated physical memory")
	flag.IntVar(&cfg.Workers, "workers", 4, "number of concurrent workers")
	flag.IntVar(&cfg.Ops, "ops", 10000, "number of operations per worker")
	flag.IntVar(&cfg.AllocPct, "alloc-pct", 45, "percentage of operations that allocate a frame")
	flag.IntVar(&cfg.SharePct, "share-pct", 15, "percentage of operations that share an owned frame")
	flag.Int64Var(&cfg.Seed, "seed", 1, "random seed")
	flag.StringVar(&logLevel, "log-level", "INFO", "log level (DEBUG, INFO, WARNING, ERROR)")
	flag.Parse()

	if err := setupLogging(os.Stderr, logLevel); err != nil {
		exit(err)
	}

	// Route kernel console output through the logger and turn kernel
	// panics into a process exit.
	kernelLog := newKernelLogWriter(logging.MustGetLogger("kernel"))
	kfmt.SetOutputSink(kernelLog)
	kfmt.SetHaltFn(func() {
		kernelLog.Flush()
		os.Exit(2)
	})

	sim, err := newSimulator(cfg)
	if err != nil {
		exit(err)
	}

	log.Infof("pool ready: %d frames, %d workers x %d ops", sim.pool.TotalFrames(), cfg.Workers, cfg.Ops)
	stats, err := sim.Run()
	sim.Close()
	if err != nil {
		exit(err)
	}

	log.Infof("allocs: %d, exhausted: %d, shares: %d, releases: %d", stats.Allocs, stats.Exhausted, stats.Shares, stats.Releases)
	log.Infof("free frames: %d/%d", stats.FreeFrames, stats.TotalFrames)
}
