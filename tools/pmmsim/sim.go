package main

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"unsafe"

	"gopheros/kernel/mem/pmm"
	"gopheros/kernel/mem/pmm/allocator"
)

const (
	// stampOffset is the offset inside an allocated frame where workers
	// store their ownership stamp. The first word is left alone.
	stampOffset = 8
)

var (
	errInvalidConfig = errors.New("invalid simulator config")
)

// Config controls the simulated workload.
type Config struct {
	// Frames is the number of frames in the simulated physical memory.
	Frames int

	// Workers is the number of concurrent goroutines sharing the pool
	// and Ops the number of operations each of them performs.
	Workers, Ops int

	// AllocPct and SharePct are the percentage of operations that
	// allocate a new frame and share an owned frame. The rest release
	// a reference.
	AllocPct, SharePct int

	// Seed initializes the per-worker random sources.
	Seed int64
}

func (cfg Config) validate() error {
	switch {
	case cfg.Frames <= 0:
		return fmt.Errorf("%w: frame count must be positive", errInvalidConfig)
	case cfg.Workers <= 0:
		return fmt.Errorf("%w: worker count must be positive", errInvalidConfig)
	case cfg.Ops < 0:
		return fmt.Errorf("%w: op count must not be negative", errInvalidConfig)
	case cfg.AllocPct < 0 || cfg.SharePct < 0 || cfg.AllocPct+cfg.SharePct > 100:
		return fmt.Errorf("%w: alloc and share percentages must add up to at most 100", errInvalidConfig)
	}
	return nil
}

// Stats summarizes a simulator run.
type Stats struct {
	Allocs, Exhausted, Shares, Releases uint64

	TotalFrames, FreeFrames uint32
}

func (s *Stats) add(o Stats) {
	s.Allocs += o.Allocs
	s.Exhausted += o.Exhausted
	s.Shares += o.Shares
	s.Releases += o.Releases
}

// simulator drives a FramePool that manages an mmapped arena.
type simulator struct {
	cfg   Config
	arena *arena
	pool  *allocator.FramePool
}

func newSimulator(cfg Config) (*simulator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	a, err := mapArena(cfg.Frames)
	if err != nil {
		return nil, err
	}

	pool := new(allocator.FramePool)
	if kerr := pool.Init(a.Start(), a.End()); kerr != nil {
		a.Close()
		return nil, kerr
	}

	log.Debugf("arena mapped at [0x%x - 0x%x)", a.Start(), a.End())
	return &simulator{cfg: cfg, arena: a, pool: pool}, nil
}

// Close releases the simulated physical memory.
func (s *simulator) Close() error {
	return s.arena.Close()
}

// Run executes the workload, releases every reference still held by the
// workers and verifies that the pool got all of its frames back.
func (s *simulator) Run() (Stats, error) {
	var (
		wg      sync.WaitGroup
		opsDone sync.WaitGroup
		results = make([]Stats, s.cfg.Workers)
		errs    = make([]error, s.cfg.Workers)
	)

	wg.Add(s.cfg.Workers)
	opsDone.Add(s.cfg.Workers)
	for w := 0; w < s.cfg.Workers; w++ {
		go func(id int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(s.cfg.Seed + int64(id)))
			results[id], errs[id] = s.runWorker(id, rng, &opsDone)
		}(w)
	}
	wg.Wait()

	stats := Stats{TotalFrames: s.pool.TotalFrames()}
	for w := range results {
		stats.add(results[w])
	}

	if err := errors.Join(errs...); err != nil {
		return stats, err
	}

	if kerr := s.pool.Audit(); kerr != nil {
		return stats, kerr
	}

	stats.FreeFrames = s.pool.FreeFrameCount()
	if stats.FreeFrames != stats.TotalFrames {
		return stats, fmt.Errorf("pool leaked %d frames", stats.TotalFrames-stats.FreeFrames)
	}

	return stats, nil
}

// runWorker performs cfg.Ops random operations. Every handle in the
// worker's list is one reference to a frame; shared frames appear once per
// reference. Each allocated frame is stamped with the worker id so that a
// frame handed out twice is detected when its stamp changes.
//
// Workers only start returning their remaining handles once every worker is
// done with its operations (opsDone), so all of them compete for the same
// pool for the whole operation phase.
func (s *simulator) runWorker(id int, rng *rand.Rand, opsDone *sync.WaitGroup) (Stats, error) {
	var (
		stats   Stats
		handles []uintptr
	)

	release := func(i int) error {
		addr := handles[i]
		if got, exp := readStamp(addr), stampFor(id, addr); got != exp {
			return fmt.Errorf("worker %d: frame 0x%x stamp is 0x%x; expected 0x%x", id, addr, got, exp)
		}

		handles[i] = handles[len(handles)-1]
		handles = handles[:len(handles)-1]
		s.pool.FreeFrame(addr)
		stats.Releases++
		return nil
	}

	runOps := func() error {
		for op := 0; op < s.cfg.Ops; op++ {
			roll := rng.Intn(100)
			switch {
			case len(handles) == 0 || roll < s.cfg.AllocPct:
				frame, kerr := s.pool.AllocFrame()
				if kerr != nil {
					stats.Exhausted++
					continue
				}

				addr := frame.Address()
				writeStamp(addr, stampFor(id, addr))
				handles = append(handles, addr)
				stats.Allocs++
			case roll < s.cfg.AllocPct+s.cfg.SharePct:
				addr := handles[rng.Intn(len(handles))]
				s.pool.IncRefCount(addr)
				handles = append(handles, addr)
				stats.Shares++
			default:
				if err := release(rng.Intn(len(handles))); err != nil {
					return err
				}
			}
		}
		return nil
	}

	// Every worker must reach the barrier, even after a failure
	err := runOps()
	opsDone.Done()
	opsDone.Wait()
	if err != nil {
		return stats, err
	}

	for len(handles) != 0 {
		if err := release(len(handles) - 1); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

func stampFor(worker int, addr uintptr) uint64 {
	return uint64(worker)<<48 | uint64(pmm.FrameFromAddress(addr))
}

func readStamp(addr uintptr) uint64 {
	return *(*uint64)(unsafe.Pointer(addr + stampOffset))
}

func writeStamp(addr uintptr, stamp uint64) {
	*(*uint64)(unsafe.Pointer(addr + stampOffset)) = stamp
}
