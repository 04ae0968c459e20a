// Package kmain boots the hosted kernel: it sets up physical memory, the
// swap device and the pager and then runs a paging workload on a set of
// kernel threads.
package kmain

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"gophervm/kernel"
	"gophervm/kernel/kfmt"
	"gophervm/kernel/mm"
	"gophervm/kernel/mm/frame"
	"gophervm/kernel/mm/page"
	"gophervm/kernel/mm/pmm"
	"gophervm/kernel/mm/swap"
	"gophervm/kernel/proc"
	"gophervm/kernel/usermem"
)

// userBase is the virtual address where the workload pages of each thread
// start.
const userBase = uintptr(0x08048000)

var (
	errCorruption  = &kernel.Error{Module: "kmain", Message: "user memory contents do not match the last write"}
	errFrameLeak   = &kernel.Error{Module: "kmain", Message: "frames still reserved after all threads exited"}
	errSwapLeak    = &kernel.Error{Module: "kmain", Message: "swap slots still in use after all threads exited"}
	errCopyFailed  = &kernel.Error{Module: "kmain", Message: "user copy stopped early"}
	errWriteFailed = &kernel.Error{Module: "kmain", Message: "user write failed"}
	errReadFailed  = &kernel.Error{Module: "kmain", Message: "user read failed"}
	errNameCorrupt = &kernel.Error{Module: "kmain", Message: "thread name read back from user memory does not match"}

	log = kfmt.Logger("kmain")
)

// Report summarizes a workload run.
type Report struct {
	Threads  int
	Accesses int
	Frames   frame.Stats
}

// Kmain loads the config file at configPath, initializes the kernel log and
// runs the configured workload. Errors are fatal and halt the kernel via
// kfmt.Panic.
func Kmain(configPath string) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		kfmt.Panic(err)
	}

	closeLog, err := initLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		kfmt.Panic(err)
	}
	defer closeLog()

	report, err := Run(cfg)
	if err != nil {
		kfmt.Panic(err)
	}

	log.Info("workload complete",
		"threads", report.Threads,
		"accesses", report.Accesses,
		"fresh_allocs", report.Frames.FreshAllocs,
		"evictions", report.Frames.Evictions,
		"evict_failures", report.Frames.EvictFailures,
	)
}

// Run boots the memory subsystem described by cfg and runs the workload to
// completion. Each thread writes and reads back random bytes of its pages
// and verifies that every read returns the last value written.
func Run(cfg *Config) (*Report, *kernel.Error) {
	alloc := new(pmm.BitmapAllocator)
	if err := alloc.Init(cfg.KernelFrames, cfg.UserFrames); err != nil {
		return nil, err
	}

	backing, closeBacking, err := openSwapBacking(cfg.SwapFile)
	if err != nil {
		return nil, err
	}
	defer closeBacking()

	dev, err := swap.NewDevice(backing, cfg.SwapSlots)
	if err != nil {
		return nil, err
	}

	pager := page.NewPager(alloc, dev)

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		runErr *kernel.Error
	)
	for i := 0; i < cfg.Threads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			th := proc.NewThread(fmt.Sprintf("worker-%d", i), pager)
			defer th.Exit()

			if err := runWorker(th, cfg, rand.New(rand.NewSource(cfg.Seed+int64(i)))); err != nil {
				log.Error("worker failed", "thread", th.ID(), "err", err.Message)
				errMu.Lock()
				if runErr == nil {
					runErr = err
				}
				errMu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if runErr != nil {
		return nil, runErr
	}

	if alloc.FreeCount() != cfg.UserFrames {
		return nil, errFrameLeak
	}

	if dev.UsedCount() != 0 {
		return nil, errSwapLeak
	}

	return &Report{
		Threads:  cfg.Threads,
		Accesses: cfg.Threads * cfg.Accesses,
		Frames:   pager.Frames().Stats(),
	}, nil
}

// runWorker runs the workload of a single thread. A shadow copy of the
// thread's pages tracks the expected contents of user memory.
func runWorker(th *proc.Thread, cfg *Config, rng *rand.Rand) *kernel.Error {
	if err := th.Reserve(userBase, cfg.PagesPerThread, true); err != nil {
		return err
	}

	size := cfg.PagesPerThread * int(mm.PageSize)
	shadow := make([]byte, size)

	// The first page starts with the NUL-terminated thread name. The other
	// pages are seeded with a copy of it that spans a page boundary.
	header := []byte(th.Name())
	name := append(header[:len(header):len(header)], 0)
	if usermem.CopyOut(th, userBase, name) != len(name) {
		return errCopyFailed
	}
	copy(shadow, name)

	for p := 1; p < cfg.PagesPerThread; p++ {
		offset := p*int(mm.PageSize) - len(header)/2
		if usermem.CopyOut(th, userBase+uintptr(offset), header) != len(header) {
			return errCopyFailed
		}
		copy(shadow[offset:], header)
	}

	for i := 0; i < cfg.Accesses; i++ {
		offset := rng.Intn(size)
		virtAddr := userBase + uintptr(offset)

		if rng.Intn(100) < cfg.WritePercent {
			value := byte(rng.Intn(256))
			if !usermem.WriteByte(th, virtAddr, value) {
				return errWriteFailed
			}
			shadow[offset] = value
			continue
		}

		got := usermem.ReadByte(th, virtAddr)
		if got < 0 {
			return errReadFailed
		}
		if got != int(shadow[offset]) {
			log.Error("memory mismatch", "thread", th.ID(), "addr", virtAddr, "expected", shadow[offset], "got", got)
			return errCorruption
		}
	}

	if err := checkName(th, shadow); err != nil {
		return err
	}

	buf := make([]byte, size)
	if usermem.CopyIn(th, buf, userBase) != size {
		return errCopyFailed
	}

	for offset := range buf {
		if buf[offset] != shadow[offset] {
			log.Error("memory mismatch", "thread", th.ID(), "addr", userBase+uintptr(offset), "expected", shadow[offset], "got", buf[offset])
			return errCorruption
		}
	}

	return nil
}

// checkName reads the thread name stored at the start of the thread's pages
// and compares it with the shadow copy. Random writes may have moved the
// terminator, so the expected string ends at the first NUL of shadow.
func checkName(th *proc.Thread, shadow []byte) *kernel.Error {
	expLen := bytes.IndexByte(shadow, 0)
	if expLen < 0 {
		// No terminator left in the thread's pages.
		return nil
	}

	got, err := usermem.ReadString(th, userBase, expLen+1)
	if err != nil {
		return err
	}

	if got != string(shadow[:expLen]) {
		log.Error("name mismatch", "thread", th.ID(), "expected", string(shadow[:expLen]), "got", got)
		return errNameCorrupt
	}

	return nil
}

// openSwapBacking opens the swap file at path, or returns an in-memory
// backing store if path is empty.
func openSwapBacking(path string) (swap.Backing, func(), *kernel.Error) {
	if path == "" {
		return new(swap.Memory), func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return nil, nil, &kernel.Error{Module: "kmain", Message: err.Error()}
	}

	return f, func() { _ = f.Close() }, nil
}
