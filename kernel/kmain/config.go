package kmain

import (
	"encoding/json"
	"os"

	"gophervm/kernel"
)

var (
	errNoUserFrames  = &kernel.Error{Module: "kmain", Message: "config: user_frames must be positive"}
	errNoThreads     = &kernel.Error{Module: "kmain", Message: "config: threads and pages_per_thread must be positive"}
	errSwapTooSmall  = &kernel.Error{Module: "kmain", Message: "config: swap_slots must cover every user page"}
	errBadAccessMode = &kernel.Error{Module: "kmain", Message: "config: write_percent must be between 0 and 100"}
)

// Config describes the machine and the workload that Kmain runs.
type Config struct {
	KernelFrames uint32 `json:"kernel_frames"`
	UserFrames   uint32 `json:"user_frames"`

	// SwapSlots is the number of page-sized slots of the swap device. If
	// SwapFile is empty, swapped pages are kept in memory.
	SwapSlots uint32 `json:"swap_slots"`
	SwapFile  string `json:"swap_file"`

	Threads        int   `json:"threads"`
	PagesPerThread int   `json:"pages_per_thread"`
	Accesses       int   `json:"accesses"`
	WritePercent   int   `json:"write_percent"`
	Seed           int64 `json:"seed"`

	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
}

// DefaultConfig returns the configuration used for fields that a config file
// leaves unset.
func DefaultConfig() Config {
	return Config{
		KernelFrames:   16,
		UserFrames:     32,
		SwapSlots:      256,
		Threads:        4,
		PagesPerThread: 48,
		Accesses:       4096,
		WritePercent:   50,
		Seed:           1,
		LogLevel:       "INFO",
	}
}

// LoadConfig decodes the JSON config file at path. Fields missing from the
// file keep their default values.
func LoadConfig(path string) (*Config, *kernel.Error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return nil, &kernel.Error{Module: "kmain", Message: err.Error()}
	}
	defer f.Close()

	if err = json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, &kernel.Error{Module: "kmain", Message: "config: " + err.Error()}
	}

	if kerr := cfg.Validate(); kerr != nil {
		return nil, kerr
	}

	return &cfg, nil
}

// Validate checks that the config describes a runnable workload.
func (cfg *Config) Validate() *kernel.Error {
	switch {
	case cfg.UserFrames == 0:
		return errNoUserFrames
	case cfg.Threads <= 0 || cfg.PagesPerThread <= 0:
		return errNoThreads
	case uint64(cfg.SwapSlots) < uint64(cfg.Threads)*uint64(cfg.PagesPerThread):
		return errSwapTooSmall
	case cfg.WritePercent < 0 || cfg.WritePercent > 100:
		return errBadAccessMode
	}

	if cfg.KernelFrames == 0 {
		cfg.KernelFrames = 1
	}

	return nil
}
