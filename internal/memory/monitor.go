package memory

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/localmind/localmind/pkg/errors"
)

// Sample is a point-in-time reading of memory usage. A failed probe is
// reported as an error, never as a zeroed sample, so the controller can
// hold its previous mode instead of reacting to bogus data.
type Sample struct {
	UsedBytes      uint64    `json:"used_bytes"`
	AvailableBytes uint64    `json:"available_bytes"`
	Timestamp      time.Time `json:"timestamp"`
}

// Pressure returns the fraction of memory in use, in [0,1]
func (s Sample) Pressure() float64 {
	total := s.UsedBytes + s.AvailableBytes
	if total == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(total)
}

// Monitor samples memory usage. Implementations are stateless; each
// call returns a fresh reading.
type Monitor interface {
	Sample() (Sample, error)
}

// SystemMonitor reads system-wide memory figures from /proc/meminfo,
// falling back to Go runtime statistics on platforms without it.
type SystemMonitor struct {
	meminfoPath string
}

// NewSystemMonitor creates a monitor backed by the host OS
func NewSystemMonitor() *SystemMonitor {
	return &SystemMonitor{meminfoPath: "/proc/meminfo"}
}

// Sample returns the current system memory usage
func (m *SystemMonitor) Sample() (Sample, error) {
	if runtime.GOOS == "linux" {
		sample, err := m.sampleMeminfo()
		if err != nil {
			return Sample{}, errors.NewSamplingError(err)
		}
		return sample, nil
	}
	return runtimeSample(), nil
}

func (m *SystemMonitor) sampleMeminfo() (Sample, error) {
	f, err := os.Open(m.meminfoPath)
	if err != nil {
		return Sample{}, err
	}
	defer f.Close()

	var totalKB, availableKB uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			totalKB, err = parseMeminfoLine(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			availableKB, err = parseMeminfoLine(line)
		}
		if err != nil {
			return Sample{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Sample{}, err
	}
	if totalKB == 0 {
		return Sample{}, fmt.Errorf("meminfo: MemTotal missing")
	}
	if availableKB > totalKB {
		return Sample{}, fmt.Errorf("meminfo: MemAvailable %d exceeds MemTotal %d", availableKB, totalKB)
	}

	return Sample{
		UsedBytes:      (totalKB - availableKB) * 1024,
		AvailableBytes: availableKB * 1024,
		Timestamp:      time.Now(),
	}, nil
}

func parseMeminfoLine(line string) (uint64, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("meminfo: malformed line %q", line)
	}
	kb, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("meminfo: malformed value in %q: %w", line, err)
	}
	return kb, nil
}

// runtimeSample approximates usage from the Go heap when no OS-level
// source is available. Sys overstates the process footprint slightly
// but moves in the right direction under pressure.
func runtimeSample() Sample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Sample{
		UsedBytes:      ms.HeapInuse + ms.StackInuse,
		AvailableBytes: ms.Sys - ms.HeapInuse - ms.StackInuse,
		Timestamp:      time.Now(),
	}
}
