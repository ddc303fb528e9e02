package performance

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const mb = 1024 * 1024

// MemorySnapshot represents memory state at a point in time
type MemorySnapshot struct {
	Timestamp   time.Time
	TotalMB     uint64
	AvailableMB uint64 // free plus reclaimable buffers
	UsedMB      uint64
	FreeMB      uint64
}

// GetSystemMemory reads system-wide memory through sysinfo(2). Decoder pools
// live in kernel memory, so this is where a descriptor leak shows up.
func GetSystemMemory() MemorySnapshot {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "GetSystemMemory",
			"error":    err.Error(),
		}).Warn("sysinfo failed")
		return MemorySnapshot{Timestamp: time.Now()}
	}

	unit := uint64(info.Unit)
	total := uint64(info.Totalram) * unit / mb
	free := uint64(info.Freeram) * unit / mb
	available := free + uint64(info.Bufferram)*unit/mb

	return MemorySnapshot{
		Timestamp:   time.Now(),
		TotalMB:     total,
		AvailableMB: available,
		UsedMB:      total - available,
		FreeMB:      free,
	}
}

// GoMemoryStats are Go runtime heap figures in MB.
type GoMemoryStats struct {
	AllocMB uint64
	SysMB   uint64
	NumGC   uint32
}

func GetGoMemory() GoMemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return GoMemoryStats{
		AllocMB: m.Alloc / mb,
		SysMB:   m.Sys / mb,
		NumGC:   m.NumGC,
	}
}

// Pressure represents how much memory pressure the system is under
type Pressure int

const (
	PressureNone     Pressure = iota // >800MB available
	PressureLow                      // 400-800MB
	PressureMedium                   // 200-400MB
	PressureHigh                     // 100-200MB
	PressureCritical                 // <100MB
)

// PressureFor classifies an available-memory figure.
func PressureFor(availableMB uint64) Pressure {
	switch {
	case availableMB < 100:
		return PressureCritical
	case availableMB < 200:
		return PressureHigh
	case availableMB < 400:
		return PressureMedium
	case availableMB < 800:
		return PressureLow
	default:
		return PressureNone
	}
}

func (p Pressure) String() string {
	switch p {
	case PressureNone:
		return "none"
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}
