package supervisor

import (
	"github.com/shirou/gopsutil/v3/process"
)

// ReadRSSKB returns the resident set size of pid in KiB, or -1 when the
// process is gone or the platform cannot report it.
func ReadRSSKB(pid int) int64 {
	if pid <= 0 {
		return -1
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return -1
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return -1
	}
	return int64(mem.RSS / 1024)
}
