package resource

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// fallbackAvailableMB is reported when the platform probe cannot read
// live memory stats. Deliberately conservative.
const fallbackAvailableMB = 4096

// platformProbe reads available memory from /proc/meminfo. On platforms
// or environments where that fails it reports a fixed conservative value,
// keeping admission purely budget-driven.
type platformProbe struct{}

func newPlatformProbe() MemoryProbe {
	return platformProbe{}
}

func (platformProbe) AvailableMemoryMB() int64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return fallbackAvailableMB
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			break
		}
		return kb / 1024
	}
	return fallbackAvailableMB
}

// StaticProbe reports a fixed available-memory value. Useful in tests and
// in deployments that pin the budget explicitly.
type StaticProbe int64

// AvailableMemoryMB implements MemoryProbe.
func (p StaticProbe) AvailableMemoryMB() int64 {
	return int64(p)
}
