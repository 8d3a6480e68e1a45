package producers

import (
	"context"
	"runtime"
	"strconv"
	"time"
)

// RuntimeHeader is the CSV header of RuntimeSample records.
var RuntimeHeader = []string{"timestamp", "heap_alloc", "heap_sys", "num_gc", "goroutines"}

// RuntimeSample records the collector's own memory use, so the cost of
// collection shows up next to the data.
func RuntimeSample(_ context.Context, now time.Time) ([]string, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return []string{
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatUint(m.HeapAlloc, 10),
		strconv.FormatUint(m.HeapSys, 10),
		strconv.FormatUint(uint64(m.NumGC), 10),
		strconv.Itoa(runtime.NumGoroutine()),
	}, nil
}
