package cursor

import (
	"strconv"
	"time"
)

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}

func formatUint(n uint64) string {
	return strconv.FormatUint(n, 10)
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

func formatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
