package utils

import (
	"strconv"
	"time"
)

// Timestamp returns the current time as a millisecond-precision decimal
// string. MkIX uses this format for message ids, so lexicographic order
// equals chronological order.
func Timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// TimestampInt is Timestamp as an integer, used where OneBot expects a
// numeric time field.
func TimestampInt() int64 {
	return time.Now().UnixMilli()
}
