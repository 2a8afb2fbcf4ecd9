package timex

import "time"

// NowMs returns Unix milliseconds.
func NowMs() int64 { return time.Now().UnixMilli() }
