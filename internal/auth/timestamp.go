package auth

import (
	"fmt"
	"strconv"
	"time"
)

// ValidateTimestamp checks that the declared request timestamp (a decimal
// Unix-milliseconds string) lies within [now-tolerance, now+tolerance],
// bounds inclusive. It is a pure function: no seen-timestamp state is kept,
// so an exact replay inside the tolerance window is not prevented by this
// check — replay protection is bounded by the window.
func ValidateTimestamp(value string, now time.Time, tolerance time.Duration) error {
	if value == "" {
		return forbidden(CodeTimestampInvalid, "timestamp required")
	}

	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ts <= 0 {
		return forbidden(CodeTimestampInvalid, fmt.Sprintf("timestamp %q is not a valid unix-ms value", value))
	}

	diff := now.UnixMilli() - ts
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance.Milliseconds() {
		return forbidden(CodeTimestampInvalid, "timestamp outside tolerance window")
	}
	return nil
}
