package common

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration accepts either a Go duration string ("72h") or a number of
// nanoseconds when read from JSON, and is always written back as a string
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) (err error) {
	if len(b) > 0 && b[0] == '"' {
		sd := string(b[1 : len(b)-1])
		duration, parseErr := time.ParseDuration(sd)
		if parseErr == nil {
			*d = Duration(duration)
		} else {
			err = parseErr
		}
		return
	}
	var id int64
	id, err = json.Number(string(b)).Int64()
	if err == nil {
		*d = Duration(time.Duration(id))
	}
	return
}

func (d Duration) MarshalJSON() (b []byte, err error) {
	return []byte(fmt.Sprintf(`"%s"`, time.Duration(d).String())), nil
}

// Millis is the duration truncated to whole milliseconds
func (d Duration) Millis() int64 {
	return int64(time.Duration(d) / time.Millisecond)
}

// DurationFromMillis is the inverse of Millis
func DurationFromMillis(millis int64) Duration {
	return Duration(time.Duration(millis) * time.Millisecond)
}
