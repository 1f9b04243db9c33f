package content

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// MaxSequence is the largest sequence a Key can carry for a single timestamp
const MaxSequence int64 = 32767

const (
	timestampWidth = 15
	sequenceWidth  = 5
)

var keyPattern = regexp.MustCompile(`^[0-9]{15}-[0-9]{5}$`)

// Key identifies one stored item within a channel.
//
// Keys are ordered by timestamp first, then sequence. The canonical String
// encoding is fixed width, so comparing encodings byte-wise gives the same
// order as Compare.
type Key struct {
	millis   int64
	sequence int64
}

// NewKey builds a Key from a millisecond timestamp and a sequence.
func NewKey(millis int64, sequence int64) (Key, error) {
	if millis < 0 {
		return Key{}, InvalidKey{Reason: fmt.Sprintf("negative timestamp [%d]", millis)}
	}
	if sequence < 0 || sequence > MaxSequence {
		return Key{}, InvalidKey{Reason: fmt.Sprintf("sequence [%d] out of range [0, %d]", sequence, MaxSequence)}
	}
	return Key{millis: millis, sequence: sequence}, nil
}

// KeyAt builds a Key for the given time, truncated to millisecond resolution.
func KeyAt(t time.Time, sequence int64) (Key, error) {
	return NewKey(toMillis(t), sequence)
}

func (k Key) Millis() int64 {
	return k.millis
}

func (k Key) Sequence() int64 {
	return k.sequence
}

// Time returns the timestamp of the key in UTC
func (k Key) Time() time.Time {
	return time.Unix(0, k.millis*int64(time.Millisecond)).UTC()
}

// Compare returns -1, 0 or 1 if k is less than, equal to or greater than other
func (k Key) Compare(other Key) int {
	switch {
	case k.millis < other.millis:
		return -1
	case k.millis > other.millis:
		return 1
	case k.sequence < other.sequence:
		return -1
	case k.sequence > other.sequence:
		return 1
	default:
		return 0
	}
}

func (k Key) Less(other Key) bool {
	return k.Compare(other) < 0
}

// String returns the canonical encoding of the key
func (k Key) String() string {
	return fmt.Sprintf("%0*d-%0*d", timestampWidth, k.millis, sequenceWidth, k.sequence)
}

// ParseKey parses the canonical encoding produced by Key.String.
func ParseKey(s string) (Key, error) {
	if !keyPattern.MatchString(s) {
		return Key{}, MalformedKey{Raw: s}
	}
	millis, err := strconv.ParseInt(s[:timestampWidth], 10, 64)
	if err != nil {
		return Key{}, MalformedKey{Raw: s, Underlying: err}
	}
	sequence, err := strconv.ParseInt(s[timestampWidth+1:], 10, 64)
	if err != nil {
		return Key{}, MalformedKey{Raw: s, Underlying: err}
	}
	key, err := NewKey(millis, sequence)
	if err != nil {
		return Key{}, MalformedKey{Raw: s, Underlying: err}
	}
	return key, nil
}

// ParseKeys parses every id and returns the keys sorted, without duplicates.
// The first malformed id aborts the parse.
func ParseKeys(ids []string) ([]Key, error) {
	keys := make([]Key, 0, len(ids))
	for _, id := range ids {
		key, err := ParseKey(id)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return SortKeys(keys), nil
}

func toMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
