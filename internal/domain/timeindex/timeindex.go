// timeindex derives the locations of time bucket indices. Every function here
// is pure, so writers and readers on different nodes compute the same paths.
package timeindex

import (
	"strings"
	"time"

	"github.com/lloydmeta/datahub/internal/domain/content"
)

// RootPath is the coordination tree node under which all live indices live
const RootPath = "/TimeIndex"

const bucketLayout = "2006-01-02-15-04"

// BucketHash returns the minute bucket identifier for t
func BucketHash(t time.Time) string {
	return t.UTC().Format(bucketLayout)
}

// ParseBucketHash is the inverse of BucketHash
func ParseBucketHash(hash string) (time.Time, error) {
	return time.ParseInLocation(bucketLayout, hash, time.UTC)
}

// ChannelPath is the parent node of all of a channel's buckets
func ChannelPath(channel string) string {
	return RootPath + "/" + channel
}

// BucketPath is the node whose children are the keys written in the bucket
func BucketPath(channel string, hash string) string {
	return ChannelPath(channel) + "/" + hash
}

// BucketPathAt is BucketPath for the bucket that contains t
func BucketPathAt(channel string, t time.Time) string {
	return BucketPath(channel, BucketHash(t))
}

// KeyPath is the node recorded for one write
func KeyPath(channel string, t time.Time, key content.Key) string {
	return BucketPathAt(channel, t) + "/" + key.String()
}

// LastSegment returns the final element of a node path
func LastSegment(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// StableMinute returns the start of the most recent minute that lies entirely
// before t, at millisecond resolution.
//
// 17:22:00.000 and 17:22:59.000 both give 17:21, 17:22:59.999 gives 17:22.
func StableMinute(t time.Time) time.Time {
	return t.UTC().Add(time.Millisecond).Truncate(time.Minute).Add(-time.Minute)
}

// StableMinuteForSecond is StableMinute where t stands for its whole second,
// so 17:22:59 gives 17:22.
func StableMinuteForSecond(t time.Time) time.Time {
	return StableMinute(t.UTC().Truncate(time.Second).Add(time.Second - time.Millisecond))
}

// Buckets returns the bucket hashes for every minute in [from, to], oldest first
func Buckets(from time.Time, to time.Time) []string {
	var hashes []string
	for m := from.UTC().Truncate(time.Minute); !m.After(to); m = m.Add(time.Minute) {
		hashes = append(hashes, BucketHash(m))
	}
	return hashes
}
