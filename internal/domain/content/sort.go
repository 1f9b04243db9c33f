package content

import "sort"

// SortKeys sorts keys in place and drops duplicates, returning the
// deduplicated slice.
func SortKeys(keys []Key) []Key {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Less(keys[j])
	})
	if len(keys) < 2 {
		return keys
	}
	deduped := keys[:1]
	for _, k := range keys[1:] {
		if k != deduped[len(deduped)-1] {
			deduped = append(deduped, k)
		}
	}
	return deduped
}

// KeyStrings returns the canonical encodings of keys, in the same order
func KeyStrings(keys []Key) []string {
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.String())
	}
	return ids
}
