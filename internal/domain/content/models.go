package content

import "time"

// Content is one immutable payload plus its optional metadata.
//
// Key is nil until the content has been written; LastModified is only filled
// in when the content is read back from the blob store.
type Content struct {
	Data            []byte
	ContentType     *string
	ContentLanguage *string
	Key             *Key
	LastModified    *time.Time
}

// New returns Content for the given payload. Empty strings are treated as
// absent metadata.
func New(data []byte, contentType string, contentLanguage string) Content {
	c := Content{Data: data}
	if contentType != "" {
		c.ContentType = &contentType
	}
	if contentLanguage != "" {
		c.ContentLanguage = &contentLanguage
	}
	return c
}

// InsertionResult is what a successful write hands back
type InsertionResult struct {
	Key       Key
	WrittenAt time.Time
}
