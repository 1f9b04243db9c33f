package content

import "fmt"

// MalformedKey is returned when a string is not a canonical Key encoding
type MalformedKey struct {
	Raw        string
	Underlying error
}

func (e MalformedKey) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("Malformed content key [%s]: %v", e.Raw, e.Underlying)
	}
	return fmt.Sprintf("Malformed content key [%s]", e.Raw)
}

func (e MalformedKey) Unwrap() error {
	return e.Underlying
}

// InvalidKey is returned when Key fields are out of range
type InvalidKey struct {
	Reason string
}

func (e InvalidKey) Error() string {
	return fmt.Sprintf("Invalid content key: %s", e.Reason)
}

// KeyGenerationErr is returned when the shared counters could not be read or
// written. No key was issued.
type KeyGenerationErr struct {
	Channel    string
	Underlying error
}

func (e KeyGenerationErr) Error() string {
	return fmt.Sprintf("Error generating new key for channel [%s]: %v", e.Channel, e.Underlying)
}

func (e KeyGenerationErr) Unwrap() error {
	return e.Underlying
}

// WriteErr is returned when the blob store or the time index rejected a write
type WriteErr struct {
	Channel    string
	Key        Key
	Target     string
	Underlying error
}

func (e WriteErr) Error() string {
	return fmt.Sprintf("Failed to write [%s] for channel [%s] key [%v]: %v", e.Target, e.Channel, e.Key, e.Underlying)
}

func (e WriteErr) Unwrap() error {
	return e.Underlying
}

// NotFound is returned when no content exists for a key
type NotFound struct {
	Channel string
	Key     Key
}

func (e NotFound) Error() string {
	return fmt.Sprintf("Could not find [%v] in channel [%s]", e.Key, e.Channel)
}

// TooLarge is returned when a payload exceeds the configured maximum
type TooLarge struct {
	Channel  string
	Size     int64
	MaxBytes int64
}

func (e TooLarge) Error() string {
	return fmt.Sprintf("Content of [%d] bytes for channel [%s] exceeds the maximum of [%d] bytes", e.Size, e.Channel, e.MaxBytes)
}
