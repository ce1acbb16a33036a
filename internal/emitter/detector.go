package emitter

// ChangeDetector decides whether a freshly fetched payload should become a new DataEvent.
type ChangeDetector[T any] interface {
	Changed(prev *DataEvent[T], next T) bool
}

// KeyDetector compares payloads by a freshness key only, never by full equality.
// Two payloads with the same key are the same observation, even when the source's
// marker granularity is coarser than the poll interval and the contents differ.
type KeyDetector[T any, K comparable] struct {
	Key func(T) K
}

// NewKeyDetector returns a detector keyed by the given extractor.
func NewKeyDetector[T any, K comparable](key func(T) K) KeyDetector[T, K] {
	return KeyDetector[T, K]{Key: key}
}

func (d KeyDetector[T, K]) Changed(prev *DataEvent[T], next T) bool {
	if prev == nil {
		return true
	}
	return d.Key(prev.Payload) != d.Key(next)
}
