package kv

import "iter"

type Pair struct {
	Key, Value string
}

// Storage is an associative structure for (string, string) pairs. It acts as a map
// but keeps insertion order and duplicates, using linear search instead of hashing,
// which proves to be more efficient on the relatively low number of entries a
// request carries (headers, query and form parameters).
type Storage struct {
	pairs []Pair
}

func New() *Storage {
	return new(Storage)
}

// NewPrealloc returns an instance of Storage with pre-allocated underlying storage.
func NewPrealloc(n int) *Storage {
	return &Storage{pairs: make([]Pair, 0, n)}
}

// Add adds a new pair of key and value, preserving duplicates.
func (s *Storage) Add(key, value string) *Storage {
	s.pairs = append(s.pairs, Pair{Key: key, Value: value})
	return s
}

// Value returns the first value corresponding to the key, otherwise an empty string.
func (s *Storage) Value(key string) string {
	value, _ := s.Get(key)
	return value
}

// ValueOr returns either the first value corresponding to the key or the fallback.
func (s *Storage) ValueOr(key, or string) string {
	value, found := s.Get(key)
	if !found {
		return or
	}

	return value
}

// Get returns the first value and whether it was found at all. Lookup is
// exact-match; callers normalize keys on ingestion (header keys are stored
// lower-cased).
func (s *Storage) Get(key string) (value string, found bool) {
	for _, pair := range s.pairs {
		if pair.Key == key {
			return pair.Value, true
		}
	}

	return "", false
}

// Values iterates over all values of the key in insertion order.
func (s *Storage) Values(key string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, pair := range s.pairs {
			if pair.Key == key && !yield(pair.Value) {
				return
			}
		}
	}
}

// Pairs iterates over all pairs in insertion order.
func (s *Storage) Pairs() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, pair := range s.pairs {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// Keys iterates over keys in insertion order, skipping already seen ones.
func (s *Storage) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		for i, pair := range s.pairs {
			if seenBefore(s.pairs[:i], pair.Key) {
				continue
			}

			if !yield(pair.Key) {
				return
			}
		}
	}
}

// Has indicates whether there's at least one entry of the key.
func (s *Storage) Has(key string) bool {
	_, found := s.Get(key)
	return found
}

// Set deletes all entries of the key and inserts the single given value instead.
func (s *Storage) Set(key, value string) *Storage {
	return s.Delete(key).Add(key, value)
}

// Delete removes all entries of the key, preserving the order of the rest.
func (s *Storage) Delete(key string) *Storage {
	kept := s.pairs[:0]

	for _, pair := range s.pairs {
		if pair.Key != key {
			kept = append(kept, pair)
		}
	}

	s.pairs = kept
	return s
}

// Len returns the number of stored pairs, counting duplicates.
func (s *Storage) Len() int {
	return len(s.pairs)
}

// Clear empties the storage, keeping the underlying capacity.
func (s *Storage) Clear() *Storage {
	s.pairs = s.pairs[:0]
	return s
}

func seenBefore(pairs []Pair, key string) bool {
	for _, pair := range pairs {
		if pair.Key == key {
			return true
		}
	}

	return false
}
