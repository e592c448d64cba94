package ring

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MarshalJSON encodes the entry as the pair [owner, key].
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Owner, e.Key})
}

// UnmarshalJSON decodes a [owner, key] pair. The owner must be a string and
// the key a non-negative integer.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(fields) != 2 {
		return fmt.Errorf("%w: record has %d fields, want 2", ErrMalformed, len(fields))
	}

	var owner *string
	if err := json.Unmarshal(fields[0], &owner); err != nil || owner == nil {
		return fmt.Errorf("%w: owner %s is not a string", ErrMalformed, fields[0])
	}
	var key *uint64
	if err := json.Unmarshal(fields[1], &key); err != nil || key == nil {
		return fmt.Errorf("%w: key %s is not a non-negative integer", ErrMalformed, fields[1])
	}

	e.Owner, e.Key = *owner, *key
	return nil
}

// MarshalJSON encodes the tree as its insertion log.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return Encode(t)
}

// MarshalJSON encodes the ring as its insertion log.
func (b *Balanced) MarshalJSON() ([]byte, error) {
	return Encode(b)
}

// Encode serializes r as a JSON array of [owner, key] pairs in insertion
// order.
func Encode(r Ring) ([]byte, error) {
	entries := r.Entries()
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(entries)
}

// Decode parses serialized ring data. Nothing is returned unless every
// record is well formed.
func Decode(data []byte) ([]Entry, error) {
	var entries *[]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		if errors.Is(err, ErrMalformed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if entries == nil {
		return nil, fmt.Errorf("%w: null ring", ErrMalformed)
	}
	return *entries, nil
}

// Replay inserts entries into r in order.
func Replay(r Ring, entries []Entry) {
	for _, e := range entries {
		r.Insert(e.Owner, e.Key)
	}
}

// Unmarshal rebuilds a Tree from serialized data.
func Unmarshal(data []byte, opts ...Option) (*Tree, error) {
	entries, err := Decode(data)
	if err != nil {
		return nil, err
	}
	t := NewTree(opts...)
	Replay(t, entries)
	return t, nil
}
