// Package identity holds the registered people the concierge can greet.
//
// The store is loaded once at startup from a users.json document of the form
//
//	{
//	  "person1": {"key": "dxs", "type": "owner", "image": "images/users/person1.jpg", "text": "dxswelcome.mp3"},
//	  "person2": {"key": "lw",  "type": "guest", "image": "images/users/person2.jpg", "text": "lwwelcome.mp3"}
//	}
//
// Records keep the order they have in the file; resolution probes them in
// that order. The store is read-only after loading.
package identity

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"
)

// Kind is the display type of a registered person.
type Kind string

const (
	KindOwner Kind = "owner"
	KindGuest Kind = "guest"
)

// Known reports whether k is owner or guest.
func (k Kind) Known() bool {
	return k == KindOwner || k == KindGuest
}

// ErrNotFound is returned when a display key has no record.
var ErrNotFound = errors.New("identity: not found")

// Record is one registered person.
type Record struct {
	ID             string // stable id, the top-level key in users.json
	DisplayKey     string // short human code, unique
	Kind           Kind
	ReferenceImage string // path to the reference face image
	GreetingAudio  string // audio asset reference; empty means misconfigured
}

// Store is an ordered, read-only set of records.
type Store struct {
	records []Record
	byKey   map[string]int

	refMu sync.Mutex
	refs  map[string][]byte
}

// NewStore builds a store from records in the given order. Records without
// a display key or reference image are skipped; a repeated display key keeps
// the first record. Each skip is logged as a warning.
func NewStore(records []Record, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "identity")

	s := &Store{
		byKey: make(map[string]int, len(records)),
		refs:  make(map[string][]byte),
	}
	for _, r := range records {
		switch {
		case r.DisplayKey == "" || r.ReferenceImage == "":
			logger.Warn("skipping incomplete identity record", "id", r.ID, "key", r.DisplayKey)
			continue
		case s.has(r.DisplayKey):
			logger.Warn("skipping duplicate display key", "id", r.ID, "key", r.DisplayKey)
			continue
		}
		s.byKey[r.DisplayKey] = len(s.records)
		s.records = append(s.records, r)
	}
	return s
}

func (s *Store) has(key string) bool {
	_, ok := s.byKey[key]
	return ok
}

// Load reads a users.json file. Relative image paths are resolved against
// the file's directory.
func Load(path string, logger *slog.Logger) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("identity: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := Parse(f, filepath.Dir(path), logger)
	if err != nil {
		return nil, fmt.Errorf("identity: parse %q: %w", path, err)
	}
	return s, nil
}

// Parse decodes a users.json document from r. baseDir anchors relative
// image paths; pass "" to leave them untouched. Entries that are not
// objects are skipped with a warning; only a document that is not a JSON
// object fails.
func Parse(r io.Reader, baseDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return NewStore(nil, logger), nil
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("decode: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("top level must be an object, got %s", jsonKind(root))
	}

	var records []Record
	// ForEach walks members in document order.
	root.ForEach(func(key, entry gjson.Result) bool {
		id := key.String()
		if !entry.IsObject() {
			logger.Warn("skipping malformed identity record", "component", "identity", "id", id, "type", jsonKind(entry))
			return true
		}
		img := field(entry, "image")
		if img != "" && baseDir != "" && !filepath.IsAbs(img) {
			img = filepath.Join(baseDir, img)
		}
		records = append(records, Record{
			ID:             id,
			DisplayKey:     field(entry, "key"),
			Kind:           Kind(field(entry, "type")),
			ReferenceImage: img,
			GreetingAudio:  field(entry, "text"),
		})
		return true
	})
	return NewStore(records, logger), nil
}

// field returns the string member name of obj, or "" when it is missing or
// not a string.
func field(obj gjson.Result, name string) string {
	v := obj.Get(name)
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}

func jsonKind(v gjson.Result) string {
	switch {
	case v.IsArray():
		return "array"
	case v.IsObject():
		return "object"
	default:
		return v.Type.String()
	}
}

// Records returns the records in store order. The slice is a copy.
func (s *Store) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of usable records.
func (s *Store) Len() int {
	return len(s.records)
}

// Lookup returns the record for a display key.
func (s *Store) Lookup(displayKey string) (Record, error) {
	i, ok := s.byKey[displayKey]
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, displayKey)
	}
	return s.records[i], nil
}

// ReferenceImage returns the bytes of a record's reference image. Reads are
// cached for the life of the store.
func (s *Store) ReferenceImage(r Record) ([]byte, error) {
	s.refMu.Lock()
	defer s.refMu.Unlock()

	if b, ok := s.refs[r.ReferenceImage]; ok {
		return b, nil
	}
	b, err := os.ReadFile(r.ReferenceImage)
	if err != nil {
		return nil, fmt.Errorf("identity: read reference for %q: %w", r.DisplayKey, err)
	}
	s.refs[r.ReferenceImage] = b
	return b, nil
}
