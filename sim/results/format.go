package results

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultFormat is the RESULTS_FORMAT used when none is configured.
const DefaultFormat = "MSGPACK"

var (
	// ErrUnknownFormat reports a RESULTS_FORMAT with no registered serializer.
	ErrUnknownFormat = errors.New("unknown results format")
	// ErrDecodeUnsupported reports a format that can only be written.
	ErrDecodeUnsupported = errors.New("results format cannot be decoded")
)

// Serializer writes a ResultSet in one format.
type Serializer interface {
	Name() string
	Extension() string
	Encode(w io.Writer, rs *ResultSet) error
}

// Decoder is implemented by serializers whose output can be read back.
type Decoder interface {
	Decode(r io.Reader) (*ResultSet, error)
}

// SerializationError reports a failure to persist or load results.
// The in-memory ResultSet is never discarded on a persist failure, so the
// caller can retry with another path or format.
type SerializationError struct {
	Format string
	Path   string
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("results %s: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("results %s %s: %v", e.Format, e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Formats is a registry of serializers keyed by upper-case name.
// Safe for concurrent use.
type Formats struct {
	mu      sync.RWMutex
	byName  map[string]Serializer
	aliases map[string]string
}

// NewFormats returns an empty registry.
func NewFormats() *Formats {
	return &Formats{
		byName:  make(map[string]Serializer),
		aliases: make(map[string]string),
	}
}

// DefaultFormats returns a registry with every built-in serializer.
// PICKLE is accepted as an alias of the default binary format so corpus run
// configurations load unchanged.
func DefaultFormats() *Formats {
	f := NewFormats()
	_ = f.Register(MsgpackSerializer{}, "PICKLE")
	_ = f.Register(JSONSerializer{})
	_ = f.Register(YAMLSerializer{})
	_ = f.Register(ProtoSerializer{})
	_ = f.Register(CSVSerializer{})
	return f
}

// Register adds s under s.Name() and any aliases.
func (f *Formats) Register(s Serializer, aliases ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := strings.ToUpper(s.Name())
	if _, ok := f.byName[name]; ok {
		return fmt.Errorf("results format %s already registered", name)
	}
	f.byName[name] = s
	for _, a := range aliases {
		f.aliases[strings.ToUpper(a)] = name
	}
	return nil
}

// Lookup returns the serializer for name (case-insensitive, aliases allowed).
func (f *Formats) Lookup(name string) (Serializer, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := strings.ToUpper(name)
	if target, ok := f.aliases[n]; ok {
		n = target
	}
	s, ok := f.byName[n]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownFormat, name, strings.Join(f.namesLocked(), ", "))
	}
	return s, nil
}

// Names returns the registered format names, sorted.
func (f *Formats) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.namesLocked()
}

func (f *Formats) namesLocked() []string {
	names := make([]string, 0, len(f.byName))
	for n := range f.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// resultFileMode matches files written with os.WriteFile elsewhere.
const resultFileMode = 0o644

// Persist writes rs to path with s. The file is written to a temporary
// sibling and renamed into place, so a failed write never truncates an
// existing result file.
func Persist(rs *ResultSet, path string, s Serializer) (err error) {
	wrap := func(e error) error { return &SerializationError{Format: s.Name(), Path: path, Err: e} }

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = s.Encode(tmp, rs); err != nil {
		return wrap(err)
	}
	if err = tmp.Chmod(resultFileMode); err != nil {
		return wrap(err)
	}
	if err = tmp.Close(); err != nil {
		return wrap(err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return wrap(err)
	}
	return nil
}

// Load reads a result file written by Persist.
func Load(path string, s Serializer) (*ResultSet, error) {
	d, ok := s.(Decoder)
	if !ok {
		return nil, &SerializationError{Format: s.Name(), Path: path, Err: ErrDecodeUnsupported}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &SerializationError{Format: s.Name(), Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()
	rs, err := d.Decode(f)
	if err != nil {
		return nil, &SerializationError{Format: s.Name(), Path: path, Err: err}
	}
	return rs, nil
}
