package document

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDKey is the reserved identity key of the document store. The identity
// field is always stored under this key regardless of naming overrides.
const IDKey = "_id"

var (
	// ErrSchema indicates that no mapping schema is registered for a type,
	// or that a schema is malformed.
	ErrSchema = errors.New("document: no schema registered")
	// ErrMapping indicates a value that cannot be coerced to its field kind.
	// The whole encode/decode aborts; no partial record is produced.
	ErrMapping = errors.New("document: value cannot be mapped")
)

// Document is the generic string-keyed record exchanged with the store.
type Document map[string]any

// Kind is the canonical in-memory type of a mapped field.
type Kind int

const (
	KindString Kind = iota
	KindInt64
	KindFloat64
	KindBool
	KindDecimal
	// KindTimeMillis maps time.Time to epoch milliseconds in the document.
	// A zero time is stored as 0 and 0 decodes back to a zero time.
	KindTimeMillis
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	case KindDecimal:
		return "decimal"
	case KindTimeMillis:
		return "time_millis"
	default:
		return "unknown"
	}
}

// FieldSpec describes one mapped field of a domain record.
//
// Get returns the current domain value; Set assigns a value that has already
// been coerced to the field's canonical kind (string, int64, float64, bool,
// decimal.Decimal or time.Time), so implementations may type-assert directly.
type FieldSpec[T any] struct {
	// Name is the domain field name.
	Name string
	// DocName is the document field name. Empty defaults to Name. Ignored
	// for the identity field, which always lives under IDKey.
	DocName string
	// Identity marks the single identity field. Identity fields must be
	// KindString; an empty value is replaced by a generated UUID on encode.
	Identity bool
	Kind     Kind
	Get      func(*T) any
	Set      func(*T, any)
}

func (f FieldSpec[T]) docKey() string {
	if f.Identity {
		return IDKey
	}
	if f.DocName != "" {
		return f.DocName
	}
	return f.Name
}

// Mapper converts records of one domain type to and from Documents. Build it
// once at startup; it is immutable and safe for concurrent use.
type Mapper[T any] struct {
	fields   []FieldSpec[T]
	identity int
}

// NewMapper validates the field table and returns a Mapper.
func NewMapper[T any](fields []FieldSpec[T]) (*Mapper[T], error) {
	identity := -1
	seen := make(map[string]struct{}, len(fields))

	for i, f := range fields {
		if f.Name == "" || f.Get == nil || f.Set == nil {
			return nil, fmt.Errorf("%w: field %d is incomplete", ErrSchema, i)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrSchema, f.Name)
		}
		seen[f.Name] = struct{}{}

		if f.Identity {
			if identity >= 0 {
				return nil, fmt.Errorf("%w: more than one identity field", ErrSchema)
			}
			if f.Kind != KindString {
				return nil, fmt.Errorf("%w: identity field %q must be a string", ErrSchema, f.Name)
			}
			identity = i
		}
	}
	if identity < 0 {
		return nil, fmt.Errorf("%w: no identity field", ErrSchema)
	}

	return &Mapper[T]{fields: fields, identity: identity}, nil
}

// Encode converts rec into a Document. An absent identity value is replaced
// by a freshly generated UUID, which is also assigned back into rec.
func (m *Mapper[T]) Encode(rec *T) (Document, error) {
	doc := make(Document, len(m.fields))

	for _, f := range m.fields {
		value := f.Get(rec)

		if f.Identity {
			id, _ := value.(string)
			if id == "" {
				id = uuid.NewString()
				f.Set(rec, id)
			}
			doc[IDKey] = id
			continue
		}

		dv, err := toDocValue(value, f.Kind)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		doc[f.docKey()] = dv
	}

	return doc, nil
}

// Decode constructs a record from doc. Fields absent from the document are
// left at their zero value; a value that cannot be coerced aborts the whole
// decode.
func (m *Mapper[T]) Decode(doc Document) (*T, error) {
	rec := new(T)

	for _, f := range m.fields {
		raw, ok := doc[f.docKey()]
		if !ok || raw == nil {
			continue
		}

		value, err := coerce(raw, f.Kind)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		f.Set(rec, value)
	}

	return rec, nil
}

// Registry holds named mappers so callers can fail with ErrSchema instead of
// a nil dereference when a type was never registered.
type Registry struct {
	mu      sync.RWMutex
	mappers map[string]any
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{mappers: make(map[string]any)}
}

// Register stores mapper under name, replacing any previous registration.
func (r *Registry) Register(name string, mapper any) {
	r.mu.Lock()
	r.mappers[name] = mapper
	r.mu.Unlock()
}

// Lookup returns the mapper registered under name for type T.
func Lookup[T any](r *Registry, name string) (*Mapper[T], error) {
	r.mu.RLock()
	raw, ok := r.mappers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrSchema, name)
	}
	m, ok := raw.(*Mapper[T])
	if !ok {
		return nil, fmt.Errorf("%w: %q registered with a different record type", ErrSchema, name)
	}
	return m, nil
}
