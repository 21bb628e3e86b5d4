package uci

// Well-known section types of the data_sender package.
const (
	TypeCollection = "collection"
	TypeInput      = "input"
	TypeOutput     = "output"
	TypeSettings   = "settings"
	TypeUnknown    = "unknown"
)

// SectionType normalizes a raw type tag. Empty tags become TypeUnknown;
// all other tags are returned unchanged.
func SectionType(raw string) string {
	if raw == "" {
		return TypeUnknown
	}
	return raw
}

// Section is one addressable UCI record.
type Section struct {
	// ID is the package-scoped section identifier (often a small integer).
	ID string

	// Type is the raw type tag from the `pkg.id=type` line.
	// Empty when the section was only seen through option lines.
	Type string

	// Options maps option keys to values.
	Options map[string]Value

	// Order lists option keys in first-seen order.
	Order []string
}

func newSection(id string) *Section {
	return &Section{ID: id, Options: make(map[string]Value)}
}

// Get returns the value of key and whether it was present.
func (s *Section) Get(key string) (Value, bool) {
	v, ok := s.Options[key]
	return v, ok
}

// Has reports whether key is present with a non-empty value.
func (s *Section) Has(key string) bool {
	v, ok := s.Options[key]
	return ok && v.String() != ""
}

// Set replaces the value of key, keeping its original position.
func (s *Section) Set(key string, v Value) {
	if _, ok := s.Options[key]; !ok {
		s.Order = append(s.Order, key)
	}
	s.Options[key] = v
}

func (s *Section) add(key, value string) {
	cur, ok := s.Options[key]
	if !ok {
		s.Order = append(s.Order, key)
	}
	s.Options[key] = cur.appendItem(value)
}

// Delete removes key from the section.
func (s *Section) Delete(key string) {
	if _, ok := s.Options[key]; !ok {
		return
	}
	delete(s.Options, key)
	for i, k := range s.Order {
		if k == key {
			s.Order = append(s.Order[:i], s.Order[i+1:]...)
			break
		}
	}
}

// Table holds the sections of one UCI package in first-seen order.
type Table struct {
	// Package is the UCI package name (e.g. "data_sender").
	Package string

	sections []*Section
	index    map[string]*Section
}

// NewTable returns an empty table for pkg.
func NewTable(pkg string) *Table {
	return &Table{Package: pkg, index: make(map[string]*Section)}
}

// Section returns the section with the given id.
func (t *Table) Section(id string) (*Section, bool) {
	if t == nil {
		return nil, false
	}
	s, ok := t.index[id]
	return s, ok
}

// Get returns the value of key in section id. The boolean is false when
// either the section or the key is missing.
func (t *Table) Get(id, key string) (Value, bool) {
	s, ok := t.Section(id)
	if !ok {
		return Value{}, false
	}
	return s.Get(key)
}

// Sections returns all sections in first-seen order.
func (t *Table) Sections() []*Section {
	if t == nil {
		return nil
	}
	out := make([]*Section, len(t.sections))
	copy(out, t.sections)
	return out
}

// SectionsOfType returns the sections whose type tag equals typ.
func (t *Table) SectionsOfType(typ string) []*Section {
	var out []*Section
	for _, s := range t.Sections() {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

// IDs returns all section ids in first-seen order.
func (t *Table) IDs() []string {
	secs := t.Sections()
	ids := make([]string, 0, len(secs))
	for _, s := range secs {
		ids = append(ids, s.ID)
	}
	return ids
}

// Len returns the number of sections.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.sections)
}

// Ensure returns the section with id, creating it with typ if missing.
// An existing section keeps its type unless typ is non-empty.
func (t *Table) Ensure(id, typ string) *Section {
	s, ok := t.index[id]
	if !ok {
		s = newSection(id)
		t.index[id] = s
		t.sections = append(t.sections, s)
	}
	if typ != "" {
		s.Type = typ
	}
	return s
}

// Remove deletes section id. It reports whether the section existed.
func (t *Table) Remove(id string) bool {
	if _, ok := t.index[id]; !ok {
		return false
	}
	delete(t.index, id)
	for i, s := range t.sections {
		if s.ID == id {
			t.sections = append(t.sections[:i], t.sections[i+1:]...)
			break
		}
	}
	return true
}

// FindByOption returns the first section whose key option has an item equal
// to value.
func (t *Table) FindByOption(key, value string) (*Section, bool) {
	for _, s := range t.Sections() {
		if v, ok := s.Get(key); ok && v.Contains(value) {
			return s, true
		}
	}
	return nil, false
}
