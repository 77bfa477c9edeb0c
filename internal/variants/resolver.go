package variants

import "strings"

// Entry maps one variant key to a dataset id.
type Entry struct {
	Key     string
	Dataset string
}

// Table is the parsed content of one mapping source.
type Table struct {
	Source  string
	Entries []Entry
}

// Map is the merged view over all tables. Iteration follows insertion order.
type Map struct {
	keys     []string
	datasets map[string]string
	origins  map[string]string
}

// Merge combines tables in order. A key appearing twice, within one table or
// across tables, fails with *DuplicateVariantKeyError.
func Merge(tables ...Table) (*Map, error) {
	m := &Map{
		datasets: make(map[string]string),
		origins:  make(map[string]string),
	}
	for _, table := range tables {
		for _, entry := range table.Entries {
			key := strings.TrimSpace(entry.Key)
			if key == "" {
				continue
			}
			if origin, ok := m.origins[key]; ok {
				return nil, &DuplicateVariantKeyError{Key: key, Sources: []string{origin, table.Source}}
			}
			m.keys = append(m.keys, key)
			m.datasets[key] = strings.TrimSpace(entry.Dataset)
			m.origins[key] = table.Source
		}
	}
	if len(m.keys) == 0 {
		return nil, ErrEmptyVariantMap
	}
	return m, nil
}

// Resolve returns the dataset mapped to key.
func (m *Map) Resolve(key string) (string, error) {
	if m == nil {
		return "", &UnknownVariantError{Key: key}
	}
	dataset, ok := m.datasets[strings.TrimSpace(key)]
	if !ok {
		return "", &UnknownVariantError{Key: key}
	}
	return dataset, nil
}

// Variants lists the keys in insertion order.
func (m *Map) Variants() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Source names the table that defined key, or "" if absent.
func (m *Map) Source(key string) string {
	if m == nil {
		return ""
	}
	return m.origins[strings.TrimSpace(key)]
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}
