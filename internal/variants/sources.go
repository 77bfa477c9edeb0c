package variants

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// Default spreadsheet headers of the dataset container tables.
const (
	DefaultKeyColumn   = "Variant Name"
	DefaultValueColumn = "ZIP Container Name"
)

// Format identifies how a FileSource is parsed.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Source produces one mapping table.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]Entry, error)
}

// LoadTables loads every source in order. The first failure aborts with a
// *SourceUnavailableError naming the source.
func LoadTables(ctx context.Context, sources ...Source) ([]Table, error) {
	tables := make([]Table, 0, len(sources))
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := source.Load(ctx)
		if err != nil {
			var unavailable *SourceUnavailableError
			if errors.As(err, &unavailable) {
				return nil, err
			}
			return nil, &SourceUnavailableError{Source: source.Name(), Err: err}
		}
		tables = append(tables, Table{Source: source.Name(), Entries: entries})
	}
	return tables, nil
}

// StaticSource serves a table held in memory.
type StaticSource struct {
	Label   string
	Entries []Entry
}

func (s StaticSource) Name() string {
	return s.Label
}

func (s StaticSource) Load(context.Context) ([]Entry, error) {
	return append([]Entry(nil), s.Entries...), nil
}

// FileSource reads a table from a spreadsheet, CSV, YAML or TOML file.
// Tabular formats use KeyColumn/ValueColumn headers; YAML and TOML files are
// flat key/value documents whose order is preserved.
type FileSource struct {
	Path        string
	Format      Format // inferred from the extension when empty
	Sheet       string // xlsx only; first sheet when empty
	KeyColumn   string
	ValueColumn string
}

func (s FileSource) Name() string {
	return s.Path
}

func (s FileSource) Load(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format, err := s.format()
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatXLSX:
		return s.loadXLSX()
	case FormatCSV:
		return s.loadCSV()
	case FormatYAML:
		return s.loadYAML()
	case FormatTOML:
		return s.loadTOML()
	default:
		return nil, fmt.Errorf("unsupported mapping format %q", format)
	}
}

func (s FileSource) format() (Format, error) {
	if s.Format != "" {
		return Format(strings.ToLower(string(s.Format))), nil
	}
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("cannot infer mapping format from %q", s.Path)
	}
}

func (s FileSource) loadXLSX() ([]Entry, error) {
	f, err := excelize.OpenFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := s.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return s.entriesFromRows(rows)
}

func (s FileSource) loadCSV() ([]Entry, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return s.entriesFromRows(rows)
}

func (s FileSource) entriesFromRows(rows [][]string) ([]Entry, error) {
	if len(rows) == 0 {
		return nil, errors.New("table has no header row")
	}
	keyColumn := s.KeyColumn
	if keyColumn == "" {
		keyColumn = DefaultKeyColumn
	}
	valueColumn := s.ValueColumn
	if valueColumn == "" {
		valueColumn = DefaultValueColumn
	}

	keyIdx, valueIdx := -1, -1
	for i, header := range rows[0] {
		switch strings.TrimSpace(header) {
		case keyColumn:
			keyIdx = i
		case valueColumn:
			valueIdx = i
		}
	}
	if keyIdx < 0 {
		return nil, fmt.Errorf("column %q not found", keyColumn)
	}
	if valueIdx < 0 {
		return nil, fmt.Errorf("column %q not found", valueColumn)
	}

	var entries []Entry
	for _, row := range rows[1:] {
		key := cell(row, keyIdx)
		if key == "" {
			continue
		}
		entries = append(entries, Entry{Key: key, Dataset: cell(row, valueIdx)})
	}
	return entries, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (s FileSource) loadYAML() ([]Entry, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("yaml mapping table must be a mapping, got line %d", root.Line)
	}

	entries := make([]Entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("variant %q: dataset must be a scalar (line %d)", key.Value, value.Line)
		}
		entries = append(entries, Entry{Key: key.Value, Dataset: value.Value})
	}
	return entries, nil
}

func (s FileSource) loadTOML() ([]Entry, error) {
	raw := map[string]any{}
	meta, err := toml.DecodeFile(s.Path, &raw)
	if err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}

	var entries []Entry
	for _, key := range meta.Keys() {
		if len(key) != 1 {
			continue
		}
		value, ok := raw[key[0]].(string)
		if !ok {
			return nil, fmt.Errorf("variant %q: dataset must be a string", key[0])
		}
		entries = append(entries, Entry{Key: key[0], Dataset: value})
	}
	return entries, nil
}
