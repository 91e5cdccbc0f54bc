package genomic

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"genomicore/pkg/domain"
)

//go:embed manifests.yaml
var manifestsYAML []byte

// Row is one inbound manifest row after column mapping and coercion.
type Row struct {
	Line int

	BiobankID           string
	SampleID            string
	CollectionTubeID    string
	ParticipantID       string
	SexAtBirth          string
	Age                 int
	ZipCode             string
	ConsentCohort       string
	EnrollmentMilestone string
	ConsentedGenomics   bool
	Withdrawn           bool

	BoxPlateID             string
	WellPosition           string
	FailureMode            string
	FailureModeDescription string

	ChipWellBarcode  string
	CallRate         string
	MeanCoverage     string
	Contamination    float64
	SexConcordance   string
	SexPloidy        string
	ProcessingStatus string
	Notes            string
	SiteID           string

	GEMPass       bool
	ProcessedDate time.Time

	// Raw holds every source column by normalised header.
	Raw map[string]string
}

type valueKind int

const (
	kindString valueKind = iota
	kindFloat
	kindInt
	kindBool
	kindTime
)

func (k valueKind) String() string {
	return [...]string{"string", "float", "int", "bool", "time"}[k]
}

type target struct {
	kind valueKind
	set  func(*Row, any)
}

func str(f func(*Row, string)) target {
	return target{kind: kindString, set: func(r *Row, v any) { f(r, v.(string)) }}
}

func boolean(f func(*Row, bool)) target {
	return target{kind: kindBool, set: func(r *Row, v any) { f(r, v.(bool)) }}
}

var targets = map[string]target{
	"biobank_id":               str(func(r *Row, v string) { r.BiobankID = v }),
	"sample_id":                str(func(r *Row, v string) { r.SampleID = v }),
	"collection_tube_id":       str(func(r *Row, v string) { r.CollectionTubeID = v }),
	"participant_id":           str(func(r *Row, v string) { r.ParticipantID = v }),
	"sex_at_birth":             str(func(r *Row, v string) { r.SexAtBirth = v }),
	"zip_code":                 str(func(r *Row, v string) { r.ZipCode = v }),
	"consent_cohort":           str(func(r *Row, v string) { r.ConsentCohort = v }),
	"enrollment_milestone":     str(func(r *Row, v string) { r.EnrollmentMilestone = v }),
	"box_plate_id":             str(func(r *Row, v string) { r.BoxPlateID = v }),
	"well_position":            str(func(r *Row, v string) { r.WellPosition = v }),
	"failure_mode":             str(func(r *Row, v string) { r.FailureMode = v }),
	"failure_mode_description": str(func(r *Row, v string) { r.FailureModeDescription = v }),
	"chipwellbarcode":          str(func(r *Row, v string) { r.ChipWellBarcode = v }),
	"call_rate":                str(func(r *Row, v string) { r.CallRate = v }),
	"mean_coverage":            str(func(r *Row, v string) { r.MeanCoverage = v }),
	"sex_concordance":          str(func(r *Row, v string) { r.SexConcordance = v }),
	"sex_ploidy":               str(func(r *Row, v string) { r.SexPloidy = v }),
	"processing_status":        str(func(r *Row, v string) { r.ProcessingStatus = v }),
	"notes":                    str(func(r *Row, v string) { r.Notes = v }),
	"site_id":                  str(func(r *Row, v string) { r.SiteID = v }),
	"consented_genomics":       boolean(func(r *Row, v bool) { r.ConsentedGenomics = v }),
	"withdrawn":                boolean(func(r *Row, v bool) { r.Withdrawn = v }),
	"gem_pass":                 boolean(func(r *Row, v bool) { r.GEMPass = v }),
	"age":                      {kind: kindInt, set: func(r *Row, v any) { r.Age = v.(int) }},
	"contamination":            {kind: kindFloat, set: func(r *Row, v any) { r.Contamination = v.(float64) }},
	"processed_date":           {kind: kindTime, set: func(r *Row, v any) { r.ProcessedDate = v.(time.Time) }},
}

type coercion struct {
	kind valueKind
	fn   func(string) (any, error)
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "01/02/2006"}

var coercions = map[string]coercion{
	"string": {kindString, func(s string) (any, error) { return s, nil }},
	"upper":  {kindString, func(s string) (any, error) { return strings.ToUpper(s), nil }},
	"lower":  {kindString, func(s string) (any, error) { return strings.ToLower(s), nil }},
	"float": {kindFloat, func(s string) (any, error) {
		if s == "" {
			return 0.0, nil
		}
		return strconv.ParseFloat(s, 64)
	}},
	"int": {kindInt, func(s string) (any, error) {
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	}},
	"bool": {kindBool, func(s string) (any, error) {
		switch strings.ToLower(s) {
		case "", "false", "no", "n", "0", "fail", "failed":
			return false, nil
		case "true", "yes", "y", "1", "pass", "passed":
			return true, nil
		}
		return nil, fmt.Errorf("not a boolean")
	}},
	"date": {kindTime, func(s string) (any, error) {
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("unrecognised date")
	}},
}

// Column maps one source header onto a Row field.
type Column struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	Coercion string `yaml:"coercion"`
	Required bool   `yaml:"required"`
}

// ManifestTable describes one inbound manifest type.
type ManifestTable struct {
	Type    domain.ManifestType
	Pattern *regexp.Regexp
	Columns []Column
}

// ManifestTables is the validated set of inbound column tables.
type ManifestTables struct {
	Version int
	byType  map[domain.ManifestType]*ManifestTable
}

type tablesFile struct {
	Version   int `yaml:"version"`
	Manifests []struct {
		Type     domain.ManifestType `yaml:"type"`
		Filename string              `yaml:"filename"`
		Columns  []Column            `yaml:"columns"`
	} `yaml:"manifests"`
}

var inboundTypes = map[domain.ManifestType]bool{
	domain.ManifestBiobank: true,
	domain.ManifestAW1:     true,
	domain.ManifestAW1F:    true,
	domain.ManifestAW2:     true,
	domain.ManifestA2:      true,
	domain.ManifestW2:      true,
}

var defaultTables = sync.OnceValues(func() (*ManifestTables, error) {
	return LoadManifestTables(manifestsYAML)
})

// DefaultManifestTables returns the embedded tables, parsed once.
func DefaultManifestTables() (*ManifestTables, error) {
	return defaultTables()
}

// LoadManifestTables decodes and validates a tables document.
func LoadManifestTables(data []byte) (*ManifestTables, error) {
	var doc tablesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest tables: %w", err)
	}
	if doc.Version <= 0 {
		return nil, fmt.Errorf("manifest tables: version must be positive")
	}
	out := &ManifestTables{Version: doc.Version, byType: make(map[domain.ManifestType]*ManifestTable)}
	for _, m := range doc.Manifests {
		if !inboundTypes[m.Type] {
			return nil, fmt.Errorf("manifest tables: unknown inbound type %q", m.Type)
		}
		if _, dup := out.byType[m.Type]; dup {
			return nil, fmt.Errorf("manifest tables: duplicate type %s", m.Type)
		}
		re, err := regexp.Compile(m.Filename)
		if err != nil {
			return nil, fmt.Errorf("manifest tables: %s filename: %w", m.Type, err)
		}
		if len(m.Columns) == 0 {
			return nil, fmt.Errorf("manifest tables: %s has no columns", m.Type)
		}
		seen := make(map[string]bool, len(m.Columns))
		for _, col := range m.Columns {
			t, ok := targets[col.Target]
			if !ok {
				return nil, fmt.Errorf("manifest tables: %s: unknown target %q", m.Type, col.Target)
			}
			c, ok := coercions[col.Coercion]
			if !ok {
				return nil, fmt.Errorf("manifest tables: %s: unknown coercion %q", m.Type, col.Coercion)
			}
			if c.kind != t.kind {
				return nil, fmt.Errorf("manifest tables: %s: coercion %s yields %s, target %s wants %s",
					m.Type, col.Coercion, c.kind, col.Target, t.kind)
			}
			src := normalizeHeader(col.Source)
			if src == "" || seen[src] {
				return nil, fmt.Errorf("manifest tables: %s: empty or duplicate source %q", m.Type, col.Source)
			}
			seen[src] = true
		}
		cols := make([]Column, len(m.Columns))
		copy(cols, m.Columns)
		for i := range cols {
			cols[i].Source = normalizeHeader(cols[i].Source)
		}
		out.byType[m.Type] = &ManifestTable{Type: m.Type, Pattern: re, Columns: cols}
	}
	return out, nil
}

// Table returns the table for an inbound manifest type.
func (t *ManifestTables) Table(mt domain.ManifestType) (*ManifestTable, bool) {
	table, ok := t.byType[mt]
	return table, ok
}

// ValidName reports whether the file name matches the manifest's pattern.
func (t *ManifestTable) ValidName(name string) bool {
	return t.Pattern.MatchString(name)
}

type binding struct {
	table   *ManifestTable
	headers []string
	index   []int
}

// bind resolves the table's columns against a header row. It returns the
// required source columns that are absent.
func (t *ManifestTable) bind(header []string) (*binding, []string) {
	headers := make([]string, len(header))
	pos := make(map[string]int, len(header))
	for i, h := range header {
		headers[i] = normalizeHeader(h)
		if _, dup := pos[headers[i]]; !dup {
			pos[headers[i]] = i
		}
	}
	b := &binding{table: t, headers: headers, index: make([]int, len(t.Columns))}
	var missing []string
	for i, col := range t.Columns {
		idx, ok := pos[col.Source]
		if !ok {
			idx = -1
			if col.Required {
				missing = append(missing, col.Source)
			}
		}
		b.index[i] = idx
	}
	return b, missing
}

// decode maps one record onto a Row.
func (b *binding) decode(record []string, line int) (Row, error) {
	row := Row{Line: line, Raw: make(map[string]string, len(b.headers))}
	for i, h := range b.headers {
		if i < len(record) && h != "" {
			row.Raw[h] = strings.TrimSpace(record[i])
		}
	}
	for i, col := range b.table.Columns {
		idx := b.index[i]
		if idx < 0 || idx >= len(record) {
			continue
		}
		raw := strings.TrimSpace(record[idx])
		v, err := coercions[col.Coercion].fn(raw)
		if err != nil {
			return Row{}, &LookupError{Code: domain.IncidentMalformedRow, Entity: col.Source, Key: raw, Row: line, Err: err}
		}
		targets[col.Target].set(&row, v)
	}
	return row, nil
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Trim(nonAlnum.ReplaceAllString(h, "_"), "_")
}
