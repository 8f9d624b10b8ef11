// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package results streams a .nessus artifact through schema projection,
// filtering, and pagination into newline-delimited JSON, with a stable
// field order per profile so repeated runs over the same artifact and
// query produce byte-identical output.
package results

import (
	"bufio"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nessorch/orchestrator/internal/pkg/errors"
)

// Finding is one flattened ReportItem, carrying enough host context to
// answer both field-projection and CIDR-based target filtering.
type Finding struct {
	Host             string `xml:"-" json:"host"`
	PluginID         string `xml:"pluginID,attr" json:"pluginId"`
	PluginName       string `xml:"pluginName,attr" json:"pluginName,omitempty"`
	Severity         string `xml:"severity,attr" json:"severity"`
	CVE              string `xml:"cve" json:"cve,omitempty"`
	CVSSBaseScore    string `xml:"cvss_base_score" json:"cvssScore,omitempty"`
	ExploitAvailable string `xml:"exploit_available" json:"exploitAvailable,omitempty"`
	Port             string `xml:"port,attr" json:"port,omitempty"`
	ServiceName      string `xml:"svc_name,attr" json:"serviceName,omitempty"`
	Description      string `xml:"description" json:"description,omitempty"`
	Solution         string `xml:"solution" json:"solution,omitempty"`
	PluginOutput     string `xml:"plugin_output" json:"pluginOutput,omitempty"`
}

// Profile names the built-in field sets a query may project onto.
type Profile string

const (
	ProfileMinimal Profile = "minimal" // host, pluginId, severity, cve, cvssScore, exploitAvailable
	ProfileSummary Profile = "summary" // + pluginName, port, serviceName
	ProfileBrief   Profile = "brief"   // default; + description, solution
	ProfileFull    Profile = "full"    // every field, in Finding's declared order
	ProfileCustom  Profile = "custom"  // caller-supplied field list
)

// DefaultProfile is used whenever a caller supplies neither a profile nor
// custom_fields, per §3's SchemaProfile definition.
const DefaultProfile = ProfileBrief

// fieldOrder is the canonical, stable ordering for each built-in profile.
// Output field order never depends on map iteration, which is what makes
// repeated runs byte-identical. canonicalFieldOrder (ProfileFull's list)
// also doubles as the known-field universe for ordering custom field lists.
var fieldOrder = map[Profile][]string{
	ProfileMinimal: {"host", "pluginId", "severity", "cve", "cvssScore", "exploitAvailable"},
	ProfileSummary: {"host", "pluginId", "pluginName", "severity", "cve", "cvssScore", "exploitAvailable", "port", "serviceName"},
	ProfileBrief:   {"host", "pluginId", "pluginName", "severity", "cve", "cvssScore", "exploitAvailable", "port", "serviceName", "description", "solution"},
	ProfileFull:    {"host", "pluginId", "pluginName", "severity", "cve", "cvssScore", "exploitAvailable", "port", "serviceName", "description", "solution", "pluginOutput"},
}

func isKnownField(field string) bool {
	for _, f := range fieldOrder[ProfileFull] {
		if f == field {
			return true
		}
	}
	return false
}

// orderedFields resolves the field list for profile, applying §4.11's
// ordering contract: named profiles use their fixed order; custom field
// lists are ordered by the canonical full-field order, with any field not
// in that canonical set appended alphabetically.
func orderedFields(profile Profile, custom []string) []string {
	if profile != ProfileCustom {
		return fieldOrder[profile]
	}
	want := map[string]bool{}
	for _, f := range custom {
		want[f] = true
	}
	var known, unknown []string
	for _, f := range fieldOrder[ProfileFull] {
		if want[f] {
			known = append(known, f)
		}
	}
	for _, f := range custom {
		if !isKnownField(f) {
			unknown = append(unknown, f)
		}
	}
	sort.Strings(unknown)
	return append(known, unknown...)
}

// Filter is one conjunctive predicate applied to a Finding before
// projection. Op is one of "eq", "contains", "substring", "gte", "lte".
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// Query configures one pipeline run. ProfileRaw is the caller's literal
// profile parameter ("" if not supplied) so mutual-exclusion with
// CustomFields can be checked against the *caller's intent*, not a
// pre-resolved default.
type Query struct {
	ProfileRaw   string
	CustomFields []string
	Filters      []Filter
	Page         int // 1-based; 0 means "emit all, no pagination line"
	PageSize     int // 0 means "use the default of 40"; otherwise must be in [10, 100]
}

// resolveProfile applies §3's "profile (non-default) + custom_fields is a
// caller error" rule and returns the effective profile to project onto.
func (q Query) resolveProfile() (Profile, error) {
	hasProfile := q.ProfileRaw != ""
	hasCustom := len(q.CustomFields) > 0

	profile := DefaultProfile
	if hasProfile {
		profile = Profile(q.ProfileRaw)
	}
	if hasProfile && hasCustom && profile != DefaultProfile {
		return "", errors.NewInvalidInput("schema profile and custom_fields are mutually exclusive")
	}
	if hasCustom {
		return ProfileCustom, nil
	}
	return profile, nil
}

// resolvePageSize applies §4.11's page_size bounds as a caller error rather
// than a silent clamp.
func (q Query) resolvePageSize() (int, error) {
	if q.PageSize == 0 {
		return 40, nil
	}
	if q.PageSize < 10 || q.PageSize > 100 {
		return 0, errors.NewInvalidInput("page_size must be between 10 and 100")
	}
	return q.PageSize, nil
}

// Metadata carries the scan-level context the results envelope's metadata
// line reports alongside the projected vulnerability lines.
type Metadata struct {
	TaskID      string
	Pool        string
	ScanType    string
	Targets     []string
	CompletedAt time.Time
}

// schemaLine is line 1 of the NDJSON envelope.
type schemaLine struct {
	Type                 string            `json:"type"`
	Profile              string            `json:"profile"`
	Fields               []string          `json:"fields"`
	FiltersApplied       map[string]string `json:"filters_applied"`
	TotalVulnerabilities int               `json:"total_vulnerabilities"`
	TotalPages           int               `json:"total_pages"`
}

// metadataLine is line 2 of the NDJSON envelope.
type metadataLine struct {
	Type        string   `json:"type"`
	TaskID      string   `json:"taskId"`
	Pool        string   `json:"pool"`
	ScanType    string   `json:"scanType"`
	Targets     []string `json:"targets"`
	CompletedAt string   `json:"completedAt,omitempty"`
}

// paginationLine is the final line, emitted only when paginating (page != 0).
type paginationLine struct {
	Type       string `json:"type"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
	HasNext    bool   `json:"has_next"`
	NextPage   int    `json:"next_page,omitempty"`
}

// filtersApplied renders the filter conjunction back as a field->expression
// map so downstream consumers can reason about omissions, per §4.11's
// "applied filters MUST be echoed back" requirement.
func filtersApplied(filters []Filter) map[string]string {
	out := make(map[string]string, len(filters))
	for _, f := range filters {
		switch f.Op {
		case "gte":
			out[f.Field] = ">=" + f.Value
		case "lte":
			out[f.Field] = "<=" + f.Value
		case "contains", "substring":
			out[f.Field] = "~" + f.Value
		default:
			out[f.Field] = f.Value
		}
	}
	return out
}

// Run streams artifact through the pipeline and writes the full NDJSON
// envelope to w: a schema line, a scan-metadata line, the matching
// paginated finding lines, and (only when paginating) a trailing
// pagination line. It returns the total number of findings that matched
// the filter conjunction, before pagination.
func Run(artifact []byte, meta Metadata, q Query, w io.Writer) (total int, err error) {
	profile, err := q.resolveProfile()
	if err != nil {
		return 0, err
	}
	pageSize, err := q.resolvePageSize()
	if err != nil {
		return 0, err
	}
	fields := orderedFields(profile, q.CustomFields)
	if len(fields) == 0 {
		return 0, errors.NewInvalidInput("schema profile resolved to an empty field list")
	}

	matched, err := decodeAndFilter(artifact, q.Filters)
	if err != nil {
		return 0, err
	}
	total = len(matched)
	totalPages := (total + pageSize - 1) / pageSize
	if total == 0 {
		totalPages = 0
	}

	bw := bufio.NewWriter(w)
	defer bw.Flush()

	schema := schemaLine{
		Type:                 "schema",
		Profile:              string(profile),
		Fields:               fields,
		FiltersApplied:       filtersApplied(q.Filters),
		TotalVulnerabilities: total,
		TotalPages:           totalPages,
	}
	if err := writeJSONLine(bw, schema); err != nil {
		return 0, err
	}

	meta2 := metadataLine{
		Type:     "metadata",
		TaskID:   meta.TaskID,
		Pool:     meta.Pool,
		ScanType: meta.ScanType,
		Targets:  meta.Targets,
	}
	if !meta.CompletedAt.IsZero() {
		meta2.CompletedAt = meta.CompletedAt.UTC().Format(time.RFC3339)
	}
	if err := writeJSONLine(bw, meta2); err != nil {
		return 0, err
	}

	paginating := q.Page != 0
	start, end := 0, total
	if paginating {
		start = (q.Page - 1) * pageSize
		end = start + pageSize
		if start > total {
			start = total
		}
		if end > total {
			end = total
		}
	}

	for _, f := range matched[start:end] {
		line, err := project(f, fields)
		if err != nil {
			return 0, err
		}
		if _, err := bw.Write(line); err != nil {
			return 0, errors.WrapInternal(err, "writing ndjson output")
		}
		if _, err := bw.Write([]byte("\n")); err != nil {
			return 0, errors.WrapInternal(err, "writing ndjson output")
		}
	}

	if paginating {
		hasNext := end < total
		next := 0
		if hasNext {
			next = q.Page + 1
		}
		p := paginationLine{
			Type:       "pagination",
			Page:       q.Page,
			PageSize:   pageSize,
			TotalPages: totalPages,
			HasNext:    hasNext,
			NextPage:   next,
		}
		if err := writeJSONLine(bw, p); err != nil {
			return 0, err
		}
	}

	return total, nil
}

func writeJSONLine(bw *bufio.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInternal(err, "marshaling ndjson envelope line")
	}
	if _, err := bw.Write(b); err != nil {
		return errors.WrapInternal(err, "writing ndjson output")
	}
	return bw.WriteByte('\n')
}

// decodeAndFilter streams artifact's ReportItem elements and returns every
// Finding matching the filter conjunction, in document order.
func decodeAndFilter(artifact []byte, filters []Filter) ([]Finding, error) {
	dec := xml.NewDecoder(bytes.NewReader(artifact))
	var currentHost string
	var matched []Finding

	for {
		tok, decErr := dec.Token()
		if decErr == io.EOF {
			break
		}
		if decErr != nil {
			return nil, errors.WrapInvalidInput(decErr, "streaming .nessus artifact")
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "ReportHost":
			currentHost = attrValue(start, "name")
		case "ReportItem":
			var item Finding
			if err := dec.DecodeElement(&item, &start); err != nil {
				return nil, errors.WrapInvalidInput(err, "decoding report item")
			}
			item.Host = currentHost
			if matchesAll(item, filters) {
				matched = append(matched, item)
			}
		}
	}
	return matched, nil
}

func attrValue(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// project renders a Finding's selected fields as one JSON object, in the
// exact order given by fields — each key and value is encoded with
// json.Marshal and written into a strings.Builder rather than a map, so
// field order is deterministic.
func project(f Finding, fields []string) ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, field := range fields {
		val, ok := fieldValue(f, field)
		if !ok {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		key, err := json.Marshal(field)
		if err != nil {
			return nil, errors.WrapInternal(err, "marshaling field name")
		}
		encodedVal, err := json.Marshal(val)
		if err != nil {
			return nil, errors.WrapInternal(err, "marshaling field value")
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(encodedVal)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func fieldValue(f Finding, field string) (string, bool) {
	switch field {
	case "host":
		return f.Host, true
	case "pluginId":
		return f.PluginID, true
	case "pluginName":
		return f.PluginName, f.PluginName != ""
	case "severity":
		return f.Severity, true
	case "cve":
		return f.CVE, f.CVE != ""
	case "cvssScore":
		return f.CVSSBaseScore, f.CVSSBaseScore != ""
	case "exploitAvailable":
		return f.ExploitAvailable, f.ExploitAvailable != ""
	case "port":
		return f.Port, f.Port != ""
	case "serviceName":
		return f.ServiceName, f.ServiceName != ""
	case "description":
		return f.Description, f.Description != ""
	case "solution":
		return f.Solution, f.Solution != ""
	case "pluginOutput":
		return f.PluginOutput, f.PluginOutput != ""
	default:
		return "", false
	}
}

func matchesAll(f Finding, filters []Filter) bool {
	for _, flt := range filters {
		if !matches(f, flt) {
			return false
		}
	}
	return true
}

func matches(f Finding, flt Filter) bool {
	val, ok := fieldValue(f, flt.Field)
	if !ok {
		return false
	}
	switch flt.Op {
	case "eq":
		return val == flt.Value
	case "contains", "substring":
		return strings.Contains(val, flt.Value)
	case "gte":
		a, aerr := strconv.Atoi(val)
		b, berr := strconv.Atoi(flt.Value)
		return aerr == nil && berr == nil && a >= b
	case "lte":
		a, aerr := strconv.Atoi(val)
		b, berr := strconv.Atoi(flt.Value)
		return aerr == nil && berr == nil && a <= b
	default:
		return false
	}
}
