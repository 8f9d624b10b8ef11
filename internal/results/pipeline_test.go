// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package results

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

const sampleArtifact = `<?xml version="1.0"?>
<NessusClientData_v2>
  <Report name="test">
    <ReportHost name="10.0.0.1">
      <ReportItem pluginID="11111" severity="4" pluginName="Critical Thing">
        <cve>CVE-2024-0001</cve>
        <cvss_base_score>9.8</cvss_base_score>
        <exploit_available>true</exploit_available>
        <description>bad stuff</description>
        <solution>patch it</solution>
      </ReportItem>
      <ReportItem pluginID="22222" severity="2" pluginName="Medium Thing">
        <description>medium stuff</description>
      </ReportItem>
    </ReportHost>
    <ReportHost name="10.0.0.2">
      <ReportItem pluginID="33333" severity="1" pluginName="Low Thing">
        <description>low stuff</description>
      </ReportItem>
    </ReportHost>
  </Report>
</NessusClientData_v2>`

func decodeLines(t *testing.T, out []byte) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	for _, raw := range bytes.Split(bytes.TrimRight(out, "\n"), []byte("\n")) {
		if len(raw) == 0 {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("invalid ndjson line %q: %v", raw, err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestRunEnvelopeSchemaAndMetadataLines(t *testing.T) {
	var buf bytes.Buffer
	meta := Metadata{TaskID: "t1", Pool: "p1", ScanType: "untrusted", Targets: []string{"10.0.0.0/24"}}
	total, err := Run([]byte(sampleArtifact), meta, Query{}, &buf)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 findings, got %d", total)
	}

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 5 { // schema + metadata + 3 findings, no pagination line
		t.Fatalf("expected 5 lines, got %d: %+v", len(lines), lines)
	}

	schema := lines[0]
	if schema["type"] != "schema" {
		t.Fatalf("expected first line to be schema, got %+v", schema)
	}
	if schema["profile"] != string(ProfileBrief) {
		t.Errorf("expected default profile brief, got %v", schema["profile"])
	}
	if int(schema["total_vulnerabilities"].(float64)) != 3 {
		t.Errorf("expected total_vulnerabilities 3, got %v", schema["total_vulnerabilities"])
	}
	if _, ok := schema["filters_applied"]; !ok {
		t.Error("expected filters_applied key in schema line")
	}

	meta2 := lines[1]
	if meta2["type"] != "metadata" {
		t.Fatalf("expected second line to be metadata, got %+v", meta2)
	}
	if meta2["taskId"] != "t1" || meta2["pool"] != "p1" {
		t.Errorf("unexpected metadata line: %+v", meta2)
	}
}

func TestRunMinimalProfileFields(t *testing.T) {
	var buf bytes.Buffer
	_, err := Run([]byte(sampleArtifact), Metadata{}, Query{ProfileRaw: "minimal"}, &buf)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	lines := decodeLines(t, buf.Bytes())
	finding := lines[2]
	for _, unwanted := range []string{"description", "solution", "pluginOutput", "pluginName"} {
		if _, ok := finding[unwanted]; ok {
			t.Errorf("minimal profile should not include %q, got %+v", unwanted, finding)
		}
	}
	for _, wanted := range []string{"host", "pluginId", "severity", "cve", "cvssScore", "exploitAvailable"} {
		if _, ok := finding[wanted]; !ok {
			t.Errorf("minimal profile should include %q, got %+v", wanted, finding)
		}
	}
}

func TestRunDefaultProfileIsBriefWithDescriptionAndSolution(t *testing.T) {
	var buf bytes.Buffer
	_, err := Run([]byte(sampleArtifact), Metadata{}, Query{}, &buf)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	lines := decodeLines(t, buf.Bytes())
	finding := lines[2]
	if _, ok := finding["description"]; !ok {
		t.Error("expected brief (default) profile to include description")
	}
	if _, ok := finding["solution"]; !ok {
		t.Error("expected brief (default) profile to include solution")
	}
}

func TestRunFilterBySeverity(t *testing.T) {
	var buf bytes.Buffer
	total, err := Run([]byte(sampleArtifact), Metadata{}, Query{
		Filters: []Filter{{Field: "severity", Op: "gte", Value: "3"}},
	}, &buf)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 finding at severity >= 3, got %d", total)
	}
	lines := decodeLines(t, buf.Bytes())
	if lines[0]["filters_applied"].(map[string]interface{})["severity"] != ">=3" {
		t.Errorf("expected filters_applied to echo severity>=3, got %+v", lines[0]["filters_applied"])
	}
}

func TestRunPaginationEmitsTrailingLine(t *testing.T) {
	var buf bytes.Buffer
	total, err := Run([]byte(sampleArtifact), Metadata{}, Query{Page: 1, PageSize: 10}, &buf)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 findings, got %d", total)
	}
	lines := decodeLines(t, buf.Bytes())
	last := lines[len(lines)-1]
	if last["type"] != "pagination" {
		t.Fatalf("expected final line to be pagination, got %+v", last)
	}
	if last["page"].(float64) != 1 || last["has_next"].(bool) != false {
		t.Errorf("unexpected pagination line: %+v", last)
	}
}

func TestRunPageSizeOutOfBoundsIsError(t *testing.T) {
	var buf bytes.Buffer
	if _, err := Run([]byte(sampleArtifact), Metadata{}, Query{Page: 1, PageSize: 5}, &buf); err == nil {
		t.Error("expected page_size below 10 to be a caller error")
	}
	if _, err := Run([]byte(sampleArtifact), Metadata{}, Query{Page: 1, PageSize: 500}, &buf); err == nil {
		t.Error("expected page_size above 100 to be a caller error")
	}
}

func TestRunProfileAndCustomFieldsMutuallyExclusive(t *testing.T) {
	var buf bytes.Buffer
	_, err := Run([]byte(sampleArtifact), Metadata{}, Query{
		ProfileRaw:   "minimal",
		CustomFields: []string{"host"},
	}, &buf)
	if err == nil {
		t.Error("expected non-default profile + custom_fields to be a caller error")
	}
}

func TestRunDefaultProfileWithCustomFieldsIsAllowed(t *testing.T) {
	var buf bytes.Buffer
	_, err := Run([]byte(sampleArtifact), Metadata{}, Query{
		ProfileRaw:   string(DefaultProfile),
		CustomFields: []string{"host"},
	}, &buf)
	if err != nil {
		t.Errorf("expected default profile + custom_fields to be allowed, got %v", err)
	}
}

func TestRunCustomFieldsUnknownAppendedAlphabetically(t *testing.T) {
	var buf bytes.Buffer
	_, err := Run([]byte(sampleArtifact), Metadata{}, Query{
		CustomFields: []string{"zeta", "host", "alpha", "severity"},
	}, &buf)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	lines := decodeLines(t, buf.Bytes())
	schema := lines[0]
	fields := schema["fields"].([]interface{})
	var got []string
	for _, f := range fields {
		got = append(got, f.(string))
	}
	want := []string{"host", "severity", "alpha", "zeta"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected known-then-alphabetical-unknown order %v, got %v", want, got)
	}
}

func TestRunByteIdenticalAcrossRuns(t *testing.T) {
	var a, b bytes.Buffer
	meta := Metadata{TaskID: "t1", Pool: "p1", ScanType: "untrusted"}
	if _, err := Run([]byte(sampleArtifact), meta, Query{}, &a); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if _, err := Run([]byte(sampleArtifact), meta, Query{}, &b); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if a.String() != b.String() {
		t.Error("expected byte-identical output across repeated runs")
	}
}
