package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/region"
)

func sampleRecords() []region.FiberRecord {
	return []region.FiberRecord{
		{
			ID:          1,
			EntryVoxel:  models.Voxel(0, 20, 30),
			TipVoxel:    models.Voxel(10, 20, 30),
			TipPhysical: models.Physical(0.6, 0.4, 0.2),
			Length:      0.2,
			Region: region.Record{
				Status: region.StatusAssigned, ID: 5, Name: "Isocortex", Acronym: "Isocortex",
				AtlasVoxel: [3]int{10, 20, 30},
				Path: []region.PathEntry{
					{ID: 1, Name: "root", Acronym: "root"},
					{ID: 2, Name: "Cerebrum", Acronym: "CH"},
					{ID: 5, Name: "Isocortex", Acronym: "Isocortex"},
				},
			},
		},
		{
			ID:       2,
			TipVoxel: models.Voxel(99, 99, 99),
			Region: region.Record{
				Status: region.StatusOutOfBounds, Name: region.OutOfBoundsName, Acronym: region.OutOfBoundsAcronym,
			},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRecords()); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header and 2 rows, got %d", len(rows))
	}
	col := map[string]int{}
	for i, h := range rows[0] {
		col[h] = i
	}

	first := rows[1]
	if first[col["Region_ID"]] != "5" || first[col["Parent_Region"]] != "Cerebrum" || first[col["Grandparent_Region"]] != "root" {
		t.Errorf("Unexpected first row %v", first)
	}
	if first[col["CCF_X"]] != "30" || first[col["Top_Y"]] != "20" {
		t.Errorf("Unexpected coordinates in %v", first)
	}
	if first[col["Region_Path"]] != "root > CH > Isocortex" {
		t.Errorf("Unexpected path %q", first[col["Region_Path"]])
	}

	second := rows[2]
	if second[col["Region_ID"]] != "N/A" || second[col["CCF_Z"]] != "N/A" || second[col["Region_Acronym"]] != "OOB" {
		t.Errorf("Unexpected second row %v", second)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleRecords()); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(decoded))
	}
	reg := decoded[0]["region"].(map[string]interface{})
	if reg["status"] != "assigned" || reg["acronym"] != "Isocortex" {
		t.Errorf("Unexpected region %v", reg)
	}

	buf.Reset()
	if err := WriteJSON(&buf, nil); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("Expected empty list, got %q", buf.String())
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, sampleRecords()); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Total Fibers: 2",
		"Isocortex: 1 fiber(s)",
		"Out of Bounds: 1 fiber(s)",
		"Hierarchy: root > CH > Isocortex",
		"CCF: (10, 20, 30)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Summary missing %q", want)
		}
	}
	if strings.Index(out, "Isocortex: 1") > strings.Index(out, "Out of Bounds: 1") {
		t.Error("Expected regions sorted by name")
	}
}

func TestWriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	if err := WriteAll(dir, sampleRecords()); err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}
	for _, name := range []string{"fiber_data.json", "fiber_report.csv", "fiber_summary.txt"} {
		if info, err := os.Stat(filepath.Join(dir, name)); err != nil || info.Size() == 0 {
			t.Errorf("Expected non-empty %s: %v", name, err)
		}
	}
}
