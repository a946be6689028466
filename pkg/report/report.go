// Package report writes the fiber region reports: JSON records, a CSV table
// and a plain-text summary grouped by region.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"uct2ccf/pkg/region"
)

// PathSeparator joins ancestor acronyms in CSV and text output
const PathSeparator = " > "

// csvHeader keeps the column names of the earlier spreadsheet reports and appends the path
var csvHeader = []string{
	"Fiber_ID",
	"Top_Z", "Top_Y", "Top_X",
	"Bottom_Z", "Bottom_Y", "Bottom_X",
	"CCF_Z", "CCF_Y", "CCF_X",
	"Region_ID", "Region_Name", "Region_Acronym",
	"Parent_Region", "Grandparent_Region",
	"Tip_Physical_X", "Tip_Physical_Y", "Tip_Physical_Z",
	"Length_mm", "Status", "Region_Path",
}

// WriteJSON writes the records as an indented JSON list
func WriteJSON(w io.Writer, records []region.FiberRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if records == nil {
		records = []region.FiberRecord{}
	}
	return enc.Encode(records)
}

// WriteCSV writes one row per fiber
func WriteCSV(w io.Writer, records []region.FiberRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(csvRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(r region.FiberRecord) []string {
	g := r.Region
	row := []string{strconv.Itoa(r.ID)}
	row = append(row, num(r.EntryVoxel.X), num(r.EntryVoxel.Y), num(r.EntryVoxel.Z))
	row = append(row, num(r.TipVoxel.X), num(r.TipVoxel.Y), num(r.TipVoxel.Z))
	if g.Status == region.StatusOutOfBounds {
		row = append(row, "N/A", "N/A", "N/A")
	} else {
		row = append(row, strconv.Itoa(g.AtlasVoxel[0]), strconv.Itoa(g.AtlasVoxel[1]), strconv.Itoa(g.AtlasVoxel[2]))
	}
	id := "N/A"
	if g.Assigned() {
		id = strconv.FormatUint(uint64(g.ID), 10)
	}
	row = append(row, id, g.Name, g.Acronym)
	row = append(row, ancestor(g, 1), ancestor(g, 2))
	row = append(row, num(r.TipPhysical.X), num(r.TipPhysical.Y), num(r.TipPhysical.Z))
	row = append(row, num(r.Length), g.Status.String(), g.PathString(PathSeparator))
	return row
}

// ancestor returns the name n levels above the leaf, N/A when the path is too short
func ancestor(g region.Record, n int) string {
	i := len(g.Path) - 1 - n
	if i < 0 {
		return "N/A"
	}
	return g.Path[i].Name
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteSummary writes a human readable summary grouped by region name
func WriteSummary(w io.Writer, records []region.FiberRecord) error {
	rule := strings.Repeat("=", 70)
	dash := strings.Repeat("-", 70)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\nFIBER TRACKING SUMMARY\n%s\n\n", rule, rule)
	fmt.Fprintf(&b, "Total Fibers: %d\n\n", len(records))

	groups := map[string][]int{}
	for _, r := range records {
		groups[r.Region.Name] = append(groups[r.Region.Name], r.ID)
	}
	names := make([]string, 0, len(groups))
	for n := range groups {
		names = append(names, n)
	}
	sort.Strings(names)

	fmt.Fprintf(&b, "FIBERS BY REGION:\n%s\n", dash)
	for _, n := range names {
		fmt.Fprintf(&b, "%s: %d fiber(s)\n", n, len(groups[n]))
		for _, id := range groups[n] {
			fmt.Fprintf(&b, "  - Fiber %d\n", id)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "DETAILS:\n%s\n", dash)
	for _, r := range records {
		fmt.Fprintf(&b, "\nFiber %d:\n", r.ID)
		fmt.Fprintf(&b, "  TOP: (%g, %g, %g)\n", r.EntryVoxel.X, r.EntryVoxel.Y, r.EntryVoxel.Z)
		fmt.Fprintf(&b, "  BOTTOM: (%g, %g, %g)\n", r.TipVoxel.X, r.TipVoxel.Y, r.TipVoxel.Z)
		if r.Region.Status != region.StatusOutOfBounds {
			v := r.Region.AtlasVoxel
			fmt.Fprintf(&b, "  CCF: (%d, %d, %d)\n", v[0], v[1], v[2])
		}
		fmt.Fprintf(&b, "  Region: %s\n", r.Region.Name)
		fmt.Fprintf(&b, "  Acronym: %s\n", r.Region.Acronym)
		if len(r.Region.Path) > 0 {
			fmt.Fprintf(&b, "  Hierarchy: %s\n", r.Region.PathString(PathSeparator))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteAll writes fiber_data.json, fiber_report.csv and fiber_summary.txt into dir
func WriteAll(dir string, records []region.FiberRecord) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create report directory %v", dir)
	}
	outputs := []struct {
		name  string
		write func(io.Writer, []region.FiberRecord) error
	}{
		{"fiber_data.json", WriteJSON},
		{"fiber_report.csv", WriteCSV},
		{"fiber_summary.txt", WriteSummary},
	}
	for _, o := range outputs {
		path := filepath.Join(dir, o.name)
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "failed to create %v", path)
		}
		if err := o.write(f, records); err != nil {
			f.Close()
			return errors.Wrapf(err, "failed to write %v", path)
		}
		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "failed to close %v", path)
		}
	}
	return nil
}
