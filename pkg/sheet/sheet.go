// Package sheet reads lead rows out of XLSX workbooks for bulk import.
package sheet

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Lead is one importable row.
type Lead struct {
	CompanyName string
	Website     string
	SourceURL   string
	Notes       string
}

// wellKnownHeaders maps common header spellings to Lead fields.
var wellKnownHeaders = map[string]string{
	"company":      "company",
	"company name": "company",
	"name":         "company",
	"website":      "website",
	"url":          "website",
	"source":       "source",
	"source url":   "source",
	"notes":        "notes",
	"comments":     "notes",
}

// ReadLeads reads the first sheet of an XLSX workbook. The first row is
// treated as the header and mapped case-insensitively; rows without a
// company name are skipped.
func ReadLeads(path string) ([]Lead, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open file")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("sheet: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	fields := mapHeader(rowToStrings(sheet.Rows[0]))
	if _, ok := fields["company"]; !ok {
		return nil, eris.Errorf("sheet: %s has no company column", path)
	}

	var leads []Lead
	for _, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		lead := Lead{
			CompanyName: cellAt(cells, fields["company"]),
			Website:     cellAt(cells, fields["website"]),
			SourceURL:   cellAt(cells, fields["source"]),
			Notes:       cellAt(cells, fields["notes"]),
		}
		if strings.TrimSpace(lead.CompanyName) == "" {
			continue
		}
		leads = append(leads, lead)
	}
	return leads, nil
}

// mapHeader maps Lead field names to column indexes. Missing fields map
// to -1 so cellAt returns "".
func mapHeader(header []string) map[string]int {
	fields := map[string]int{"website": -1, "source": -1, "notes": -1}
	for i, cell := range header {
		key := strings.ToLower(strings.TrimSpace(cell))
		if field, ok := wellKnownHeaders[key]; ok {
			if _, taken := fields[field]; !taken || fields[field] < 0 {
				fields[field] = i
			}
		}
	}
	return fields
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
