// Package export writes stored records to spreadsheet and CSV files.
package export

import (
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/jobfeed/internal/ingest"
	"github.com/sells-group/jobfeed/internal/model"
)

// OtherSheet holds records with no industry.
const OtherSheet = "Other"

// Columns is the header row of every sheet.
var Columns = []string{
	"ID", "Title", "Company", "Country", "City", "Remote",
	"Industry", "Primary Category", "Secondary Categories", "Confidence",
	"Status", "Last Checked", "Check Code",
	"Salary Min", "Salary Max", "Currency",
	"Skills Required", "Skills Preferred",
	"Sources", "Dedup Count", "Source URL",
	"Posted At", "Created At", "Last Updated",
}

const timeLayout = "2006-01-02 15:04:05"

// WriteXLSX writes records to w as a workbook with one sheet per industry.
// Sheets are ordered by name and rows keep the input order.
func WriteXLSX(w io.Writer, records []model.StoredRecord) error {
	f, err := Workbook(records)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

// SaveXLSX is WriteXLSX to a file path.
func SaveXLSX(path string, records []model.StoredRecord) error {
	f, err := Workbook(records)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

// Workbook builds the in-memory workbook.
func Workbook(records []model.StoredRecord) (*xlsx.File, error) {
	groups := make(map[string][]model.StoredRecord)
	for _, r := range records {
		name := string(r.Classification.Industry)
		if name == "" {
			name = OtherSheet
		}
		groups[name] = append(groups[name], r)
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	f := xlsx.NewFile()
	if len(names) == 0 {
		names = []string{OtherSheet}
	}
	for _, name := range names {
		sheet, err := f.AddSheet(name)
		if err != nil {
			return nil, eris.Wrapf(err, "export: add sheet %s", name)
		}
		addRow(sheet, Columns...)
		for _, r := range groups[name] {
			writeRecord(sheet.AddRow(), r)
		}
	}
	return f, nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func writeRecord(row *xlsx.Row, r model.StoredRecord) {
	p := r.Posting
	str := func(s string) { row.AddCell().SetString(s) }
	num := func(v *float64) {
		c := row.AddCell()
		if v != nil {
			c.SetFloat(*v)
		}
	}

	str(r.ID)
	str(p.Title)
	str(p.Company)
	str(p.Country)
	str(p.City)
	row.AddCell().SetBool(p.Remote)
	str(string(r.Classification.Industry))
	str(string(r.Classification.PrimaryCategory))
	secondary := make([]string, len(r.Classification.SecondaryCategories))
	for i, c := range r.Classification.SecondaryCategories {
		secondary[i] = string(c)
	}
	str(strings.Join(secondary, "; "))
	row.AddCell().SetFloat(r.Classification.Confidence)
	str(string(r.Status))
	if r.StatusLastChecked != nil {
		str(r.StatusLastChecked.UTC().Format(timeLayout))
	} else {
		str("")
	}
	if r.StatusCheckCode != 0 {
		row.AddCell().SetInt(r.StatusCheckCode)
	} else {
		str("")
	}
	num(p.SalaryMin)
	num(p.SalaryMax)
	str(p.Currency)
	str(strings.Join(p.SkillsRequired, "; "))
	str(strings.Join(p.SkillsPreferred, "; "))
	str(strings.Join(r.DedupSources, "; "))
	row.AddCell().SetInt(r.DedupCount)
	str(p.SourceURL)
	if p.PostedAt != nil {
		str(p.PostedAt.UTC().Format(timeLayout))
	} else {
		str("")
	}
	str(r.CreatedAt.UTC().Format(timeLayout))
	str(r.LastUpdated.UTC().Format(timeLayout))
}

// ReadXLSX loads a workbook into sheet name -> rows of cell strings,
// header row included.
func ReadXLSX(path string) (map[string][][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: open workbook")
	}
	out := make(map[string][][]string, len(f.Sheets))
	for _, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			rows = append(rows, rowToStrings(row))
		}
		out[sheet.Name] = rows
	}
	return out, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

// WriteCSV writes records in the scraper input layout so they can be fed
// back through ingest.
func WriteCSV(w io.Writer, records []model.StoredRecord) error {
	raws := make([]model.RawPosting, len(records))
	for i, r := range records {
		raws[i] = r.Posting.Raw()
	}
	return eris.Wrap(ingest.EncodeCSV(w, raws), "export: write csv")
}
