package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/jobfeed/internal/model"
)

// csvRow is the flat CSV layout of a posting. Header names match the JSON
// field names; missing columns are left empty.
type csvRow struct {
	ExternalID      string     `csv:"external_id"`
	Title           string     `csv:"title"`
	Company         string     `csv:"company"`
	Country         string     `csv:"country"`
	City            string     `csv:"city"`
	Description     string     `csv:"description"`
	SourceURL       string     `csv:"source_url"`
	SourcePlatform  string     `csv:"source_platform"`
	SalaryMin       *float64   `csv:"salary_min"`
	SalaryMax       *float64   `csv:"salary_max"`
	Currency        string     `csv:"currency"`
	Remote          *bool      `csv:"remote"`
	SkillsRequired  skillList  `csv:"skills_required"`
	SkillsPreferred skillList  `csv:"skills_preferred"`
	PostedAt        *time.Time `csv:"posted_at"`
}

// skillList is a semicolon- or comma-separated cell.
type skillList []string

// UnmarshalCSV implements csvutil.Unmarshaler.
func (s *skillList) UnmarshalCSV(data []byte) error {
	cell := strings.TrimSpace(string(data))
	if cell == "" {
		*s = nil
		return nil
	}
	sep := ";"
	if !strings.Contains(cell, sep) {
		sep = ","
	}
	var out []string
	for _, part := range strings.Split(cell, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*s = out
	return nil
}

// MarshalCSV implements csvutil.Marshaler.
func (s skillList) MarshalCSV() ([]byte, error) {
	return []byte(strings.Join(s, ";")), nil
}

func (r csvRow) posting() model.RawPosting {
	return model.RawPosting{
		ExternalID:      r.ExternalID,
		Title:           r.Title,
		Company:         r.Company,
		Location:        model.Location{Country: r.Country, City: r.City},
		Description:     r.Description,
		SourceURL:       r.SourceURL,
		SourcePlatform:  r.SourcePlatform,
		SalaryMin:       r.SalaryMin,
		SalaryMax:       r.SalaryMax,
		Currency:        r.Currency,
		Remote:          r.Remote,
		SkillsRequired:  r.SkillsRequired,
		SkillsPreferred: r.SkillsPreferred,
		PostedAt:        r.PostedAt,
	}
}

// DecodeCSV decodes a headered CSV file of postings. A row that does not
// parse is passed to skip with its 1-based line number and decoding
// continues; a read error from r ends the stream. Both channels are closed
// when processing completes.
func DecodeCSV(ctx context.Context, r io.Reader, skip SkipFunc) (<-chan model.RawPosting, <-chan error) {
	outCh := make(chan model.RawPosting, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		src := &stickyReader{r: r}
		cr := csv.NewReader(src)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true

		dec, err := csvutil.NewDecoder(cr)
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "csv: read header")
			return
		}

		for {
			var row csvRow
			err := dec.Decode(&row)
			if err == io.EOF {
				return
			}
			if err != nil {
				if src.err != nil {
					errCh <- eris.Wrap(src.err, "csv: read source")
					return
				}
				skip.call(csvRecordError(dec, cr, err))
				continue
			}
			if !send(ctx, outCh, errCh, row.posting(), "csv") {
				return
			}
		}
	}()

	return outCh, errCh
}

// csvRecordError locates the failed row and, when the row made it past the
// CSV tokenizer, keeps its identifying cells.
func csvRecordError(dec *csvutil.Decoder, cr *csv.Reader, err error) RecordError {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return RecordError{Format: FormatCSV, Index: pe.StartLine, Err: eris.Wrapf(err, "csv: parse line %d", pe.StartLine)}
	}
	line, _ := cr.FieldPos(0)
	re := RecordError{Format: FormatCSV, Index: line, Err: eris.Wrapf(err, "csv: decode line %d", line)}
	record := dec.Record()
	for i, name := range dec.Header() {
		if i >= len(record) {
			break
		}
		switch name {
		case "title":
			re.Title = record[i]
		case "company":
			re.Company = record[i]
		case "source_url":
			re.SourceURL = record[i]
		case "source_platform":
			re.SourcePlatform = record[i]
		}
	}
	return re
}

// stickyReader remembers the first non-EOF error from r so a tokenizer
// error can be told apart from a failing source.
type stickyReader struct {
	r   io.Reader
	err error
}

func (s *stickyReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}

// EncodeCSV writes postings in the layout DecodeCSV reads.
func EncodeCSV(w io.Writer, postings []model.RawPosting) error {
	rows := make([]csvRow, len(postings))
	for i, p := range postings {
		rows[i] = csvRow{
			ExternalID:      p.ExternalID,
			Title:           p.Title,
			Company:         p.Company,
			Country:         p.Location.Country,
			City:            p.Location.City,
			Description:     p.Description,
			SourceURL:       p.SourceURL,
			SourcePlatform:  p.SourcePlatform,
			SalaryMin:       p.SalaryMin,
			SalaryMax:       p.SalaryMax,
			Currency:        p.Currency,
			Remote:          p.Remote,
			SkillsRequired:  p.SkillsRequired,
			SkillsPreferred: p.SkillsPreferred,
			PostedAt:        p.PostedAt,
		}
	}
	cw := csv.NewWriter(w)
	if err := csvutil.NewEncoder(cw).Encode(rows); err != nil {
		return eris.Wrap(err, "csv: encode postings")
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}
