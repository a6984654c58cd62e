package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jobfeed/internal/export"
	"github.com/sells-group/jobfeed/internal/model"
)

// exportPageSize is the List page used to walk the whole table.
const exportPageSize = 1000

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored postings to XLSX or CSV",
	Long:  "Writes stored postings to an XLSX workbook with one sheet per industry, or to CSV in the scraper input layout.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		out, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")
		statusFlag, _ := cmd.Flags().GetString("status")
		industry, _ := cmd.Flags().GetString("industry")
		country, _ := cmd.Flags().GetString("country")

		format, err := exportFormat(format, out)
		if err != nil {
			return err
		}
		if statusFlag != "" {
			if _, err := model.ParseStatus(statusFlag); err != nil {
				return err
			}
		}

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := listAll(ctx, env.Store, model.RecordFilter{
			Status:   model.Status(statusFlag),
			Industry: model.Industry(industry),
			Country:  country,
		})
		if err != nil {
			return err
		}

		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "create %s", out)
		}
		defer f.Close() //nolint:errcheck

		if format == "csv" {
			err = export.WriteCSV(f, records)
		} else {
			err = export.WriteXLSX(f, records)
		}
		if err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("path", out),
			zap.String("format", format),
			zap.Int("records", len(records)),
		)
		return f.Close()
	},
}

func init() {
	exportCmd.Flags().String("out", "postings.xlsx", "output file")
	exportCmd.Flags().String("format", "", "xlsx or csv (default from --out extension)")
	exportCmd.Flags().String("status", "", "only records with this status (active, removed, expired)")
	exportCmd.Flags().String("industry", "", "only records in this industry")
	exportCmd.Flags().String("country", "", "only records in this country (ISO alpha-2)")
	rootCmd.AddCommand(exportCmd)
}

// exportFormat resolves the output format from the flag or the file
// extension.
func exportFormat(flag, out string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(flag))
	if f == "" {
		f = strings.TrimPrefix(strings.ToLower(filepath.Ext(out)), ".")
	}
	switch f {
	case "xlsx", "csv":
		return f, nil
	case "":
		return "xlsx", nil
	default:
		return "", eris.Errorf("unsupported export format %q (want xlsx or csv)", f)
	}
}

type recordLister interface {
	List(ctx context.Context, filter model.RecordFilter) ([]model.StoredRecord, error)
}

// listAll pages through List until a short page.
func listAll(ctx context.Context, st recordLister, filter model.RecordFilter) ([]model.StoredRecord, error) {
	var all []model.StoredRecord
	filter.Limit = exportPageSize
	for {
		page, err := st.List(ctx, filter)
		if err != nil {
			return nil, eris.Wrap(err, "list records")
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			return all, nil
		}
		filter.Offset += len(page)
	}
}
