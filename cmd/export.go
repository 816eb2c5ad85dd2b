package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/project-million/scanner-cli/internal/model"
	"github.com/project-million/scanner-cli/internal/store"
)

var (
	exportOut      string
	exportSector   string
	exportMinScore float64
	exportLimit    int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the business pipeline to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		businesses, err := st.ListBusinesses(ctx, store.BusinessFilter{
			Sector:            exportSector,
			MinCompositeScore: exportMinScore,
			Limit:             exportLimit,
		})
		if err != nil {
			return eris.Wrap(err, "export: list businesses")
		}

		if err := writeWorkbook(exportOut, businesses); err != nil {
			return err
		}
		fmt.Printf("Exported %d businesses to %s\n", len(businesses), exportOut)
		return nil
	},
}

var exportPrinter = message.NewPrinter(language.AmericanEnglish)

func writeWorkbook(path string, businesses []model.Business) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Businesses")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range []string{
		"Business Name", "Source", "Sector", "Location",
		"Asking Price", "Annual Revenue", "Annual Net Profit",
		"Cap Rate %", "Payback Years", "Composite Score",
		"Ownership Model", "Strategic Flags", "Active",
	} {
		header.AddCell().SetString(col)
	}

	for _, b := range businesses {
		row := sheet.AddRow()
		row.AddCell().SetString(b.BusinessName)
		row.AddCell().SetString(b.Source)
		row.AddCell().SetString(b.Sector)
		row.AddCell().SetString(b.Location)
		row.AddCell().SetString(exportPrinter.Sprintf("$%d", b.AskingPrice))
		row.AddCell().SetString(exportPrinter.Sprintf("$%d", b.AnnualRevenue))
		row.AddCell().SetString(exportPrinter.Sprintf("$%d", b.AnnualNetProfit))
		addFloatCell(row, b.CapRate)
		addFloatCell(row, b.PaybackYears)
		addFloatCell(row, b.CompositeScore)
		if b.OwnershipModel != nil {
			row.AddCell().SetString(string(*b.OwnershipModel))
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(strings.Join(b.StrategicFlags, ", "))
		row.AddCell().SetBool(b.IsActive)
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func addFloatCell(row *xlsx.Row, v *float64) {
	cell := row.AddCell()
	if v == nil {
		cell.SetString("")
		return
	}
	cell.SetFloat(*v)
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "businesses.xlsx", "output file path")
	exportCmd.Flags().StringVar(&exportSector, "sector", "", "filter by sector")
	exportCmd.Flags().Float64Var(&exportMinScore, "min-score", 0, "minimum composite score")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 1000, "maximum businesses to export")
	rootCmd.AddCommand(exportCmd)
}
