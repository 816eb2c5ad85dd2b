package discovery

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/project-million/scanner-cli/internal/model"
)

// SheetSource reads listings from a broker spreadsheet. The first row is
// a header naming the listing fields; unrecognized columns are ignored.
type SheetSource struct {
	name  string
	path  string
	sheet string
}

// NewSheetSource creates an XLSX sheet source. sheet may be empty to use
// the first sheet in the workbook.
func NewSheetSource(name, path, sheet string) *SheetSource {
	return &SheetSource{name: name, path: path, sheet: sheet}
}

// Name returns the configured source name.
func (s *SheetSource) Name() string { return s.name }

// Discover parses the sheet and returns its valid listings.
func (s *SheetSource) Discover(ctx context.Context) ([]model.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "discovery: cancelled")
	}

	f, err := xlsx.OpenFile(s.path)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: open %s", s.path)
	}

	sheet, err := s.getSheet(f)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	cols := headerIndex(sheet.Rows[0])
	var listings []model.Listing
	for _, row := range sheet.Rows[1:] {
		l := s.rowToListing(row, cols)
		if !l.Valid() {
			zap.L().Warn("discovery: skipping invalid row",
				zap.String("source", s.name),
				zap.String("business", l.BusinessName),
			)
			continue
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func (s *SheetSource) getSheet(f *xlsx.File) (*xlsx.Sheet, error) {
	if s.sheet != "" {
		sheet, ok := f.Sheet[s.sheet]
		if !ok {
			return nil, eris.Errorf("discovery: sheet %q not found in %s", s.sheet, s.path)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("discovery: %s has no sheets", s.path)
	}
	return f.Sheets[0], nil
}

func headerIndex(row *xlsx.Row) map[string]int {
	cols := make(map[string]int, len(row.Cells))
	for i, cell := range row.Cells {
		key := strings.ToLower(strings.TrimSpace(cell.String()))
		key = strings.ReplaceAll(key, " ", "_")
		cols[key] = i
	}
	return cols
}

func (s *SheetSource) rowToListing(row *xlsx.Row, cols map[string]int) model.Listing {
	get := func(key string) string {
		idx, ok := cols[key]
		if !ok || idx >= len(row.Cells) {
			return ""
		}
		return strings.TrimSpace(row.Cells[idx].String())
	}

	return model.Listing{
		BusinessName:    get("business_name"),
		AskingPrice:     parseMoney(get("asking_price")),
		AnnualRevenue:   parseMoney(get("annual_revenue")),
		AnnualNetProfit: parseMoney(get("annual_net_profit")),
		Description:     get("description"),
		URL:             get("url"),
		Sector:          get("sector"),
		Location:        get("location"),
		Source:          s.name,
	}
}

// parseMoney accepts "$1,250,000", "1250000", or "1250000.00".
func parseMoney(s string) int64 {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', ' ':
			return -1
		}
		return r
	}, s)
	if cleaned == "" {
		return 0
	}
	if i, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return int64(f)
	}
	return 0
}
