package discovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeWorkbook(t *testing.T, sheetName string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	require.NoError(t, err)
	for _, cells := range rows {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().SetString(c)
		}
	}
	path := filepath.Join(t.TempDir(), "listings.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestSheetSourceDiscover(t *testing.T) {
	path := writeWorkbook(t, "Listings", [][]string{
		{"Business Name", "Asking Price", "Annual Revenue", "Annual Net Profit", "Sector", "Location", "URL"},
		{"Sunrise Plumbing Supply", "$1,250,000", "1800000", "250,000", "trade-services", "Tulsa, OK", "https://example.com/1"},
		{"Incomplete Row", "", "", "", "misc", "Nowhere", ""},
		{"Lakeside Laundromat", "400000.00", "220000", "90000", "consumer-services", "Madison, WI", ""},
	})

	src := NewSheetSource("broker-sheet", path, "Listings")
	listings, err := src.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, listings, 2)
	assert.Equal(t, "Sunrise Plumbing Supply", listings[0].BusinessName)
	assert.Equal(t, int64(1_250_000), listings[0].AskingPrice)
	assert.Equal(t, int64(250_000), listings[0].AnnualNetProfit)
	assert.Equal(t, "broker-sheet", listings[0].Source)
	assert.Equal(t, "https://example.com/1", listings[0].URL)
	assert.Equal(t, int64(400_000), listings[1].AskingPrice)
}

func TestSheetSourceDefaultsToFirstSheet(t *testing.T) {
	path := writeWorkbook(t, "Whatever", [][]string{
		{"business_name", "asking_price", "annual_revenue", "annual_net_profit", "sector", "location"},
		{"Corner Bakery", "300000", "500000", "75000", "food-service", "Boise, ID"},
	})

	src := NewSheetSource("sheet", path, "")
	listings, err := src.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Corner Bakery", listings[0].BusinessName)
}

func TestSheetSourceMissingSheet(t *testing.T) {
	path := writeWorkbook(t, "Listings", nil)
	src := NewSheetSource("sheet", path, "Other")
	_, err := src.Discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Other" not found`)
}

func TestSheetSourceMissingFile(t *testing.T) {
	src := NewSheetSource("sheet", filepath.Join(t.TempDir(), "absent.xlsx"), "")
	_, err := src.Discover(context.Background())
	require.Error(t, err)
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"$1,250,000", 1_250_000},
		{"1250000", 1_250_000},
		{"1250000.00", 1_250_000},
		{"$ 90,000", 90_000},
		{"", 0},
		{"n/a", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseMoney(tt.in), tt.in)
	}
}
