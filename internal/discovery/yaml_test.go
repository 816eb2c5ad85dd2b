package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-million/scanner-cli/internal/config"
)

const yamlFixture = `
- business_name: Sunrise Plumbing Supply
  asking_price: 1000000
  annual_revenue: 1800000
  annual_net_profit: 250000
  sector: trade-services
  location: Tulsa, OK
- business_name: Lakeside Laundromat
  asking_price: 400000
  annual_revenue: 220000
  annual_net_profit: 90000
  sector: consumer-services
  location: Madison, WI
  source: broker-direct
- business_name: Missing Numbers LLC
  sector: unknown
  location: Nowhere
`

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "listings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileSourceDiscover(t *testing.T) {
	src := NewFileSource("yaml-fixtures", writeYAML(t, yamlFixture))
	assert.Equal(t, "yaml-fixtures", src.Name())

	listings, err := src.Discover(context.Background())
	require.NoError(t, err)

	// The third entry has no price or profit and is skipped.
	require.Len(t, listings, 2)
	assert.Equal(t, "Sunrise Plumbing Supply", listings[0].BusinessName)
	assert.Equal(t, "yaml-fixtures", listings[0].Source)
	// An explicit source on the row wins over the source name.
	assert.Equal(t, "broker-direct", listings[1].Source)
}

func TestFileSourceErrors(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		src := NewFileSource("yaml", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := src.Discover(context.Background())
		require.Error(t, err)
	})

	t.Run("malformed_yaml", func(t *testing.T) {
		src := NewFileSource("yaml", writeYAML(t, "not: [valid: yaml"))
		_, err := src.Discover(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse")
	})

	t.Run("cancelled_context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src := NewFileSource("yaml", writeYAML(t, yamlFixture))
		_, err := src.Discover(ctx)
		require.Error(t, err)
	})
}

func TestMulti(t *testing.T) {
	a := NewFileSource("a", writeYAML(t, yamlFixture))
	b := NewFileSource("b", writeYAML(t, yamlFixture))
	m := NewMulti(a, b)

	listings, err := m.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, listings, 4)
}

func TestMultiFailFast(t *testing.T) {
	good := NewFileSource("good", writeYAML(t, yamlFixture))
	bad := NewFileSource("bad", filepath.Join(t.TempDir(), "absent.yaml"))
	m := NewMulti(good, bad)

	_, err := m.Discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source bad")
}

func TestFromConfig(t *testing.T) {
	sources, err := FromConfig([]config.SourceConfig{
		{Name: "fixtures", Type: "yaml", Path: "listings.yaml"},
		{Name: "broker", Type: "xlsx", Path: "broker.xlsx", Sheet: "Listings"},
	})
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, []string{"fixtures", "broker"}, Names(sources))

	_, err = FromConfig([]config.SourceConfig{{Name: "feed", Type: "csv"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown source type "csv"`)
}
