// Package ers provides cached accessors for USDA Economic Research
// Service county and tract rurality classifications: Rural-Urban
// Continuum codes, Urban Influence codes and Rural-Urban Commuting Area
// codes. Each classification combines several published vintages into
// one normalized table with a companion documentation text file.
package ers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/tabular"
)

// sourceURLBase is a variable so tests can point downloads at a local
// server.
var sourceURLBase = "https://www.ers.usda.gov"

// Client provides the rurality accessors over a shared environment.
type Client struct {
	env  *pubdata.Env
	ruc  *pubdata.Store[pubdata.Fixed, []RUCRow]
	ui   *pubdata.Store[pubdata.Fixed, []UIRow]
	ruca *pubdata.Store[pubdata.Fixed, []RUCARow]
}

// NewClient creates an ERS rurality client.
func NewClient(env *pubdata.Env) *Client {
	return &Client{
		env:  env,
		ruc:  pubdata.NewStore[pubdata.Fixed](env, "ers-ruc", "ers/ruc.parquet", pubdata.ParquetCodec[RUCRow]()),
		ui:   pubdata.NewStore[pubdata.Fixed](env, "ers-ui", "ers/ui.parquet", pubdata.ParquetCodec[UIRow]()),
		ruca: pubdata.NewStore[pubdata.Fixed](env, "ers-ruca", "ers/ruca.parquet", pubdata.ParquetCodec[RUCARow]()),
	}
}

// fetchWorkbook downloads one vintage workbook and opens it. The URL
// carries a cache-busting query string, so the local name is explicit.
func (c *Client) fetchWorkbook(ctx context.Context, urlPath, localName string) (tabular.Workbook, error) {
	dest := c.env.SourcePath("ers", localName)
	if _, err := c.env.Fetch(ctx, sourceURLBase+urlPath, dest); err != nil {
		return nil, err
	}
	return tabular.OpenWorkbook(c.env.Fs(), dest)
}

// docSection renders one vintage's documentation block: a title line,
// the data source, the column renames applied, and any documentation
// sheet text from the workbook.
func docSection(title, url string, renames [][2]string, extra [][]string) string {
	var sb strings.Builder
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("-", 80) + "\n")
	sb.WriteString("Data source: " + sourceURLBase + url + "\n\n")
	sb.WriteString("Column names\n")
	sb.WriteString("Renamed\tOriginal\n")
	for _, r := range renames {
		sb.WriteString(r[0] + "\t" + r[1] + "\n")
	}
	for _, row := range extra {
		sb.WriteString(strings.TrimSpace(strings.Join(row, "\t")) + "\n")
	}
	return sb.String()
}

// writeDoc saves the combined documentation next to the processed table.
func (c *Client) writeDoc(name string, sections []string) error {
	path := c.env.DataPath("ers", name)
	if err := c.env.Fs().MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create doc directory: %w", err)
	}
	content := strings.Join(sections, "\n\n")
	if err := afero.WriteFile(c.env.Fs(), path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// sheetText reads a documentation sheet as rows of cells, empty when the
// sheet does not exist.
func sheetText(wb tabular.Workbook, sheet string) [][]string {
	rows, err := wb.Rows(sheet)
	if err != nil {
		return nil
	}
	return rows
}

// BuildAll builds all three classification tables, best-effort.
func (c *Client) BuildAll(ctx context.Context) error {
	var failed []pubdata.KeyError
	record := func(name string, err error) {
		if err != nil {
			log := c.env.Logger()
			log.Error().Str("dataset", "ers").Str("key", name).Err(err).Msg("build failed")
			failed = append(failed, pubdata.KeyError{Key: name, Err: err})
		}
	}

	_, err := c.RUC(ctx)
	record("ruc", err)
	_, err = c.UI(ctx)
	record("ui", err)
	_, err = c.RUCA(ctx)
	record("ruca", err)

	return pubdata.NewBuildError(failed)
}

// Cleanup removes the processed classification tables. With
// removeDownloaded it also removes the raw source workbooks.
func (c *Client) Cleanup(removeDownloaded bool) error {
	if err := c.env.RemoveTree(c.env.DataPath("ers")); err != nil {
		return err
	}
	if removeDownloaded {
		return c.env.RemoveTree(c.env.SourcePath("ers"))
	}
	return nil
}
