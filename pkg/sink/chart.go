package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/sluice/pkg/query"
)

// chartHeight is the rendered chart height.
const chartHeight = "500px"

// globalKeyLabel labels the implicit group of an ungrouped aggregate.
const globalKeyLabel = "(all)"

// ChartDir renders each complete-mode query's current table as an HTML bar
// chart at <dir>/<query id>.html, one series per aggregate column.
// Append-mode output has no stable table to chart and is skipped.
type ChartDir struct {
	dir string
}

// NewChartDir creates a chart directory sink.
func NewChartDir(dir string) (*ChartDir, error) {
	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("create chart dir: %w", err)
	}

	return &ChartDir{dir: dir}, nil
}

// Write implements Writer.
func (s *ChartDir) Write(_ context.Context, res query.Result, batchID uint64) error {
	if res.Mode != query.ModeComplete {
		return nil
	}

	bar := buildBar(res, batchID)

	path := filepath.Join(s.dir, res.QueryID+".html")

	tmp, err := os.CreateTemp(s.dir, res.QueryID+".html.tmp-*")
	if err != nil {
		return fmt.Errorf("create chart temp: %w", err)
	}

	renderErr := bar.Render(tmp)
	if renderErr != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("render chart: %w", renderErr)
	}

	closeErr := tmp.Close()
	if closeErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("close chart temp: %w", closeErr)
	}

	renameErr := os.Rename(tmp.Name(), path)
	if renameErr != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("rename chart file: %w", renameErr)
	}

	return nil
}

// buildBar converts a complete-mode rowset into a bar chart. The leading
// group-key columns become X labels; each remaining column is a series.
func buildBar(res query.Result, batchID uint64) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    res.QueryID,
			Subtitle: fmt.Sprintf("as of batch %d", batchID),
			Left:     "center",
		}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: chartHeight}),
	)

	keyCols := res.Output.GroupColumns
	labels := make([]string, len(res.Output.Rows))

	for i, row := range res.Output.Rows {
		if keyCols == 0 {
			labels[i] = globalKeyLabel

			continue
		}

		labels[i] = strings.Join(row[:keyCols], " / ")
	}

	bar.SetXAxis(labels)

	for col := keyCols; col < len(res.Output.Columns); col++ {
		data := make([]opts.BarData, len(res.Output.Rows))

		for i, row := range res.Output.Rows {
			val, parseErr := strconv.ParseFloat(row[col], 64)
			if parseErr != nil {
				continue
			}

			data[i] = opts.BarData{Value: val}
		}

		bar.AddSeries(res.Output.Columns[col], data)
	}

	return bar
}
