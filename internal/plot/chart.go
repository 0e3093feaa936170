package plot

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Point is one scalar diagnostic value. Label names the shot in the tooltip.
type Point struct {
	Label string
	X, Y  float64
}

// ChartOptions label the axes of a series chart.
type ChartOptions struct {
	Subtitle string
	XName    string
	YName    string
}

// SeriesChart renders points as an HTML scatter chart. Points with a NaN
// coordinate are skipped.
func SeriesChart(w io.Writer, title string, points []Point, o ChartOptions) error {
	data := make([]opts.ScatterData, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) {
			continue
		}
		data = append(data, opts.ScatterData{Name: p.Label, Value: []interface{}{p.X, p.Y}})
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: %q has no finite points", ErrNoData, title)
	}

	subtitle := o.Subtitle
	if subtitle == "" {
		subtitle = fmt.Sprintf("points=%d", len(data))
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: o.XName, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: o.YName, NameLocation: "middle", NameGap: 40}),
	)
	scatter.AddSeries(title, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render chart %q: %w", title, err)
	}
	return nil
}
