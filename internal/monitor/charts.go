package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/tracking.stimulator/internal/httputil"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

// handlePositionsChart renders recent source positions and the region
// centres as an interactive scatter chart.
func (s *Server) handlePositionsChart(w http.ResponseWriter, r *http.Request) {
	trails := s.history.Trails()
	regions := s.node.Regions().Snapshot()

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tracker positions", Width: "800px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{Title: "Source positions", Subtitle: fmt.Sprintf("sources=%d regions=%d", len(trails), len(regions))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: 1, Name: "x", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "y", NameLocation: "middle", NameGap: 30}),
	)

	for _, t := range trails {
		data := make([]opts.ScatterData, 0, len(t.Points))
		for _, p := range t.Points {
			data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
		}
		scatter.AddSeries(fmt.Sprintf("%d: %s", t.SourceID, t.Name), data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: t.Color.RGB().Hex()}),
		)
	}

	if len(regions) > 0 {
		data := make([]opts.ScatterData, 0, len(regions))
		for i, reg := range regions {
			data = append(data, opts.ScatterData{
				Name:       fmt.Sprintf("region %d", i),
				Value:      []interface{}{reg.X, reg.Y},
				Symbol:     "emptyCircle",
				SymbolSize: int(math.Max(6, reg.Radius*800)),
			})
		}
		scatter.AddSeries("regions", data, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#888888"}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTrajectoryPlot renders the recent trails and region outlines as a
// PNG.
func (s *Server) handleTrajectoryPlot(w http.ResponseWriter, r *http.Request) {
	p, err := trajectoryPlot(s.history.Trails(), s.node.Regions().Snapshot())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := wt.WriteTo(w); err != nil {
		logf("write trajectory plot: %v", err)
	}
}

func trajectoryPlot(trails []Trail, regions []tracking.Region) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Trajectories"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	for i, reg := range regions {
		const steps = 64
		pts := make(plotter.XYs, steps+1)
		for k := range pts {
			a := 2 * math.Pi * float64(k) / steps
			pts[k].X = reg.X + reg.Radius*math.Cos(a)
			pts[k].Y = reg.Y + reg.Radius*math.Sin(a)
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
		l.Color = color.Gray{Y: 128}
		if !reg.Enabled {
			l.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		}
		p.Add(l)
	}

	for _, t := range trails {
		if len(t.Points) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(t.Points))
		for k, pos := range t.Points {
			pts[k].X = float64(pos.X)
			pts[k].Y = float64(pos.Y)
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", t.SourceID, err)
		}
		rgb := t.Color.RGB()
		l.Color = color.RGBA{R: rgb.R, G: rgb.G, B: rgb.B, A: 255}
		l.Width = vg.Points(1.5)
		p.Add(l)
		p.Legend.Add(fmt.Sprintf("%d: %s", t.SourceID, t.Name), l)
	}
	return p, nil
}
