package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/BITBCI/EmoSense/internal/httputil"
)

// echartsAssetsPrefix pins the chart assets to the go-echarts CDN so the
// debug page works without bundling static files.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// chartsPage renders the latest display window (HTML) as stacked line
// charts using go-echarts. This is a debugging-only endpoint for eyeballing
// the filtered traces without a frontend.
// Query params:
//   - max_points (optional; default 2500) to reduce payload size
func (s *Server) chartsPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	snap, ok := s.pipe.LastSnapshot()
	if !ok || snap.Count == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no samples rendered yet; connect a source first")
		return
	}

	maxPoints := 2500
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v >= 100 && v <= 10000 {
			maxPoints = v
		}
	}

	// Downsample by stride to stay within maxPoints
	stride := 1
	if snap.Count > maxPoints {
		stride = int(math.Ceil(float64(snap.Count) / float64(maxPoints)))
	}

	n := snap.Count/stride + 1
	xs := make([]string, 0, n)
	neural := make([]opts.LineData, 0, n)
	red := make([]opts.LineData, 0, n)
	ir := make([]opts.LineData, 0, n)
	var quat [4][]opts.LineData
	for j := range quat {
		quat[j] = make([]opts.LineData, 0, n)
	}
	for i := 0; i < snap.Count; i += stride {
		xs = append(xs, strconv.FormatFloat(snap.Elapsed[i], 'f', 2, 64))
		neural = append(neural, opts.LineData{Value: snap.Neural[i]})
		red = append(red, opts.LineData{Value: snap.OpticalRed[i]})
		ir = append(ir, opts.LineData{Value: snap.OpticalIR[i]})
		for j := range quat {
			quat[j] = append(quat[j], opts.LineData{Value: snap.Quaternion[j][i]})
		}
	}

	source := snap.Source
	if source == "" {
		source = "buffer"
	}
	subtitle := fmt.Sprintf(
		"source=%s samples=%d stride=%d hr=%.0f bpm rendered=%s",
		source, snap.Count, stride, snap.HeartRate, snap.At.UTC().Format("15:04:05"),
	)

	neuralLine := newTraceLine("Neural", subtitle)
	neuralLine.SetXAxis(xs).
		AddSeries("neural", neural, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	opticalLine := newTraceLine("Optical", subtitle)
	opticalLine.SetXAxis(xs).
		AddSeries("red", red,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}),
		).
		AddSeries("ir", ir,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#9575cd"}),
		)

	quatLine := newTraceLine("Orientation", subtitle)
	quatLine.SetXAxis(xs)
	for j := range quat {
		quatLine.AddSeries(fmt.Sprintf("q%d", j), quat[j],
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(neuralLine, opticalLine, quatLine)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func newTraceLine(title, subtitle string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "EmoSense Traces", Theme: "dark", Width: "1260px", Height: "400px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
	)
	return line
}
