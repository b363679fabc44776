// Command sessionplot renders a recorded session CSV to PNG time
// series: one plot for the neural channel, one for the optical pair,
// one for orientation.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/BITBCI/EmoSense/internal/frame"
	"github.com/BITBCI/EmoSense/internal/record"
)

func main() {
	input := flag.String("i", "", "recorded session CSV (required)")
	outDir := flag.String("o", "", "output directory (default: alongside the input file)")
	flag.Parse()

	if *input == "" {
		log.Fatal("input CSV is required (-i)")
	}

	rows, err := record.LoadCSVFile(*input)
	if err != nil {
		log.Fatalf("failed to load %s: %v", *input, err)
	}
	if len(rows) == 0 {
		log.Fatalf("%s holds no samples", *input)
	}

	dir := *outDir
	if dir == "" {
		dir = filepath.Dir(*input)
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("failed to create output dir: %v", err)
	}
	base := strings.TrimSuffix(filepath.Base(*input), filepath.Ext(*input))

	span := rows[len(rows)-1].Offset - rows[0].Offset
	log.Printf("loaded %d samples spanning %.2f s", len(rows), span)

	if err := plotNeural(rows, filepath.Join(dir, base+"_neural.png")); err != nil {
		log.Fatalf("neural plot: %v", err)
	}
	if err := plotOptical(rows, filepath.Join(dir, base+"_optical.png")); err != nil {
		log.Fatalf("optical plot: %v", err)
	}
	if err := plotOrientation(rows, filepath.Join(dir, base+"_orientation.png")); err != nil {
		log.Fatalf("orientation plot: %v", err)
	}

	log.Printf("✓ Created: %s_{neural,optical,orientation}.png in %s", base, dir)
}

// addLine builds a styled line from points and registers it on the plot
// with a legend entry.
func addLine(p *plot.Plot, pts plotter.XYs, label string, c color.Color) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

func newTimePlot(title, yLabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p
}

func plotNeural(rows []record.Row, file string) error {
	p := newTimePlot("Neural Channel", "Raw ADC code")

	pts := make(plotter.XYs, len(rows))
	for i, r := range rows {
		pts[i] = plotter.XY{X: r.Offset, Y: float64(r.NeuralRaw)}
	}
	if err := addLine(p, pts, "neural", color.RGBA{R: 33, G: 150, B: 243, A: 255}); err != nil {
		return err
	}

	return p.Save(14*vg.Inch, 6*vg.Inch, file)
}

func plotOptical(rows []record.Row, file string) error {
	p := newTimePlot("Optical Channels", "Raw ADC code")

	red := make(plotter.XYs, len(rows))
	ir := make(plotter.XYs, len(rows))
	for i, r := range rows {
		red[i] = plotter.XY{X: r.Offset, Y: float64(r.OpticalRed)}
		ir[i] = plotter.XY{X: r.Offset, Y: float64(r.OpticalIR)}
	}
	if err := addLine(p, red, "red", color.RGBA{R: 255, G: 82, B: 82, A: 255}); err != nil {
		return err
	}
	if err := addLine(p, ir, "ir", color.RGBA{R: 149, G: 117, B: 205, A: 255}); err != nil {
		return err
	}

	return p.Save(14*vg.Inch, 6*vg.Inch, file)
}

func plotOrientation(rows []record.Row, file string) error {
	p := newTimePlot("Orientation", "Quaternion component (normalized)")

	series := make([]plotter.XYs, 4)
	for c := range series {
		series[c] = make(plotter.XYs, len(rows))
	}
	for i, r := range rows {
		q := frame.OrientationQuaternion(r.Orientation)
		for c, v := range []float64{q.Q0, q.Q1, q.Q2, q.Q3} {
			series[c][i] = plotter.XY{X: r.Offset, Y: v}
		}
	}

	colors := []color.Color{
		color.RGBA{R: 0, G: 150, B: 136, A: 255},
		color.RGBA{R: 255, G: 152, B: 0, A: 255},
		color.RGBA{R: 156, G: 39, B: 176, A: 255},
		color.RGBA{R: 96, G: 125, B: 139, A: 255},
	}
	for c := 0; c < 4; c++ {
		if err := addLine(p, series[c], fmt.Sprintf("q%d", c), colors[c]); err != nil {
			return err
		}
	}

	return p.Save(14*vg.Inch, 6*vg.Inch, file)
}
