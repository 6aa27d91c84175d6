// Package plot draws Q-matrix bar plots: one stacked bar per individual and
// one colour per cluster, individuals grouped by population.
package plot

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/popgen/structure-threader/internal/config"
	"github.com/popgen/structure-threader/internal/constants"
	"github.com/popgen/structure-threader/internal/logging"
	"github.com/popgen/structure-threader/internal/models"
)

// ComparisonName is the base name of the stacked best-K figure.
const ComparisonName = "comparison_bestK"

// ErrNothingToPlot is returned when no result file of a request is usable.
var ErrNothingToPlot = errors.New("no result files to plot")

// Request describes one plotting pass.
type Request struct {
	Files        []string
	Program      models.ProgramKind
	OutDir       string
	BestK        []int
	PopFile      string
	IndFile      string
	Greyscale    bool
	UseIndLabels bool
}

// Renderer draws the plots of a Request.
type Renderer interface {
	Render(ctx context.Context, req Request) error
}

// GonumRenderer renders with gonum/plot.
type GonumRenderer struct {
	Format   string
	WidthCm  float64
	HeightCm float64
	logger   *logging.Logger
}

// NewRenderer returns a renderer using the [plot] defaults.
func NewRenderer(defaults config.PlotDefaults, logger *logging.Logger) *GonumRenderer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := &GonumRenderer{
		Format:   defaults.Format,
		WidthCm:  defaults.WidthCm,
		HeightCm: defaults.HeightCm,
		logger:   logger,
	}
	if r.Format == "" {
		r.Format = "png"
	}
	if r.WidthCm <= 0 {
		r.WidthCm = constants.DefaultPlotWidthCm
	}
	if r.HeightCm <= 0 {
		r.HeightCm = constants.DefaultPlotHeightCm
	}
	return r
}

var (
	structureFileK = regexp.MustCompile(`K(\d+)_rep\d+_f$`)
	meanQFileK     = regexp.MustCompile(`K\.(\d+)\.meanQ$`)
)

// chart is one loaded Q matrix ready to draw.
type chart struct {
	k      int
	q      QMatrix
	groups []Group
}

// Render loads every file of req, draws one chart per K into plots/ and,
// when any best K was loaded, the comparison figure. Files that cannot be
// read are skipped with a warning.
func (r *GonumRenderer) Render(ctx context.Context, req Request) error {
	prefix, err := filePrefix(req.Program)
	if err != nil {
		return err
	}
	if len(req.Files) == 0 {
		return ErrNothingToPlot
	}

	var pops []PopEntry
	if req.PopFile != "" {
		if pops, err = ReadPopFile(req.PopFile); err != nil {
			return err
		}
	}
	var indLabels []string
	if req.IndFile != "" && req.UseIndLabels {
		if indLabels, err = ReadIndLabels(req.IndFile); err != nil {
			return err
		}
	}

	loaded := make([]*chart, len(req.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, file := range req.Files {
		i, file := i, file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := loadChart(file, req.Program, pops, indLabels)
			if err != nil {
				// A failed job leaves no usable file; the other Ks still plot.
				r.logger.Warnf("Skipping plot for %s: %v", file, err)
				return nil
			}
			loaded[i] = &c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	charts := make([]chart, 0, len(loaded))
	for _, c := range loaded {
		if c != nil {
			charts = append(charts, *c)
		}
	}
	if len(charts) == 0 {
		return fmt.Errorf("%w: none of the %d result files could be read", ErrNothingToPlot, len(req.Files))
	}

	plotDir := filepath.Join(req.OutDir, constants.PlotsDirName)
	if err := os.MkdirAll(plotDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", plotDir, err)
	}

	byK := make(map[int]*plot.Plot, len(charts))
	for _, c := range charts {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := r.drawChart(c, req)
		if err != nil {
			return fmt.Errorf("K=%d: %w", c.k, err)
		}
		byK[c.k] = p

		out := filepath.Join(plotDir, fmt.Sprintf("%s_K%d.%s", prefix, c.k, r.Format))
		if err := p.Save(r.width(), r.height(), out); err != nil {
			return fmt.Errorf("failed to save %s: %w", out, err)
		}
		r.logger.Debugf("Wrote %s", out)
	}

	var best [][]*plot.Plot
	for _, k := range req.BestK {
		if p, ok := byK[k]; ok {
			best = append(best, []*plot.Plot{p})
		}
	}
	if len(best) == 0 {
		r.logger.Warnf("None of the best K values %v were plotted; skipping comparison plot", req.BestK)
		return nil
	}
	out := filepath.Join(plotDir, fmt.Sprintf("%s.%s", ComparisonName, r.Format))
	if err := r.saveStacked(best, out); err != nil {
		return err
	}
	r.logger.Infof("Plots written to %s", plotDir)
	return nil
}

func (r *GonumRenderer) width() vg.Length  { return vg.Length(r.WidthCm) * vg.Centimeter }
func (r *GonumRenderer) height() vg.Length { return vg.Length(r.HeightCm) * vg.Centimeter }

// saveStacked draws plots one above the other in a single figure.
func (r *GonumRenderer) saveStacked(plots [][]*plot.Plot, out string) error {
	canvas, err := draw.NewFormattedCanvas(r.width(), r.height()*vg.Length(len(plots)), r.Format)
	if err != nil {
		return fmt.Errorf("failed to create %s canvas: %w", r.Format, err)
	}
	tiles := draw.Tiles{Rows: len(plots), Cols: 1, PadY: vg.Millimeter}
	canvases := plot.Align(plots, tiles, draw.New(canvas))
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	if _, err := canvas.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	return f.Close()
}

func filePrefix(kind models.ProgramKind) (string, error) {
	switch kind {
	case models.Structure:
		return "str", nil
	case models.FastStructure:
		return "fS", nil
	}
	return "", fmt.Errorf("plotting is not available for %s results", kind)
}

// FileK extracts K from a STRUCTURE _f or fastStructure .meanQ file name.
func FileK(path string, kind models.ProgramKind) (int, error) {
	re := structureFileK
	if kind == models.FastStructure {
		re = meanQFileK
	}
	m := re.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, fmt.Errorf("cannot infer K from file name %q", path)
	}
	return strconv.Atoi(m[1])
}

func loadChart(file string, kind models.ProgramKind, pops []PopEntry, indLabels []string) (chart, error) {
	k, err := FileK(file, kind)
	if err != nil {
		return chart{}, err
	}

	var q QMatrix
	if kind == models.Structure {
		q, err = ReadStructureQ(file)
	} else {
		q, err = ReadMeanQ(file)
	}
	if err != nil {
		return chart{}, err
	}

	if indLabels != nil {
		if len(indLabels) != len(q.Values) {
			return chart{}, fmt.Errorf("individual file has %d labels, %s has %d individuals", len(indLabels), file, len(q.Values))
		}
		q.Labels = indLabels
	}

	var groups []Group
	switch {
	case pops != nil:
		if q, groups, err = Reorder(q, pops); err != nil {
			return chart{}, fmt.Errorf("%s: %w", file, err)
		}
	case len(q.Pops) > 0:
		groups = GroupsFromPops(q.Pops)
	}
	return chart{k: k, q: q, groups: groups}, nil
}

func (r *GonumRenderer) drawChart(c chart, req Request) (*plot.Plot, error) {
	n := len(c.q.Values)
	k := c.q.K()
	palette := Palette(k, req.Greyscale)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("K=%d", c.k)
	p.HideY()
	p.X.LineStyle.Width = 0
	p.X.Tick.LineStyle.Width = 0

	// Bars are positioned at 0..n-1; their width is in canvas units.
	barWidth := r.width() * 0.9 / vg.Length(n)
	var below *plotter.BarChart
	for cluster := 0; cluster < k; cluster++ {
		col := make(plotter.Values, n)
		for i, row := range c.q.Values {
			if cluster < len(row) {
				col[i] = row[cluster]
			}
		}
		bars, err := plotter.NewBarChart(col, barWidth)
		if err != nil {
			return nil, err
		}
		bars.Color = palette[cluster]
		bars.LineStyle.Width = 0
		if below != nil {
			bars.StackOn(below)
		}
		p.Add(bars)
		below = bars
	}

	for _, g := range c.groups[min(1, len(c.groups)):] {
		x := float64(g.Start) - 0.5
		line, err := plotter.NewLine(plotter.XYs{{X: x, Y: 0}, {X: x, Y: 1}})
		if err != nil {
			return nil, err
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = color.Black
		p.Add(line)
	}

	p.X.Min, p.X.Max = -0.5, float64(n)-0.5
	p.Y.Min, p.Y.Max = 0, 1

	var ticks []plot.Tick
	switch {
	case req.UseIndLabels && len(c.q.Labels) == n:
		for i, label := range c.q.Labels {
			ticks = append(ticks, plot.Tick{Value: float64(i), Label: label})
		}
	default:
		for _, g := range c.groups {
			ticks = append(ticks, plot.Tick{Value: float64(g.Start+g.End-1) / 2, Label: g.Name})
		}
	}
	p.X.Tick.Marker = plot.ConstantTicks(ticks)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = text.XRight
	p.X.Tick.Label.YAlign = text.YCenter
	return p, nil
}

var qualitative = []string{
	"#a6cee3", "#1f78b4", "#b2df8a", "#33a02c", "#fb9a99", "#e31a1c",
	"#fdbf6f", "#ff7f00", "#cab2d6", "#6a3d9a", "#ffff99", "#b15928",
}

// Palette returns k cluster colours. Beyond the twelve qualitative colours
// hues are spread evenly around the colour wheel.
func Palette(k int, greyscale bool) []color.Color {
	out := make([]color.Color, k)
	for i := range out {
		switch {
		case greyscale:
			step := 0.0
			if k > 1 {
				step = float64(i) / float64(k-1)
			}
			y := uint8(40 + step*180)
			out[i] = color.Gray{Y: y}
		case k <= len(qualitative):
			out[i] = hexColor(qualitative[i])
		default:
			out[i] = hueColor(float64(i) / float64(k))
		}
	}
	return out
}

func hexColor(s string) color.Color {
	v, _ := strconv.ParseUint(s[1:], 16, 32)
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// hueColor converts a hue in [0,1) at fixed saturation and value to RGB.
func hueColor(h float64) color.Color {
	const s, v = 0.65, 0.9
	h6 := h * 6
	i := math.Floor(h6)
	f := h6 - i
	p, q, t := v*(1-s), v*(1-s*f), v*(1-s*(1-f))
	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 0xff}
}
