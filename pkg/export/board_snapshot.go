// Package export renders a static picture or markdown report of the board.
package export

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~sbinet/gg"
	svg "github.com/ajstarks/svgo"
	"golang.org/x/image/font/basicfont"

	"github.com/vanderheijden86/zenboard/pkg/model"
)

// BoardSnapshotOptions controls board snapshot export.
type BoardSnapshotOptions struct {
	Path   string // Output path; format inferred from extension when Format empty
	Format string // "svg", "png" or "md" (case-insensitive). If empty, inferred from Path.
	Title  string // Rendered in the header block

	Snapshot *model.Snapshot
	// Hidden reports pipelines to leave out. Nil shows all.
	Hidden func(pipelineName string) bool
	// ShowUnpositioned adds a column for cards that are not on the board.
	ShowUnpositioned bool
}

// SaveBoardSnapshot renders the board as one column per pipeline.
func SaveBoardSnapshot(opts BoardSnapshotOptions) error {
	if opts.Snapshot == nil || opts.Snapshot.IsEmpty() {
		return fmt.Errorf("no cards to export")
	}

	format := strings.ToLower(strings.TrimPrefix(opts.Format, "."))
	if format == "" {
		switch strings.ToLower(filepath.Ext(opts.Path)) {
		case ".svg":
			format = "svg"
		case ".png":
			format = "png"
		case ".md", ".markdown":
			format = "md"
		default:
			format = "svg"
			if opts.Path != "" && filepath.Ext(opts.Path) == "" {
				opts.Path = opts.Path + ".svg"
			}
		}
	}
	switch format {
	case "svg", "png", "md":
	default:
		return fmt.Errorf("unsupported format %q (want svg, png or md)", format)
	}
	if opts.Path == "" {
		return fmt.Errorf("output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	if format == "md" {
		return os.WriteFile(opts.Path, []byte(GenerateBoardMarkdown(opts, time.Now())), 0o644)
	}

	layout := buildLayout(opts)
	switch format {
	case "png":
		return renderPNG(opts.Path, layout)
	default:
		f, err := os.Create(opts.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		return RenderSVG(f, layout)
	}
}

// --- layout computation ----------------------------------------------------

type layoutCard struct {
	Number   model.IssueNumber
	Title    string
	State    model.IssueState
	IsPR     bool
	IsEpic   bool
	Estimate *float64
	Labels   []model.Label
	X, Y     float64
}

type layoutColumn struct {
	Name     string
	Subtitle string
	X        float64
	Cards    []layoutCard
}

// Layout is the computed placement of columns and cards.
type Layout struct {
	Columns []layoutColumn
	Width   int
	Height  int
	Header  float64
	Title   string
	Stats   string
}

const (
	cardW        = 220.0
	cardH        = 64.0
	colGap       = 24.0
	rowGap       = 12.0
	padding      = 32.0
	headerHeight = 96.0
	columnHeader = 44.0
)

// BuildLayout exposes the layout computation for callers that render
// elsewhere.
func BuildLayout(opts BoardSnapshotOptions) Layout {
	return buildLayout(opts)
}

// boardColumn is one exported column: a pipeline or the unpositioned cards.
type boardColumn struct {
	Name     string
	Subtitle string
	Cards    []model.Card
}

func boardColumns(opts BoardSnapshotOptions) []boardColumn {
	snap := opts.Snapshot
	var cols []boardColumn
	for i, p := range snap.Board.Pipelines {
		if opts.Hidden != nil && opts.Hidden(p.Name) {
			continue
		}
		cols = append(cols, boardColumn{
			Name:     p.Name,
			Subtitle: columnSubtitle(p.Summary),
			Cards:    snap.PipelineCards(i),
		})
	}
	if opts.ShowUnpositioned && len(snap.Board.Unpositioned) > 0 {
		cards := snap.UnpositionedCards()
		cols = append(cols, boardColumn{
			Name:     "Unpositioned",
			Subtitle: countLabel(len(cards)),
			Cards:    cards,
		})
	}
	return cols
}

func buildLayout(opts BoardSnapshotOptions) Layout {
	snap := opts.Snapshot
	var cols []layoutColumn
	for _, bc := range boardColumns(opts) {
		cols = append(cols, layoutColumn{
			Name:     bc.Name,
			Subtitle: bc.Subtitle,
			Cards:    layoutCards(bc.Cards),
		})
	}

	maxRows := 0
	for c := range cols {
		cols[c].X = padding + float64(c)*(cardW+colGap)
		for r := range cols[c].Cards {
			cols[c].Cards[r].X = cols[c].X
			cols[c].Cards[r].Y = padding + headerHeight + columnHeader + float64(r)*(cardH+rowGap)
		}
		if len(cols[c].Cards) > maxRows {
			maxRows = len(cols[c].Cards)
		}
	}

	width := int(padding*2 + float64(len(cols))*(cardW+colGap) - colGap)
	if width < 640 {
		width = 640
	}
	height := int(padding*2 + headerHeight + columnHeader + float64(maxRows)*(cardH+rowGap))
	if height < 360 {
		height = 360
	}

	title := opts.Title
	if strings.TrimSpace(title) == "" {
		title = "Board Snapshot"
	}
	stats := fmt.Sprintf("cards: %d  pipelines: %d  unpositioned: %d  orphans: %d",
		len(snap.Cards), len(snap.Board.Pipelines), len(snap.Board.Unpositioned), len(snap.Orphans))

	return Layout{Columns: cols, Width: width, Height: height, Header: headerHeight, Title: title, Stats: stats}
}

func layoutCards(cards []model.Card) []layoutCard {
	out := make([]layoutCard, len(cards))
	for i, c := range cards {
		out[i] = layoutCard{
			Number:   c.Number,
			Title:    c.Title,
			State:    c.State,
			IsPR:     c.IsPullRequest,
			IsEpic:   c.IsEpic,
			Estimate: c.Estimate,
			Labels:   c.Labels,
		}
	}
	return out
}

func columnSubtitle(s model.PipelineSummary) string {
	sub := countLabel(s.Count)
	if s.Estimated > 0 {
		sub += fmt.Sprintf(" · %s pts", formatEstimate(s.EstimateTotal))
	}
	return sub
}

func countLabel(n int) string {
	switch n {
	case 0:
		return "(empty)"
	case 1:
		return "(1 issue)"
	default:
		return fmt.Sprintf("(%d issues)", n)
	}
}

func formatEstimate(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func cardCaption(c layoutCard) string {
	var parts []string
	if c.IsPR {
		parts = append(parts, "PR")
	}
	if c.IsEpic {
		parts = append(parts, "epic")
	}
	if c.Estimate != nil {
		parts = append(parts, formatEstimate(*c.Estimate)+" pts")
	}
	if c.State == model.StateClosed {
		parts = append(parts, "closed")
	}
	return strings.Join(parts, " · ")
}

// --- rendering -------------------------------------------------------------

var (
	colorOpen     = color.RGBA{0xc8, 0xe6, 0xc9, 0xff}
	colorPR       = color.RGBA{0xd6, 0xe4, 0xff, 0xff}
	colorEpic     = color.RGBA{0xe8, 0xda, 0xf7, 0xff}
	colorClosed   = color.RGBA{0xcf, 0xd8, 0xdc, 0xff}
	colorStroke   = color.RGBA{0x22, 0x22, 0x22, 0xff}
	colorText     = color.RGBA{0x11, 0x11, 0x11, 0xff}
	colorSubtle   = color.RGBA{0x66, 0x66, 0x66, 0xff}
	colorBackdrop = color.RGBA{0xf9, 0xfa, 0xfb, 0xff}
	colorHeaderBG = color.RGBA{0xf3, 0xf4, 0xf6, 0xff}
	colorColumnBG = color.RGBA{0xee, 0xef, 0xf1, 0xff}
)

func cardColor(c layoutCard) color.RGBA {
	switch {
	case c.State == model.StateClosed:
		return colorClosed
	case c.IsEpic:
		return colorEpic
	case c.IsPR:
		return colorPR
	default:
		return colorOpen
	}
}

// RenderSVG writes layout as SVG to w.
func RenderSVG(w io.Writer, layout Layout) error {
	canvas := svg.New(w)
	canvas.Start(layout.Width, layout.Height)
	canvas.Rect(0, 0, layout.Width, layout.Height, fmt.Sprintf("fill:%s", css(colorBackdrop)))
	canvas.Roundrect(16, 16, layout.Width-32, int(layout.Header-24), 10, 10, fmt.Sprintf("fill:%s", css(colorHeaderBG)))
	canvas.Text(32, 48, layout.Title, fmt.Sprintf("fill:%s;font-size:16px;font-family:monospace;font-weight:bold", css(colorText)))
	canvas.Text(32, 70, layout.Stats, fmt.Sprintf("fill:%s;font-size:13px;font-family:monospace", css(colorSubtle)))

	colTop := int(padding + layout.Header)
	for _, col := range layout.Columns {
		x := int(col.X)
		canvas.Roundrect(x-6, colTop-6, int(cardW)+12, layout.Height-colTop-int(padding)+12, 8, 8,
			fmt.Sprintf("fill:%s", css(colorColumnBG)))
		canvas.Text(x+4, colTop+14, truncate(col.Name, 28),
			fmt.Sprintf("fill:%s;font-size:13px;font-family:monospace;font-weight:bold", css(colorText)))
		canvas.Text(x+4, colTop+32, col.Subtitle, fmt.Sprintf("fill:%s;font-size:11px;font-family:monospace", css(colorSubtle)))

		for _, c := range col.Cards {
			cx, cy := int(c.X), int(c.Y)
			canvas.Roundrect(cx, cy, int(cardW), int(cardH), 6, 6,
				fmt.Sprintf("fill:%s;stroke:%s;stroke-width:1", css(cardColor(c)), css(colorStroke)))
			canvas.Text(cx+8, cy+18, c.Number.String(), fmt.Sprintf("fill:%s;font-size:12px;font-family:monospace;font-weight:bold", css(colorText)))
			canvas.Text(cx+56, cy+18, truncate(c.Title, 22), fmt.Sprintf("fill:%s;font-size:12px;font-family:monospace", css(colorText)))
			canvas.Text(cx+8, cy+36, cardCaption(c), fmt.Sprintf("fill:%s;font-size:11px;font-family:monospace", css(colorSubtle)))
			lx := cx + 8
			for _, l := range c.Labels {
				name := truncate(l.Name, 12)
				w := 7*len([]rune(name)) + 8
				if lx+w > cx+int(cardW)-8 {
					break
				}
				bg := labelColor(l.Color)
				canvas.Roundrect(lx, cy+44, w, 14, 4, 4, fmt.Sprintf("fill:%s", css(bg)))
				canvas.Text(lx+4, cy+55, name, fmt.Sprintf("fill:%s;font-size:10px;font-family:monospace", css(contrastText(bg))))
				lx += w + 4
			}
		}
	}

	canvas.End()
	return nil
}

func renderPNG(path string, layout Layout) error {
	dc := gg.NewContext(layout.Width, layout.Height)
	dc.SetColor(colorBackdrop)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)

	dc.SetColor(colorHeaderBG)
	dc.DrawRoundedRectangle(16, 16, float64(layout.Width)-32, layout.Header-24, 10)
	dc.Fill()
	dc.SetColor(colorText)
	dc.DrawStringAnchored(layout.Title, 32, 44, 0, 0.5)
	dc.SetColor(colorSubtle)
	dc.DrawStringAnchored(layout.Stats, 32, 66, 0, 0.5)

	colTop := padding + layout.Header
	for _, col := range layout.Columns {
		dc.SetColor(colorColumnBG)
		dc.DrawRoundedRectangle(col.X-6, colTop-6, cardW+12, float64(layout.Height)-colTop-padding+12, 8)
		dc.Fill()
		dc.SetColor(colorText)
		dc.DrawStringAnchored(truncate(col.Name, 28), col.X+4, colTop+10, 0, 0.5)
		dc.SetColor(colorSubtle)
		dc.DrawStringAnchored(col.Subtitle, col.X+4, colTop+28, 0, 0.5)

		for _, c := range col.Cards {
			dc.SetColor(cardColor(c))
			dc.DrawRoundedRectangle(c.X, c.Y, cardW, cardH, 6)
			dc.Fill()
			dc.SetColor(colorStroke)
			dc.SetLineWidth(1)
			dc.DrawRoundedRectangle(c.X, c.Y, cardW, cardH, 6)
			dc.Stroke()

			dc.SetColor(colorText)
			dc.DrawStringAnchored(c.Number.String()+" "+truncate(c.Title, 24), c.X+8, c.Y+14, 0, 0.5)
			dc.SetColor(colorSubtle)
			dc.DrawStringAnchored(cardCaption(c), c.X+8, c.Y+32, 0, 0.5)
			lx := c.X + 8
			for _, l := range c.Labels {
				name := truncate(l.Name, 12)
				w := float64(7*len([]rune(name)) + 8)
				if lx+w > c.X+cardW-8 {
					break
				}
				bg := labelColor(l.Color)
				dc.SetColor(bg)
				dc.DrawRoundedRectangle(lx, c.Y+44, w, 14, 4)
				dc.Fill()
				dc.SetColor(contrastText(bg))
				dc.DrawStringAnchored(name, lx+4, c.Y+51, 0, 0.5)
				lx += w + 4
			}
		}
	}
	return dc.SavePNG(path)
}

// --- helpers ---------------------------------------------------------------

// labelColor parses a GitHub label colour ("d73a4a"); invalid values fall
// back to grey.
func labelColor(hex string) color.RGBA {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return color.RGBA{0xbb, 0xbb, 0xbb, 0xff}
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{0xbb, 0xbb, 0xbb, 0xff}
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 0xff}
}

// contrastText picks black or white text for a background by luma.
func contrastText(bg color.RGBA) color.RGBA {
	luma := 0.299*float64(bg.R) + 0.587*float64(bg.G) + 0.114*float64(bg.B)
	if luma > 150 {
		return color.RGBA{0x11, 0x11, 0x11, 0xff}
	}
	return color.RGBA{0xff, 0xff, 0xff, 0xff}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func css(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
