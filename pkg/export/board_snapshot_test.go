package export

import (
	"bytes"
	"encoding/xml"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vanderheijden86/zenboard/pkg/merge"
	"github.com/vanderheijden86/zenboard/pkg/model"
	"github.com/vanderheijden86/zenboard/pkg/testutil"
)

func testSnapshot() *model.Snapshot {
	gen := testutil.NewDefault()
	issues := gen.Issues(5)
	issues[0].Title = `Fix <script> & "quotes"`
	issues[0].Labels = []model.Label{{Name: "bug", Color: "d73a4a"}, {Name: "good first issue", Color: "7057ff"}}
	res := merge.Merge(issues, gen.Layout([]int{1, 2}, nil, []int{3}))
	return &model.Snapshot{Cards: res.Cards, Board: res.Board, Orphans: res.Orphans}
}

func TestSVG_ValidXMLStructure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "board.svg")
	err := SaveBoardSnapshot(BoardSnapshotOptions{Path: out, Snapshot: testSnapshot(), ShowUnpositioned: true})
	if err != nil {
		t.Fatalf("SaveBoardSnapshot error: %v", err)
	}
	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}

	var root struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(content, &root); err != nil {
		t.Fatalf("SVG is not valid XML: %v\nContent:\n%s", err, content)
	}
	if root.XMLName.Local != "svg" {
		t.Errorf("root element = %q, want svg", root.XMLName.Local)
	}
	for _, want := range []string{"#1", "(empty)", "(2 issues)", "Unpositioned", "bug"} {
		if !strings.Contains(string(content), want) {
			t.Errorf("SVG missing %q", want)
		}
	}
}

func TestBuildLayout(t *testing.T) {
	snap := testSnapshot()

	layout := BuildLayout(BoardSnapshotOptions{Snapshot: snap})
	if len(layout.Columns) != 3 {
		t.Fatalf("expected one column per pipeline, got %d", len(layout.Columns))
	}
	if got := len(layout.Columns[0].Cards); got != 2 {
		t.Errorf("first column cards = %d, want 2", got)
	}
	if layout.Columns[1].Subtitle != "(empty)" {
		t.Errorf("empty pipeline subtitle = %q", layout.Columns[1].Subtitle)
	}
	if layout.Columns[0].Cards[1].Y <= layout.Columns[0].Cards[0].Y {
		t.Error("cards should stack downwards")
	}
	if layout.Columns[1].X <= layout.Columns[0].X {
		t.Error("columns should run left to right")
	}

	hidden := BuildLayout(BoardSnapshotOptions{
		Snapshot:         snap,
		Hidden:           func(name string) bool { return name == snap.Board.Pipelines[1].Name },
		ShowUnpositioned: true,
	})
	if len(hidden.Columns) != 3 || hidden.Columns[2].Name != "Unpositioned" {
		t.Errorf("expected hidden pipeline skipped and unpositioned column added, got %+v", hidden.Columns)
	}
}

func TestSavePNG(t *testing.T) {
	out := filepath.Join(t.TempDir(), "board.png")
	if err := SaveBoardSnapshot(BoardSnapshotOptions{Path: out, Snapshot: testSnapshot()}); err != nil {
		t.Fatalf("SaveBoardSnapshot: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("not a PNG: %v", err)
	}
	if img.Bounds().Dx() < 640 {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
}

func TestSaveBoardSnapshotErrors(t *testing.T) {
	if err := SaveBoardSnapshot(BoardSnapshotOptions{Path: "x.svg"}); err == nil {
		t.Error("expected error for missing snapshot")
	}
	if err := SaveBoardSnapshot(BoardSnapshotOptions{Path: filepath.Join(t.TempDir(), "x.gif"), Format: "gif", Snapshot: testSnapshot()}); err == nil {
		t.Error("expected error for unsupported format")
	}
	noExt := filepath.Join(t.TempDir(), "board")
	if err := SaveBoardSnapshot(BoardSnapshotOptions{Path: noExt, Snapshot: testSnapshot()}); err != nil {
		t.Fatalf("SaveBoardSnapshot: %v", err)
	}
	if _, err := os.Stat(noExt + ".svg"); err != nil {
		t.Error("missing extension should default to .svg")
	}
}

func TestLabelColors(t *testing.T) {
	if got := labelColor("d73a4a"); got != (color.RGBA{0xd7, 0x3a, 0x4a, 0xff}) {
		t.Errorf("labelColor = %v", got)
	}
	if got := labelColor("nope"); got.R != 0xbb {
		t.Errorf("invalid colour should fall back to grey, got %v", got)
	}
	if contrastText(color.RGBA{0xff, 0xff, 0xff, 0xff}).R != 0x11 {
		t.Error("light backgrounds need dark text")
	}
	if contrastText(color.RGBA{0x10, 0x10, 0x40, 0xff}).R != 0xff {
		t.Error("dark backgrounds need light text")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"a long title here", 10, "a long ..."},
		{"héllo wörld", 8, "héllo..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
