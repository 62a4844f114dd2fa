package analyzer

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStripFences(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"plain", ` {"caption":"a"} `, `{"caption":"a"}`},
		{"json fence", "```json\n{\"caption\":\"a\"}\n```", `{"caption":"a"}`},
		{"bare fence", "```\n{\"caption\":\"a\"}\n```", `{"caption":"a"}`},
		{"prose around fence", "Here you go:\n```json\n{\"caption\":\"a\"}\n```\nThanks", `{"caption":"a"}`},
		{"unterminated", "```json\n{\"caption\":\"a\"}", `{"caption":"a"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripFences(tc.in); got != tc.want {
				t.Errorf("stripFences() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseDescription(t *testing.T) {
	caption, tags, err := parseDescription("```json\n{\"caption\":\" A cat \",\"tags\":[\"cat\",\" \",\"pet\"]}\n```")
	if err != nil {
		t.Fatalf("parseDescription: %v", err)
	}
	if caption != "A cat" {
		t.Errorf("caption = %q", caption)
	}
	if strings.Join(tags, ",") != "cat,pet" {
		t.Errorf("tags = %v", tags)
	}

	caption, _, err = parseDescription(`{"summary":"short story","tags":[]}`)
	if err != nil || caption != "short story" {
		t.Errorf("summary fallback: caption=%q err=%v", caption, err)
	}

	for _, bad := range []string{"", "not json", "```json\n[1,2]\n```", `{"other":1}`} {
		if _, _, err := parseDescription(bad); err == nil {
			t.Errorf("parseDescription(%q): expected error", bad)
		}
	}
}

func TestHeuristicTags(t *testing.T) {
	got := HeuristicTags("The Photo shows a Mountain, mountain; RIVER. with trees (forest) and sky!", ImageTagMinLen)
	want := []string{"shows", "mountain", "river", "trees", "forest"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("HeuristicTags = %v, want %v", got, want)
	}

	text := "alpha1 alpha2 alpha3 alpha4 alpha5 alpha6 alpha7 alpha8 alpha9 alpha10 alpha11 alpha12"
	if got := HeuristicTags(text, TextTagMinLen); len(got) != 10 || got[9] != "alpha10" {
		t.Errorf("HeuristicTags cap = %v", got)
	}

	if got := HeuristicTags("tree bird lake", TextTagMinLen); len(got) != 0 {
		t.Errorf("short tokens kept: %v", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo", 2); got != "hé" {
		t.Errorf("truncateRunes = %q", got)
	}
	if got := truncateRunes("abc", 10); got != "abc" {
		t.Errorf("truncateRunes = %q", got)
	}
}

func TestLoadImage_Downscales(t *testing.T) {
	path := writePNG(t, t.TempDir(), "wide.png", 2048, 1000)

	data, err := loadImage(path)
	if err != nil {
		t.Fatalf("loadImage: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not jpeg: %v", err)
	}
	if cfg.Width != 1024 || cfg.Height != 500 {
		t.Errorf("size = %dx%d, want 1024x500", cfg.Width, cfg.Height)
	}
}

func TestLoadImage_SmallUnchanged(t *testing.T) {
	path := writePNG(t, t.TempDir(), "small.png", 40, 30)

	data, err := loadImage(path)
	if err != nil {
		t.Fatalf("loadImage: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("size = %dx%d, want 40x30", b.Dx(), b.Dy())
	}
}

func TestLoadImage_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadImage(path); err == nil {
		t.Fatal("expected decode error")
	}
}
