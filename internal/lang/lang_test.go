package lang

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/keithlinneman/boardstate/internal/xerrors"
)

const enPack = `{
	// template strings
	"tmpl": {"title": "Board", "nested": {"a": "b"}},
	"common": {"reply": "Reply"},
	"show_seconds": "Click to show seconds",
	"opts": {
		"tabs": ["General", "Style"],
		"labels": {
			"imgSearch": ["Image search", "Show search links"],
			"export": ["Export", "Export settings"],
		},
		"items": {"moe": "Moe"},
		"formats": {"spoiler": ["Spoiler {id}", "Hide {id} images"]},
	},
}`

func writePack(t *testing.T, dir, code, body string) {
	t.Helper()
	if err := os.WriteFile(Path(dir, code), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParse_JSONCWithCommentsAndTrailingCommas(t *testing.T) {
	p, err := Parse([]byte(enPack))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Tmpl["title"] != "Board" {
		t.Fatalf("tmpl.title = %v", p.Tmpl["title"])
	}
	if p.ShowSeconds != "Click to show seconds" {
		t.Fatalf("show_seconds = %q", p.ShowSeconds)
	}
	if len(p.Opts.Tabs) != 2 {
		t.Fatalf("tabs = %v", p.Opts.Tabs)
	}
	l, ok := p.Label("imgSearch")
	if !ok || l.Label() != "Image search" || l.Title() != "Show search links" {
		t.Fatalf("Label = %v, %v", l, ok)
	}
}

func TestPack_Format(t *testing.T) {
	p, _ := Parse([]byte(enPack))
	got, ok := p.Format("spoiler", "thumbs")
	if !ok {
		t.Fatal("format missing")
	}
	if got.Label() != "Spoiler thumbs" || got.Title() != "Hide thumbs images" {
		t.Fatalf("Format = %v", got)
	}
	if _, ok := p.Format("missing", "x"); ok {
		t.Fatal("unknown format should report false")
	}
}

func TestPack_Item(t *testing.T) {
	p, _ := Parse([]byte(enPack))
	if p.Item("moe") != "Moe" {
		t.Fatalf("Item(moe) = %q", p.Item("moe"))
	}
	if p.Item("gar") != "gar" {
		t.Fatalf("unlocalized item should fall back to the value")
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`{"tmpl": [}`))
	if !errors.Is(err, xerrors.ErrConfigFormat) {
		t.Fatalf("want ErrConfigFormat, got %v", err)
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "en_GB", enPack)
	writePack(t, dir, "pt_BR", `{"tmpl": {"title": "Quadro"}}`)

	packs, err := LoadAll(dir, []string{"en_GB", "pt_BR"})
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if packs["pt_BR"].Tmpl["title"] != "Quadro" || packs["pt_BR"].Code != "pt_BR" {
		t.Fatalf("pt_BR = %+v", packs["pt_BR"])
	}
}

func TestLoadAll_MissingPack(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "en_GB", enPack)

	_, err := LoadAll(dir, []string{"en_GB", "de_DE"})
	if !errors.Is(err, xerrors.ErrRead) {
		t.Fatalf("want ErrRead, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("cause lost: %v", err)
	}
	if filepath.Base(Path(dir, "de_DE")) != "de_DE.jsonc" {
		t.Fatal("unexpected pack file name")
	}
}
