// Package lang loads per-language string packs. Packs are JSON with comments
// and trailing commas allowed, one file per language code.
package lang

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// Pair is a [label, title] tuple.
type Pair [2]string

func (p Pair) Label() string { return p[0] }
func (p Pair) Title() string { return p[1] }

// Opts holds the options panel strings.
type Opts struct {
	Tabs []string `json:"tabs"`
	// Labels maps option and link ids to their label and title.
	Labels map[string]Pair `json:"labels"`
	// Items localizes values of list options.
	Items map[string]string `json:"items"`
	// Formats are label patterns shared by several options; {id} is
	// replaced with the option id.
	Formats map[string]Pair `json:"formats"`
}

// Pack is one language's strings.
type Pack struct {
	Code        string         `json:"-"`
	Tmpl        map[string]any `json:"tmpl"`
	Common      map[string]any `json:"common"`
	ShowSeconds string         `json:"show_seconds"`
	Opts        Opts           `json:"opts"`
}

// Label returns the label pair registered for id.
func (p *Pack) Label(id string) (Pair, bool) {
	v, ok := p.Opts.Labels[id]
	return v, ok
}

// Format expands the named pattern pair for id.
func (p *Pack) Format(name, id string) (Pair, bool) {
	f, ok := p.Opts.Formats[name]
	if !ok {
		return Pair{}, false
	}
	return Pair{
		strings.ReplaceAll(f[0], "{id}", id),
		strings.ReplaceAll(f[1], "{id}", id),
	}, true
}

// Item returns the localized name of a list value, or the value itself.
func (p *Pack) Item(v string) string {
	if s, ok := p.Opts.Items[v]; ok && s != "" {
		return s
	}
	return v
}

// Path returns the pack file for code under dir.
func Path(dir, code string) string {
	return filepath.Join(dir, code+".jsonc")
}

// Load reads the pack for code from dir.
func Load(dir, code string) (*Pack, error) {
	path := Path(dir, code)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Kindf(xerrors.ErrRead, err, "read language pack %s", path)
	}
	p, err := Parse(b)
	if err != nil {
		return nil, xerrors.Wrapf(err, "language pack %s", path)
	}
	p.Code = code
	return p, nil
}

// Parse decodes a pack from JSONC bytes.
func Parse(b []byte) (*Pack, error) {
	var p Pack
	if err := json.Unmarshal(jsonc.ToJSON(b), &p); err != nil {
		return nil, xerrors.Kind(xerrors.ErrConfigFormat, err, "decode language pack")
	}
	return &p, nil
}

// LoadAll loads one pack per code. The first failure aborts.
func LoadAll(dir string, codes []string) (map[string]*Pack, error) {
	out := make(map[string]*Pack, len(codes))
	for _, c := range codes {
		p, err := Load(dir, c)
		if err != nil {
			return nil, err
		}
		out[c] = p
	}
	return out, nil
}
