// Package tmplc compiles the index template once per language.
//
// Compilation expands {{ name }} interpolations against a variable set built
// from the hot config, the static site config, asset hashes and generated
// fragments. Gaps come from the $MARKER placeholders of the source template
// only; marker-like text inside substituted values stays literal, so request
// handlers can fill the gaps by position.
package tmplc

import (
	"maps"

	"github.com/keithlinneman/boardstate/internal/assethash"
	"github.com/keithlinneman/boardstate/internal/fragments"
	"github.com/keithlinneman/boardstate/internal/hotconfig"
	"github.com/keithlinneman/boardstate/internal/lang"
	"github.com/keithlinneman/boardstate/internal/siteconfig"
	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// Vars are template variables.
type Vars map[string]any

// Artifact is one language's compiled index template.
type Artifact struct {
	Lang string
	// Segments are the static pieces between gaps.
	Segments []string
	// Gaps are the marker names, without the leading $, in source order.
	Gaps []string
	// Hash is the short digest of the fully expanded markup.
	Hash string
}

// PerLang renders the language-dependent fragments.
type PerLang func(vars Vars, p *lang.Pack) (scheduleModal, optionsPanel string, err error)

// Compiler turns the raw index template into per-language artifacts.
type Compiler struct {
	hasher *assethash.Hasher
}

func New(h *assethash.Hasher) *Compiler {
	if h == nil {
		h = &assethash.Hasher{}
	}
	return &Compiler{hasher: h}
}

// Compile builds one artifact per language. Each language works on its own
// copy of base, so no language can observe another's variables.
func (c *Compiler) Compile(raw string, base Vars, langs []string, packs map[string]*lang.Pack, render PerLang) (map[string]*Artifact, error) {
	out := make(map[string]*Artifact, len(langs))
	for _, code := range langs {
		p, ok := packs[code]
		if !ok {
			return nil, xerrors.Kindf(xerrors.ErrRender, nil, "no language pack for %s", code)
		}
		a, err := c.compileLang(raw, base, code, p, render)
		if err != nil {
			return nil, xerrors.Wrapf(err, "compile index template for %s", code)
		}
		out[code] = a
	}
	return out, nil
}

func (c *Compiler) compileLang(raw string, base Vars, code string, p *lang.Pack, render PerLang) (*Artifact, error) {
	vars := maps.Clone(base)
	if vars == nil {
		vars = Vars{}
	}
	vars["lang"] = code
	maps.Copy(vars, p.Tmpl)
	maps.Copy(vars, p.Common)

	if render != nil {
		schedule, options, err := render(vars, p)
		if err != nil {
			return nil, err
		}
		vars["schedule_modal"] = schedule
		vars["options_panel"] = options
	}

	segs, gaps := Split(raw)
	for i, s := range segs {
		e, err := Expand(s, vars)
		if err != nil {
			return nil, err
		}
		segs[i] = e
	}
	return &Artifact{
		Lang:     code,
		Segments: segs,
		Gaps:     gaps,
		Hash:     assethash.Short(c.hasher.HashString(join(segs, gaps))),
	}, nil
}

// BaseVars assembles the language-independent variables: hot values, the
// static config on top (static keys win), and the generated navigation, FAQ
// and banner.
func BaseVars(hot *hotconfig.HotConfig, site *siteconfig.Config) (Vars, error) {
	vars := Vars(hot.Vars())
	maps.Copy(vars, site.Raw)

	vars["NAVTOP"] = fragments.Navigation(site.Boards, site.StaffBoard, site.PseudoBoards)

	faq, err := listVar(vars, "FAQ")
	if err != nil {
		return nil, err
	}
	html, ok, err := fragments.FAQ(faq)
	if err != nil {
		return nil, err
	}
	if !ok {
		html = ""
	}
	vars["FAQ"] = html

	switch info := vars["BANNERINFO"].(type) {
	case nil:
		vars["BANNERINFO"] = ""
	case string:
		vars["BANNERINFO"] = fragments.Banner(info)
	default:
		return nil, xerrors.Kindf(xerrors.ErrRender, nil, "BANNERINFO is %T, want string", info)
	}
	return vars, nil
}

// Fragments returns the PerLang renderer for site: the schedule from the
// SCHEDULE variable and the options panel from the site's descriptors.
func Fragments(site *siteconfig.Config, pick fragments.Picker) PerLang {
	return func(vars Vars, p *lang.Pack) (string, string, error) {
		entries, err := listVar(vars, "SCHEDULE")
		if err != nil {
			return "", "", err
		}
		schedule, err := fragments.Schedule(entries, p.ShowSeconds, pick)
		if err != nil {
			return "", "", err
		}
		options, err := fragments.Options(site.Options, site.Loaded, p)
		if err != nil {
			return "", "", err
		}
		return schedule, options, nil
	}
}

// listVar returns vars[key] as a list; absent and null read as empty.
func listVar(vars Vars, key string) ([]any, error) {
	switch v := vars[key].(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return nil, xerrors.Kindf(xerrors.ErrRender, nil, "%s is %T, want a list", key, v)
	}
}
