package fragments

import (
	"fmt"
	"strings"

	"github.com/keithlinneman/boardstate/internal/lang"
	"github.com/keithlinneman/boardstate/internal/siteconfig"
)

// extraLinks are appended to the first options pane.
var extraLinks = []string{"export", "import", "hidden"}

// LoadFunc decides whether an option is rendered.
type LoadFunc func(siteconfig.Option) bool

// explicitLoad honours only the descriptor's own load flag.
func explicitLoad(o siteconfig.Option) bool { return o.Load == nil || *o.Load }

// Options renders the localized options panel: one tab button and one pane
// per tab, the first of each selected.
func Options(opts []siteconfig.Option, load LoadFunc, p *lang.Pack) (string, error) {
	if p == nil {
		return "", renderErr("options panel: no language pack")
	}
	if load == nil {
		load = explicitLoad
	}
	tabs := p.Opts.Tabs

	panes := make([][]siteconfig.Option, len(tabs))
	for _, o := range opts {
		// unloaded options are never rendered, so their tab is not checked
		if !load(o) {
			continue
		}
		if o.Tab < 0 || o.Tab >= len(tabs) {
			return "", renderErr("option %q: tab %d outside %d tabs", o.ID, o.Tab, len(tabs))
		}
		panes[o.Tab] = append(panes[o.Tab], o)
	}

	var b strings.Builder
	b.WriteString(`<div class="bmodal" id="options-panel"><ul class="option_tab_sel">`)
	for i, tab := range tabs {
		fmt.Fprintf(&b, `<li><a data-content="tab-%d"`, i)
		if i == 0 {
			b.WriteString(` class="tab_sel"`)
		}
		b.WriteString(">" + tab + "</a></li>")
	}
	b.WriteString(`</ul><ul class="option_tab_cont">`)
	for i, pane := range panes {
		fmt.Fprintf(&b, `<li class="tab-%d`, i)
		if i == 0 {
			b.WriteString(" tab_sel")
		}
		b.WriteString(`">`)
		for _, o := range pane {
			s, err := renderOption(o, p)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
		if i == 0 {
			s, err := renderExtras(p)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
		b.WriteString("</li>")
	}
	b.WriteString("</ul></div>")
	return b.String(), nil
}

func optionLabel(o siteconfig.Option, p *lang.Pack) (lang.Pair, error) {
	if o.Lang != "" {
		if pair, ok := p.Format(o.Lang, o.ID); ok {
			return pair, nil
		}
		return lang.Pair{}, renderErr("option %q: no label format %q in %s", o.ID, o.Lang, p.Code)
	}
	if pair, ok := p.Label(o.ID); ok {
		return pair, nil
	}
	return lang.Pair{}, renderErr("option %q: no label in %s", o.ID, p.Code)
}

func renderOption(o siteconfig.Option, p *lang.Pack) (string, error) {
	pair, err := optionLabel(o, p)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if o.Type.List {
		b.WriteString("<select")
	} else {
		switch o.Type.Name {
		case "", "checkbox":
			b.WriteString(`<input type="checkbox"`)
		case "image":
			b.WriteString(`<input type="file"`)
		case "number":
			b.WriteString(`<input style="width: 4em;" maxlength="4"`)
		case "shortcut":
			b.WriteString(`Alt+<input maxlength="1"`)
		default:
			return "", renderErr("option %q: unknown type %q", o.ID, o.Type.Name)
		}
	}
	fmt.Fprintf(&b, ` id="%s" title="%s">`, o.ID, pair.Title())

	if o.Type.List {
		for _, item := range o.Type.Items {
			fmt.Fprintf(&b, `<option value="%s">%s</option>`, item, p.Item(item))
		}
		b.WriteString("</select>")
	}
	fmt.Fprintf(&b, `<label for="%s" title="%s">%s</label><br>`, o.ID, pair.Title(), pair.Label())
	return b.String(), nil
}

func renderExtras(p *lang.Pack) (string, error) {
	var b strings.Builder
	b.WriteString("<br>")
	for _, id := range extraLinks {
		pair, ok := p.Label(id)
		if !ok {
			return "", renderErr("options panel: no label for %q in %s", id, p.Code)
		}
		fmt.Fprintf(&b, `<a id="%s" title="%s">%s</a> `, id, pair.Title(), pair.Label())
	}
	b.WriteString(`<input type="file" style="display: none;" id="importSettings" name="Import Settings"></input>`)
	return b.String(), nil
}
