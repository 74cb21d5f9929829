// Package fragments renders the generated HTML pieces spliced into the index
// template. Every renderer is pure: it either returns complete markup or a
// render error, never a partial fragment.
package fragments

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/keithlinneman/boardstate/internal/siteconfig"
	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// Fillers stand in for empty schedule plans.
var Fillers = []string{"drink & fap", "fap & drink", "tea & keiki"}

// Picker chooses one of the candidates.
type Picker func(candidates []string) string

// RandomPick is the default Picker.
func RandomPick(c []string) string { return c[rand.IntN(len(c))] }

func renderErr(format string, args ...any) error {
	return xerrors.Kindf(xerrors.ErrRender, nil, format, args...)
}

// Navigation renders the board bar. The staff board is hidden and pseudo
// boards always follow the real ones.
func Navigation(boards []string, staffBoard string, pseudo []siteconfig.PseudoBoard) string {
	entries := make([]string, 0, len(boards)+len(pseudo))
	for _, b := range boards {
		if b == staffBoard {
			continue
		}
		entries = append(entries, fmt.Sprintf(`<a href="../%s/" class="history">%s</a>`, b, b))
	}
	for _, p := range pseudo {
		entries = append(entries, fmt.Sprintf(`<a href="%s">%s</a>`, p.URL, p.Label))
	}
	return `<b id="navTop">[` + strings.Join(entries, " / ") + `]</b>`
}

// Schedule renders the flat (day, plan, time) list as a table. Empty plans
// get a filler chosen by pick and empty times read "all day".
func Schedule(entries []any, showSeconds string, pick Picker) (string, error) {
	if len(entries)%3 != 0 {
		return "", renderErr("schedule has %d entries, want (day, plan, time) triples", len(entries))
	}
	if pick == nil {
		pick = RandomPick
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<table><span id="UTCClock"><b title="%s"></b><hr></span>`, showSeconds)
	for i := 0; i < len(entries); i += 3 {
		var cell [3]string
		for j := range cell {
			s, err := scheduleCell(entries[i+j], i+j)
			if err != nil {
				return "", err
			}
			cell[j] = s
		}
		day, plan, at := cell[0], cell[1], cell[2]
		if plan == "" {
			plan = pick(Fillers)
		}
		if at == "" {
			at = "all day"
		}
		fmt.Fprintf(&b, `<tr><td><b>%s&nbsp;&nbsp;</b></td><td>%s&nbsp;&nbsp;</td><td>%s</td></tr>`, day, plan, at)
	}
	b.WriteString(`</table>`)
	return b.String(), nil
}

func scheduleCell(v any, idx int) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	default:
		return "", renderErr("schedule entry %d is %T, want string or null", idx, v)
	}
}

// FAQ renders items as a list. ok is false when there is nothing to show and
// the section should be omitted.
func FAQ(items []any) (html string, ok bool, err error) {
	if len(items) == 0 {
		return "", false, nil
	}
	var b strings.Builder
	b.WriteString("<ul>")
	for i, it := range items {
		s, isStr := it.(string)
		if !isStr {
			return "", false, renderErr("FAQ item %d is %T, want string", i, it)
		}
		b.WriteString("<li>" + s + "</li>")
	}
	b.WriteString("</ul>")
	return b.String(), true, nil
}

// Banner formats the info banner; empty info renders nothing.
func Banner(info string) string {
	if info == "" {
		return ""
	}
	return "&nbsp;&nbsp;[" + info + "]"
}
