package tmplc

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/keithlinneman/boardstate/internal/xerrors"
)

var (
	interpRe = regexp.MustCompile(`\{\{(.+?)\}\}`)
	gapRe    = regexp.MustCompile(`\$[A-Z]+`)
)

// Expand replaces every {{ name }} in tmpl with the value of name in vars.
// Names may be dotted paths into nested maps. Substituted text is not
// scanned again.
func Expand(tmpl string, vars Vars) (string, error) {
	var firstErr error
	out := interpRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		if firstErr != nil {
			return ""
		}
		name := strings.TrimSpace(m[2 : len(m)-2])
		v, ok := lookup(vars, name)
		if !ok {
			firstErr = xerrors.Kindf(xerrors.ErrRender, nil, "undefined template variable %q", name)
			return ""
		}
		s, err := stringify(v)
		if err != nil {
			firstErr = xerrors.Kindf(xerrors.ErrRender, err, "template variable %q", name)
			return ""
		}
		return s
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func lookup(vars Vars, path string) (any, bool) {
	if v, ok := vars[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur any = map[string]any(vars)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// stringify renders scalars plainly, lists comma-joined and maps as JSON.
func stringify(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			s, err := stringify(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), nil
	case []string:
		return strings.Join(x, ","), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// Split cuts source markup at $MARKER placeholders. It always returns
// len(gaps)+1 segments, in source order.
func Split(src string) (segments, gaps []string) {
	idx := gapRe.FindAllStringIndex(src, -1)
	segments = make([]string, 0, len(idx)+1)
	gaps = make([]string, 0, len(idx))
	prev := 0
	for _, loc := range idx {
		segments = append(segments, src[prev:loc[0]])
		gaps = append(gaps, src[loc[0]+1:loc[1]])
		prev = loc[1]
	}
	segments = append(segments, src[prev:])
	return segments, gaps
}

// join is the inverse of Split.
func join(segments, gaps []string) string {
	var b strings.Builder
	for i, s := range segments {
		b.WriteString(s)
		if i < len(gaps) {
			b.WriteByte('$')
			b.WriteString(gaps[i])
		}
	}
	return b.String()
}
