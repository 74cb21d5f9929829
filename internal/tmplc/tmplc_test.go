package tmplc

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/keithlinneman/boardstate/internal/assethash"
	"github.com/keithlinneman/boardstate/internal/hotconfig"
	"github.com/keithlinneman/boardstate/internal/lang"
	"github.com/keithlinneman/boardstate/internal/siteconfig"
	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// expand / split

func TestExpand(t *testing.T) {
	vars := Vars{
		"title": "Board",
		"n":     10.0,
		"on":    true,
		"none":  nil,
		"list":  []any{"a", "b"},
		"lang":  "en_GB",
		"nest":  map[string]any{"inner": map[string]any{"x": "deep"}},
	}
	got, err := Expand(`<{{title}}|{{ n }}|{{on}}|{{ none }}|{{list}}|{{ nest.inner.x }}|{{lang}}>`, vars)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if want := "<Board|10|true||a,b|deep|en_GB>"; got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
}

func TestExpand_NotRescanned(t *testing.T) {
	got, err := Expand("{{a}}", Vars{"a": "{{b}}"})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got != "{{b}}" {
		t.Fatalf("Expand = %q", got)
	}
}

func TestExpand_Undefined(t *testing.T) {
	for _, src := range []string{"{{ missing }}", "{{ nest.nope }}", "{{ title.x }}"} {
		_, err := Expand(src, Vars{"title": "t", "nest": map[string]any{}})
		if !errors.Is(err, xerrors.ErrRender) {
			t.Fatalf("%s: want ErrRender, got %v", src, err)
		}
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		segments []string
		gaps     []string
	}{
		{"no markers", "plain", []string{"plain"}, []string{}},
		{"two markers", "a$AAAb$BBBc", []string{"a", "b", "c"}, []string{"AAA", "BBB"}},
		{"edges", "$START mid $END", []string{"", " mid ", ""}, []string{"START", "END"}},
		{"repeated", "x$A y$A", []string{"x", " y", ""}, []string{"A", "A"}},
		{"lowercase ignored", "cost $5 and $abc", []string{"cost $5 and $abc"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs, gaps := Split(tt.in)
			if diff := cmp.Diff(tt.segments, segs); diff != "" {
				t.Fatalf("segments (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.gaps, gaps); diff != "" {
				t.Fatalf("gaps (-want +got):\n%s", diff)
			}
			if len(segs) != len(gaps)+1 {
				t.Fatalf("len(segments)=%d len(gaps)=%d", len(segs), len(gaps))
			}
		})
	}
}

// compile

func packs() map[string]*lang.Pack {
	return map[string]*lang.Pack{
		"en_GB": {Code: "en_GB", Tmpl: map[string]any{"greeting": "Hello"}, Common: map[string]any{"reply": "Reply"}},
		"pt_BR": {Code: "pt_BR", Tmpl: map[string]any{"greeting": "Olá", "only_pt": "sim"}, Common: map[string]any{"reply": "Responder"}},
	}
}

func TestCompile_TwoMarkersThreeSegments(t *testing.T) {
	c := New(nil)
	arts, err := c.Compile("<p>{{greeting}}</p>$AAA<i>{{reply}}</i>$BBB</html>", Vars{}, []string{"en_GB"}, packs(), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	a := arts["en_GB"]
	want := []string{"<p>Hello</p>", "<i>Reply</i>", "</html>"}
	if diff := cmp.Diff(want, a.Segments); diff != "" {
		t.Fatalf("segments (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"AAA", "BBB"}, a.Gaps); diff != "" {
		t.Fatalf("gaps (-want +got):\n%s", diff)
	}
	expanded := "<p>Hello</p>$AAA<i>Reply</i>$BBB</html>"
	if a.Hash != assethash.Short((&assethash.Hasher{}).HashString(expanded)) {
		t.Fatalf("Hash = %s", a.Hash)
	}
	if len(a.Hash) != assethash.ShortLen {
		t.Fatalf("len(Hash) = %d", len(a.Hash))
	}
}

func TestCompile_MarkersInValuesStayLiteral(t *testing.T) {
	base := Vars{"FAQ": "<li>prices in $USD only</li>", "BANNERINFO": "$HACK"}
	arts, err := New(nil).Compile("<p>{{ FAQ }}</p>$AAA<div>{{BANNERINFO}}</div>$BBB", base, []string{"en_GB"}, packs(), nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	a := arts["en_GB"]
	want := []string{"<p><li>prices in $USD only</li></p>", "<div>$HACK</div>", ""}
	if diff := cmp.Diff(want, a.Segments); diff != "" {
		t.Fatalf("segments (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"AAA", "BBB"}, a.Gaps); diff != "" {
		t.Fatalf("gaps (-want +got):\n%s", diff)
	}
}

func TestCompile_LanguagesIndependent(t *testing.T) {
	c := New(nil)
	tmpl := "{{lang}} {{greeting}}"

	alone, err := c.Compile(tmpl, Vars{}, []string{"en_GB"}, packs(), nil)
	if err != nil {
		t.Fatal(err)
	}
	both, err := c.Compile(tmpl, Vars{}, []string{"pt_BR", "en_GB"}, packs(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(alone["en_GB"], both["en_GB"]); diff != "" {
		t.Fatalf("en_GB changed by compiling pt_BR first (-alone +both):\n%s", diff)
	}

	// only_pt exists in pt_BR's pack; it must not be visible to en_GB
	_, err = c.Compile("{{only_pt}}", Vars{}, []string{"pt_BR", "en_GB"}, packs(), nil)
	if !errors.Is(err, xerrors.ErrRender) {
		t.Fatalf("want ErrRender for en_GB, got %v", err)
	}
}

func TestCompile_BaseNotMutated(t *testing.T) {
	base := Vars{"x": "1"}
	_, err := New(nil).Compile("{{x}}", base, []string{"en_GB", "pt_BR"}, packs(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(base) != 1 {
		t.Fatalf("base mutated: %v", base)
	}
}

func TestCompile_PackOverridesBase(t *testing.T) {
	arts, err := New(nil).Compile("{{greeting}}", Vars{"greeting": "base"}, []string{"en_GB"}, packs(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if arts["en_GB"].Segments[0] != "Hello" {
		t.Fatalf("got %q", arts["en_GB"].Segments[0])
	}
}

func TestCompile_MissingPack(t *testing.T) {
	_, err := New(nil).Compile("x", Vars{}, []string{"de_DE"}, packs(), nil)
	if !errors.Is(err, xerrors.ErrRender) {
		t.Fatalf("want ErrRender, got %v", err)
	}
}

func TestCompile_PerLangFragments(t *testing.T) {
	render := func(vars Vars, p *lang.Pack) (string, string, error) {
		return "sched-" + p.Code, "opts-" + vars["lang"].(string), nil
	}
	arts, err := New(nil).Compile("{{schedule_modal}}|{{options_panel}}", Vars{}, []string{"pt_BR"}, packs(), render)
	if err != nil {
		t.Fatal(err)
	}
	if got := arts["pt_BR"].Segments[0]; got != "sched-pt_BR|opts-pt_BR" {
		t.Fatalf("got %q", got)
	}

	failing := func(Vars, *lang.Pack) (string, string, error) {
		return "", "", xerrors.Kindf(xerrors.ErrRender, nil, "boom")
	}
	if _, err := New(nil).Compile("x", Vars{}, []string{"en_GB"}, packs(), failing); !errors.Is(err, xerrors.ErrRender) {
		t.Fatalf("want ErrRender, got %v", err)
	}
}

// base vars

func testSite(t *testing.T) *siteconfig.Config {
	t.Helper()
	site, err := siteconfig.Parse([]byte(`
BOARDS: [a, staff]
LANGS: [en_GB]
DEFAULT_LANG: en_GB
STAFF_BOARD: staff
DEFAULT_CSS: static-wins
OPTIONS:
  - id: imgSearch
    tab: 0
`))
	if err != nil {
		t.Fatalf("siteconfig.Parse: %v", err)
	}
	return site
}

func testHot(t *testing.T, values map[string]any) *hotconfig.HotConfig {
	t.Helper()
	m, err := hotconfig.NewMerger("hot.hcl", map[string]any{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	hc, err := m.Build(values)
	if err != nil {
		t.Fatal(err)
	}
	return hc.WithAssetHashes(hotconfig.AssetHashes{Vendor: "v1", CSS: "c1", Client: "k1"})
}

func TestBaseVars(t *testing.T) {
	hot := testHot(t, map[string]any{
		"DEFAULT_CSS": "hot-loses",
		"FAQ":         []any{"q1"},
		"BANNERINFO":  "hi",
	})
	vars, err := BaseVars(hot, testSite(t))
	if err != nil {
		t.Fatalf("BaseVars: %v", err)
	}
	if vars["DEFAULT_CSS"] != "static-wins" {
		t.Fatalf("DEFAULT_CSS = %v", vars["DEFAULT_CSS"])
	}
	if vars["FAQ"] != "<ul><li>q1</li></ul>" {
		t.Fatalf("FAQ = %v", vars["FAQ"])
	}
	if vars["BANNERINFO"] != "&nbsp;&nbsp;[hi]" {
		t.Fatalf("BANNERINFO = %v", vars["BANNERINFO"])
	}
	if !strings.Contains(vars["NAVTOP"].(string), `href="../a/"`) || strings.Contains(vars["NAVTOP"].(string), "staff") {
		t.Fatalf("NAVTOP = %v", vars["NAVTOP"])
	}
	if vars[assethash.VendorGroup] != "v1" || vars[hotconfig.KeyClientConfigHash] != hot.ConfigHash() {
		t.Fatalf("hash vars missing: %v", vars)
	}
}

func TestBaseVars_EmptyFAQAndBanner(t *testing.T) {
	vars, err := BaseVars(testHot(t, map[string]any{"FAQ": []any{}}), testSite(t))
	if err != nil {
		t.Fatalf("BaseVars: %v", err)
	}
	if vars["FAQ"] != "" || vars["BANNERINFO"] != "" {
		t.Fatalf("FAQ=%v BANNERINFO=%v", vars["FAQ"], vars["BANNERINFO"])
	}
}

func TestBaseVars_BadTypes(t *testing.T) {
	for _, values := range []map[string]any{
		{"FAQ": "not a list"},
		{"BANNERINFO": 3.0},
	} {
		if _, err := BaseVars(testHot(t, values), testSite(t)); !errors.Is(err, xerrors.ErrRender) {
			t.Fatalf("%v: want ErrRender, got %v", values, err)
		}
	}
}

func TestFragments(t *testing.T) {
	site := testSite(t)
	p := &lang.Pack{
		Code:        "en_GB",
		ShowSeconds: "secs",
		Opts: lang.Opts{
			Tabs: []string{"General"},
			Labels: map[string]lang.Pair{
				"imgSearch": {"Image search", "t"},
				"export":    {"E", "e"}, "import": {"I", "i"}, "hidden": {"H", "h"},
			},
		},
	}
	render := Fragments(site, func(c []string) string { return c[2] })

	sched, opts, err := render(Vars{"SCHEDULE": []any{"Mon", nil, nil}}, p)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(sched, "tea & keiki") || !strings.Contains(sched, `title="secs"`) {
		t.Fatalf("schedule = %s", sched)
	}
	if !strings.Contains(opts, `id="imgSearch"`) {
		t.Fatalf("options = %s", opts)
	}

	if _, _, err := render(Vars{"SCHEDULE": "Mon"}, p); !errors.Is(err, xerrors.ErrRender) {
		t.Fatalf("want ErrRender, got %v", err)
	}
}
