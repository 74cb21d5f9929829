// Package siteconfig loads the static site configuration. It is read once at
// startup; hot values live in package hotconfig.
package siteconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// langCodeRe limits language codes to something safe to join into paths.
var langCodeRe = regexp.MustCompile(`^[a-z]{2}(_[A-Z]{2})?$`)

// clientKeys is the whitelist of static keys exposed to browser clients.
var clientKeys = []string{
	"USE_WEBSOCKETS", "SOCKET_PATH", "SOCKET_URL", "DEBUG", "READ_ONLY",
	"IP_TAGGING", "RADIO", "PYU", "BOARDS", "LANGS", "DEFAULT_LANG",
	"READ_ONLY_BOARDS", "WEBM", "UPLOAD_URL", "MEDIA_URL",
	"SECONDARY_MEDIA_URL", "THUMB_DIMENSIONS", "PINKY_DIMENSIONS",
	"SPOILER_IMAGES", "IMAGE_HATS", "ASSETS_DIR", "RECAPTCHA_PUBLIC_KEY",
	"LOGIN_KEYWORD", "STAFF_BOARD",
}

// PseudoBoard is an extra navigation entry pointing at an arbitrary URL.
type PseudoBoard struct {
	Label string
	URL   string
}

func (p *PseudoBoard) UnmarshalYAML(n *yaml.Node) error {
	var pair []string
	if err := n.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("line %d: pseudo board must be [label, url], got %d items", n.Line, len(pair))
	}
	p.Label, p.URL = pair[0], pair[1]
	return nil
}

// OptionType is either a named input kind ("checkbox", "number", ...) or a
// list of literal values rendered as a select box.
type OptionType struct {
	Name  string
	Items []string
	List  bool
}

func (t *OptionType) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Decode(&t.Name)
	case yaml.SequenceNode:
		t.List = true
		return n.Decode(&t.Items)
	default:
		return fmt.Errorf("line %d: option type must be a string or a list", n.Line)
	}
}

// Option describes one entry of the client options panel.
type Option struct {
	ID     string     `yaml:"id"`
	Tab    int        `yaml:"tab"`
	Type   OptionType `yaml:"type"`
	Lang   string     `yaml:"lang"`
	Load   *bool      `yaml:"load"`
	LoadIf string     `yaml:"load_if"`
}

// Config is the typed view of config.yaml. Raw keeps every key, since all of
// them are available to the index template.
type Config struct {
	Boards       []string      `yaml:"BOARDS"`
	Langs        []string      `yaml:"LANGS"`
	DefaultLang  string        `yaml:"DEFAULT_LANG"`
	StaffBoard   string        `yaml:"STAFF_BOARD"`
	PseudoBoards []PseudoBoard `yaml:"PSEUDO_BOARDS"`
	Options      []Option      `yaml:"OPTIONS"`

	Raw map[string]any `yaml:"-"`

	client map[string]any
}

// Load reads and validates the static config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Kindf(xerrors.ErrRead, err, "read site config %s", path)
	}
	return Parse(b)
}

// Parse decodes config bytes. Used by Load and by tests.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, xerrors.Kind(xerrors.ErrConfigFormat, err, "decode site config")
	}
	raw := map[string]any{}
	if err := yaml.NewDecoder(bytes.NewReader(b)).Decode(&raw); err != nil {
		return nil, xerrors.Kind(xerrors.ErrConfigFormat, err, "decode site config")
	}
	c.Raw = raw
	if err := c.Validate(); err != nil {
		return nil, xerrors.Kind(xerrors.ErrConfigFormat, err, "invalid site config")
	}
	c.client = pick(raw, clientKeys)
	return &c, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Langs) == 0 {
		errs = append(errs, errors.New("LANGS must not be empty"))
	}
	for _, l := range c.Langs {
		if !langCodeRe.MatchString(l) {
			errs = append(errs, fmt.Errorf("invalid language code %q", l))
		}
	}
	if c.DefaultLang == "" {
		errs = append(errs, errors.New("DEFAULT_LANG is required"))
	} else if !slices.Contains(c.Langs, c.DefaultLang) {
		errs = append(errs, fmt.Errorf("DEFAULT_LANG %q not in LANGS", c.DefaultLang))
	}
	seen := map[string]bool{}
	for i, o := range c.Options {
		if o.ID == "" {
			errs = append(errs, fmt.Errorf("OPTIONS[%d]: id is required", i))
			continue
		}
		if seen[o.ID] {
			errs = append(errs, fmt.Errorf("OPTIONS[%d]: duplicate id %q", i, o.ID))
		}
		seen[o.ID] = true
		if o.Load != nil && o.LoadIf != "" {
			errs = append(errs, fmt.Errorf("OPTIONS[%d]: load and load_if are exclusive", i))
		}
	}
	return errors.Join(errs...)
}

// ClientConfig is the whitelisted projection handed to browser clients.
// Missing keys are omitted. The map is shared; callers must not modify it.
func (c *Config) ClientConfig() map[string]any { return c.client }

// Loaded reports whether o should be rendered: an explicit load wins, then
// the truthiness of the load_if key, and options load by default.
func (c *Config) Loaded(o Option) bool {
	if o.Load != nil {
		return *o.Load
	}
	if o.LoadIf != "" {
		return Truthy(c.Raw[o.LoadIf])
	}
	return true
}

// Truthy mirrors the loose truthiness config authors expect: nil, false,
// zero, the empty string and empty collections are false.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

func pick(src map[string]any, keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := src[k]; ok {
			out[k] = v
		}
	}
	return out
}
