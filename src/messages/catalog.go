// Package messages holds the localized chat strings.
package messages

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var locales embed.FS

// FallbackLanguage is used for languages and keys that are missing
const FallbackLanguage = "en"

// Catalog maps language -> message key -> template.
// Templates use {name} placeholders.
type Catalog struct {
	langs       map[string]map[string]string
	defaultLang string
}

// Load parses every embedded locale
func Load(defaultLang string) (*Catalog, error) {
	entries, err := locales.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("failed to read locales: %w", err)
	}

	c := &Catalog{langs: make(map[string]map[string]string), defaultLang: defaultLang}
	for _, e := range entries {
		data, err := locales.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read locale %s: %w", e.Name(), err)
		}
		msgs := make(map[string]string)
		if err := yaml.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("failed to parse locale %s: %w", e.Name(), err)
		}
		c.langs[strings.TrimSuffix(e.Name(), path.Ext(e.Name()))] = msgs
	}

	if _, ok := c.langs[FallbackLanguage]; !ok {
		return nil, fmt.Errorf("fallback locale %q is missing", FallbackLanguage)
	}
	if _, ok := c.langs[defaultLang]; !ok {
		c.defaultLang = FallbackLanguage
	}
	return c, nil
}

// MustLoad is Load for package initialization and tests
func MustLoad(defaultLang string) *Catalog {
	c, err := Load(defaultLang)
	if err != nil {
		panic(err)
	}
	return c
}

// Languages returns the available language codes
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.langs))
	for l := range c.langs {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Resolve picks the catalog language for a client language code such as "en-US"
func (c *Catalog) Resolve(code string) string {
	code = strings.ToLower(code)
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if _, ok := c.langs[code]; ok {
		return code
	}
	return c.defaultLang
}

// Get returns the message in lang, falling back to English.
// args are name/value pairs substituted into {name} placeholders.
func (c *Catalog) Get(lang, key string, args ...string) string {
	tmpl, ok := c.langs[lang][key]
	if !ok {
		tmpl, ok = c.langs[FallbackLanguage][key]
	}
	if !ok {
		return fmt.Sprintf("Message '%s' not found", key)
	}
	if len(args) < 2 {
		return tmpl
	}

	pairs := make([]string, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, "{"+args[i]+"}", args[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Keys returns the message keys defined for lang
func (c *Catalog) Keys(lang string) []string {
	out := make([]string, 0, len(c.langs[lang]))
	for k := range c.langs[lang] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
