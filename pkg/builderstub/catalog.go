package builderstub

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rahl/studio/pkg/buildclient"
)

//go:embed templates.yaml
var defaultTemplates []byte

const defaultAppType = "webview"

type templateEntry struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Icon        string   `yaml:"icon"`
	Complexity  string   `yaml:"complexity"`
	Keywords    []string `yaml:"keywords"`
}

// Catalog is the ordered set of app templates the stub can "build".
type Catalog struct {
	entries []templateEntry
}

// DefaultCatalog parses the embedded template list.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultTemplates)
}

// ParseCatalog reads a YAML template list.
func ParseCatalog(data []byte) (*Catalog, error) {
	var entries []templateEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Key == "" {
			return nil, fmt.Errorf("parse template catalog: template %q has no key", e.Name)
		}
		if seen[e.Key] {
			return nil, fmt.Errorf("parse template catalog: duplicate key %q", e.Key)
		}
		seen[e.Key] = true
	}
	return &Catalog{entries: entries}, nil
}

// Wire renders the catalog in the shape served by /api/templates.
func (c *Catalog) Wire() buildclient.TemplateCatalog {
	out := buildclient.TemplateCatalog{Templates: make(map[string]buildclient.Template, len(c.entries))}
	for _, e := range c.entries {
		out.Templates[e.Key] = e.template()
	}
	out.Count = len(out.Templates)
	return out
}

// Lookup returns the template stored under key.
func (c *Catalog) Lookup(key string) (buildclient.Template, bool) {
	for _, e := range c.entries {
		if e.Key == key {
			return e.template(), true
		}
	}
	return buildclient.Template{}, false
}

func (e templateEntry) template() buildclient.Template {
	return buildclient.Template{
		Name:        e.Name,
		Description: e.Description,
		Icon:        e.Icon,
		Complexity:  e.Complexity,
	}
}

var featureKeywords = []struct {
	feature  string
	keywords []string
}{
	{"dark_mode", []string{"dark"}},
	{"notifications", []string{"notification"}},
	{"database", []string{"database", "store", "save"}},
	{"sharing", []string{"share"}},
	{"authentication", []string{"login", "sign in"}},
}

// Analyze picks an app type and feature flags by keyword matching. It is a
// contract stand-in, not language understanding.
func (c *Catalog) Analyze(description string) buildclient.Analysis {
	lower := strings.ToLower(description)

	appType := defaultAppType
	for _, e := range c.entries {
		for _, kw := range e.Keywords {
			if strings.Contains(lower, kw) {
				appType = e.Key
				break
			}
		}
	}

	features := []string{}
	for _, f := range featureKeywords {
		for _, kw := range f.keywords {
			if strings.Contains(lower, kw) {
				features = append(features, f.feature)
				break
			}
		}
	}

	return buildclient.Analysis{
		AppType:          appType,
		Features:         features,
		PackageName:      packageName(lower),
		DetectedFeatures: len(features),
	}
}

func packageName(lower string) string {
	words := strings.Fields(lower)
	if len(words) > 3 {
		words = words[:3]
	}
	name := "com.rahl." + strings.Join(words, ".")
	if runes := []rune(name); len(runes) > 50 {
		name = string(runes[:50])
	}
	return name
}
