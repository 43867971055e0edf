package generate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/tobsdb/tdb/internal/builder"
)

// languages maps every accepted language name and alias to its generator.
var languages = map[string]string{
	"json":       "json",
	"typescript": "typescript",
	"ts":         "typescript",
	"rust":       "rust",
	"rs":         "rust",
	"go":         "go",
	"golang":     "go",
}

// Language resolves a language name or one of its aliases.
func Language(lang string) (string, error) {
	name, ok := languages[strings.ToLower(lang)]
	if !ok {
		return "", fmt.Errorf("Unsupported Language: %s", lang)
	}
	return name, nil
}

// LanguageNames lists the generators with their aliases, e.g. "rust (rs)".
func LanguageNames() string {
	aliases := map[string][]string{}
	for alias, name := range languages {
		if alias != name {
			aliases[name] = append(aliases[name], alias)
		}
	}
	names := []string{}
	for name := range aliases {
		names = append(names, name)
	}
	if _, ok := aliases["json"]; !ok {
		names = append(names, "json")
	}
	slices.Sort(names)
	for i, name := range names {
		if a := aliases[name]; len(a) > 0 {
			slices.Sort(a)
			names[i] = fmt.Sprintf("%s (%s)", name, strings.Join(a, ", "))
		}
	}
	return strings.Join(names, ", ")
}

func SchemaToLang(tables []*builder.Table, lang string) ([]byte, error) {
	name, err := Language(lang)
	if err != nil {
		return nil, err
	}
	s := schemaDestructure(tables)
	switch name {
	case "typescript":
		return SchemaToTypescript(s), nil
	case "rust":
		return SchemaToRust(s), nil
	case "go":
		return SchemaToGo(s), nil
	default:
		return SchemaToJson(s)
	}
}

func SchemaToJson(s []ParsedTable) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
