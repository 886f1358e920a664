// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

// Package localization loads message tables and renders their templates.
//
// Templates use positional placeholders: "{0} has been granted {1}".
// Messages may carry rich-text tags such as <color=#ff8000> or <b>, which
// StripRichText removes for callers that cannot render them.
package localization

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Translations maps message keys to templates.
type Translations map[string]string

// Lookup returns the template for key.
func (t Translations) Lookup(key string) (string, bool) {
	if t == nil {
		return "", false
	}
	v, ok := t[key]
	return v, ok
}

// Keys returns the keys in sorted order.
func (t Translations) Keys() []string {
	return slices.Sorted(maps.Keys(t))
}

// Merge returns defaults overlaid with overrides.
func Merge(defaults, overrides Translations) Translations {
	out := make(Translations, len(defaults)+len(overrides))
	maps.Copy(out, defaults)
	maps.Copy(out, overrides)
	return out
}

var placeholder = regexp.MustCompile(`\{(\d+)\}`)

// Format substitutes {n} placeholders with args. Placeholders without a
// matching argument are left as they are.
func Format(template string, args ...any) string {
	if len(args) == 0 {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		i, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || i >= len(args) {
			return m
		}
		return fmt.Sprint(args[i])
	})
}

var richText = regexp.MustCompile(`</?(?i:b|i|u|s|color|size|mark|sprite|material|quad)(=[^>]*)?>`)

// StripRichText removes rich-text tags.
func StripRichText(s string) string {
	return richText.ReplaceAllString(s, "")
}

// Chain resolves keys against several tables in order.
type Chain []Translations

// Translate renders key from the first table that has it. A missing key
// renders as the key itself.
func (c Chain) Translate(key string, args ...any) string {
	for _, t := range c {
		if tmpl, ok := t.Lookup(key); ok {
			return Format(tmpl, args...)
		}
	}
	slog.Debug("missing translation", "key", key)
	return key
}

// Has reports whether any table in the chain has key.
func (c Chain) Has(key string) bool {
	for _, t := range c {
		if _, ok := t.Lookup(key); ok {
			return true
		}
	}
	return false
}

// Load reads a YAML translation file and fills in any keys it lacks from
// defaults. A missing file is created from defaults; a file missing keys is
// rewritten with them added.
func Load(path string, defaults Translations) (Translations, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if errors.Is(err, os.ErrNotExist) {
		if err := Save(path, defaults); err != nil {
			return nil, err
		}
		return Merge(defaults, nil), nil
	}
	if err != nil {
		return nil, oops.In("localization").Code("LOAD_FAILED").With("path", path).Wrap(err)
	}

	var loaded Translations
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, oops.In("localization").Code("PARSE_FAILED").With("path", path).Wrap(err)
	}
	merged := Merge(defaults, loaded)
	if len(merged) != len(loaded) {
		slog.Debug("adding missing translations", "path", path, "added", len(merged)-len(loaded))
		if err := Save(path, merged); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// Save writes t as YAML with sorted keys.
func Save(path string, t Translations) error {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range t.Keys() {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Value: t[k]},
		)
	}
	data, err := yaml.Marshal(node)
	if err != nil {
		return oops.In("localization").With("path", path).Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return oops.In("localization").Code("SAVE_FAILED").With("path", path).Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.In("localization").Code("SAVE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
