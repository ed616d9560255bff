package config

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"gopkg.in/yaml.v3"
)

// AddRules appends values to rules, classifying each one. Values already
// present are skipped. It returns the new list and the rules that were added.
func AddRules(rules []models.Rule, values ...string) (updated, added []models.Rule) {
	updated = slices.Clone(rules)
	for _, v := range values {
		r := models.ClassifyRule(v)
		if slices.Contains(updated, r) {
			continue
		}
		updated = append(updated, r)
		added = append(added, r)
	}
	return updated, added
}

// RemoveRules drops every rule whose value matches one of values, either
// verbatim or after resolving it to an absolute path.
func RemoveRules(rules []models.Rule, values ...string) (updated, removed []models.Rule) {
	drop := make(map[string]bool, 2*len(values))
	for _, v := range values {
		drop[v] = true
		if abs, err := filepath.Abs(v); err == nil {
			drop[abs] = true
		}
	}
	for _, r := range rules {
		if drop[r.Value] {
			removed = append(removed, r)
			continue
		}
		updated = append(updated, r)
	}
	return updated, removed
}

// SaveRules rewrites the includes and excludes sections of the config file
// at path. Other sections and comments are preserved.
func SaveRules(path string, rules models.RuleSet) error {
	info, err := os.Stat(path)
	if err != nil {
		return models.ConfigError("reading config file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ConfigError("reading config file: %v", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return models.ConfigError("parsing config file: %v", err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return models.ConfigError("config file %s is not a mapping", path)
	}

	setKey(root, "includes", rulesNode(rules.Includes))
	setKey(root, "excludes", rulesNode(rules.Excludes))

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func rulesNode(rules []models.Rule) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, kind := range []models.RuleKind{models.RuleDirectoryPrefix, models.RuleLiteral, models.RuleGlob} {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, r := range rules {
			if r.Kind == kind {
				seq.Content = append(seq.Content, strNode(r.Value))
			}
		}
		node.Content = append(node.Content, strNode(kind.String()), seq)
	}
	return node
}

func setKey(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content, strNode(key), value)
}

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}
