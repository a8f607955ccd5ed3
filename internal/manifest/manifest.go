// Package manifest reads the files a package declares itself with:
// dbt_project.yml for its name and version constraints, and packages.yml
// or dependencies.yml for the packages it depends on.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pkghub/hubcap/internal/domain"
)

// File names looked up in a package working tree
const (
	ProjectFile      = "dbt_project.yml"
	PackagesFile     = "packages.yml"
	DependenciesFile = "dependencies.yml"
)

// Project is the subset of dbt_project.yml the hub needs
type Project struct {
	Name              string
	Profile           string
	RequireDbtVersion domain.VersionConstraint
}

type rawProject struct {
	Name              string    `yaml:"name"`
	Profile           string    `yaml:"profile"`
	RequireDbtVersion yaml.Node `yaml:"require-dbt-version"`
}

// HasProject reports whether dir contains a project manifest
func HasProject(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ProjectFile))
	return err == nil && !info.IsDir()
}

// LoadProject parses dir's project manifest. A missing file, unparseable
// YAML or a missing name is a package error.
func LoadProject(dir string) (*Project, error) {
	path := filepath.Join(dir, ProjectFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.Errorf(domain.KindPackage, "load project", "%s not found in %s", ProjectFile, dir)
		}
		return nil, domain.E(domain.KindPackage, "load project", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, domain.Errorf(domain.KindPackage, "load project", "empty or invalid %s in %s", ProjectFile, dir)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, domain.Errorf(domain.KindPackage, "load project", "invalid YAML in %s: %w", path, err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, domain.Errorf(domain.KindPackage, "load project", "empty or invalid %s in %s", ProjectFile, dir)
	}

	var raw rawProject
	if err := doc.Decode(&raw); err != nil {
		return nil, domain.Errorf(domain.KindPackage, "load project", "invalid YAML in %s: %w", path, err)
	}
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return nil, domain.Errorf(domain.KindPackage, "load project", "no 'name' field in %s", path)
	}

	require, err := constraint(&raw.RequireDbtVersion)
	if err != nil {
		return nil, domain.Errorf(domain.KindPackage, "load project", "require-dbt-version in %s: %w", path, err)
	}

	return &Project{Name: name, Profile: raw.Profile, RequireDbtVersion: require}, nil
}

// constraint accepts a scalar, a list or nothing. Empty values become an
// empty list.
func constraint(n *yaml.Node) (domain.VersionConstraint, error) {
	switch n.Kind {
	case 0:
		return domain.ListConstraint(), nil
	case yaml.ScalarNode:
		if n.Tag == "!!null" || n.Value == "" {
			return domain.ListConstraint(), nil
		}
		return domain.ScalarConstraint(n.Value), nil
	case yaml.SequenceNode:
		var vs []string
		if err := n.Decode(&vs); err != nil {
			return domain.VersionConstraint{}, err
		}
		return domain.ListConstraint(vs...), nil
	default:
		return domain.VersionConstraint{}, fmt.Errorf("expected a string or a list, line %d", n.Line)
	}
}

// LoadPackages returns the dependency entries declared in dir, with keys
// in their declared order. packages.yml wins over dependencies.yml. A
// missing, empty or unparseable file yields no entries.
func LoadPackages(dir string, logger *slog.Logger) []json.RawMessage {
	if logger == nil {
		logger = slog.Default()
	}
	for _, name := range []string{PackagesFile, DependenciesFile} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			logger.Warn("cannot read dependency file", "path", path, "error", err)
			return []json.RawMessage{}
		}
		pkgs, err := parsePackages(data)
		if err != nil {
			logger.Warn("ignoring invalid dependency file", "path", path, "error", err)
			return []json.RawMessage{}
		}
		return pkgs
	}
	return []json.RawMessage{}
}

func parsePackages(data []byte) ([]json.RawMessage, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := []json.RawMessage{}
	if len(doc.Content) == 0 {
		return out, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping at the top level")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "packages" {
			continue
		}
		list := root.Content[i+1]
		if list.Kind == yaml.ScalarNode && list.Tag == "!!null" {
			return out, nil
		}
		if list.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("'packages' must be a list")
		}
		for _, item := range list.Content {
			raw, err := nodeJSON(item)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
		}
	}
	return out, nil
}

// nodeJSON renders a YAML node as JSON, keeping mapping key order
func nodeJSON(n *yaml.Node) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := writeNode(&buf, n); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}

func writeNode(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeNode(buf, n.Content[0])
	case yaml.AliasNode:
		return writeNode(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeScalar(buf, n.Content[i].Value); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeNode(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNode(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.ScalarNode:
		if (n.Tag == "!!int" || n.Tag == "!!float") && json.Valid([]byte(n.Value)) {
			buf.WriteString(n.Value)
			return nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return err
		}
		return writeScalar(buf, v)
	default:
		return fmt.Errorf("unsupported YAML node at line %d", n.Line)
	}
}

func writeScalar(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Truncate(buf.Len() - 1)
	return nil
}
