// Package maintainers loads the tracked package list: hub.json minus
// exclusions.json.
package maintainers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/pkghub/hubcap/internal/domain"
)

// Load reads hubPath and the optional exclusionsPath. Both files map a
// maintainer name to a list of repository names. Maintainers left without
// packages after exclusions are dropped.
func Load(hubPath, exclusionsPath string) ([]domain.PackageMaintainer, error) {
	hub, err := readListing(hubPath)
	if err != nil {
		return nil, err
	}

	excluded := map[string][]string{}
	if exclusionsPath != "" {
		excluded, err = readListing(exclusionsPath)
		if errors.Is(err, fs.ErrNotExist) {
			excluded = map[string][]string{}
		} else if err != nil {
			return nil, err
		}
	}

	return Subtract(hub, excluded), nil
}

// Subtract removes excluded packages from hub and returns the remaining
// maintainers sorted by name
func Subtract(hub, excluded map[string][]string) []domain.PackageMaintainer {
	names := make([]string, 0, len(hub))
	for name := range hub {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []domain.PackageMaintainer
	for _, name := range names {
		skip := make(map[string]struct{}, len(excluded[name]))
		for _, p := range excluded[name] {
			skip[p] = struct{}{}
		}
		var keep []string
		for _, p := range hub[name] {
			if _, ok := skip[p]; !ok {
				keep = append(keep, p)
			}
		}
		if len(keep) == 0 {
			continue
		}
		out = append(out, domain.NewPackageMaintainer(name, keep))
	}
	return out
}

func readListing(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &domain.Error{Kind: domain.KindConfiguration, Op: "load maintainers",
				Err: fmt.Errorf("%s not found: %w", path, err)}
		}
		return nil, domain.E(domain.KindConfiguration, "load maintainers", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, domain.Errorf(domain.KindConfiguration, "load maintainers", "%s must be a JSON object: %w", path, err)
	}
	if raw == nil {
		return nil, domain.Errorf(domain.KindConfiguration, "load maintainers", "%s must be a JSON object", path)
	}

	out := make(map[string][]string, len(raw))
	for name, value := range raw {
		var pkgs []string
		if err := json.Unmarshal(value, &pkgs); err != nil {
			return nil, domain.Errorf(domain.KindConfiguration, "load maintainers", "%s: packages for %q must be a list of strings", path, name)
		}
		out[name] = pkgs
	}
	return out, nil
}
