package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record constants consumed by hub readers
const (
	PublishedAtPlaceholder = "1970-01-01T00:00:00.000000+00:00"
	TarballFormat          = "tgz"
	SourceTypeGitHub       = "github"
	DefaultLogo            = "logos/placeholder.svg"
)

// VersionRecord is the per-tag document written to versions/<tag>.json
type VersionRecord struct {
	ID                string            `json:"id" validate:"required"`
	Name              string            `json:"name" validate:"required"`
	Version           string            `json:"version" validate:"required,tag"`
	PublishedAt       string            `json:"published_at"`
	Packages          []json.RawMessage `json:"packages"`
	RequireDbtVersion VersionConstraint `json:"require_dbt_version"`
	WorksWith         []string          `json:"works_with"`
	Source            Source            `json:"_source"`
	Downloads         Downloads         `json:"downloads"`
	FusionCompat      *bool             `json:"fusion-schema-compat,omitempty"`
}

// Source locates the tag's source tree
type Source struct {
	Type   string `json:"type"`
	URL    string `json:"url" validate:"required,url"`
	Readme string `json:"readme" validate:"required,url"`
}

// Downloads describes the tag's tarball
type Downloads struct {
	Tarball string `json:"tarball" validate:"required,url"`
	Format  string `json:"format"`
	SHA1    string `json:"sha1" validate:"required,len=40,hexadecimal"`
}

// TarballURL is the deterministic codeload URL for a tag
func TarballURL(org, repo, tag string) string {
	return fmt.Sprintf("https://codeload.github.com/%s/%s/tar.gz/%s", org, repo, tag)
}

// NewVersionRecord assembles a record for org/repo at tag. packageName is
// the name declared in the package manifest.
func NewVersionRecord(org, repo, packageName, tag string, packages []json.RawMessage, require VersionConstraint, sha1 string) *VersionRecord {
	if packages == nil {
		packages = []json.RawMessage{}
	}
	return &VersionRecord{
		ID:                fmt.Sprintf("%s/%s/%s", org, packageName, tag),
		Name:              packageName,
		Version:           tag,
		PublishedAt:       PublishedAtPlaceholder,
		Packages:          packages,
		RequireDbtVersion: require,
		WorksWith:         []string{},
		Source: Source{
			Type:   SourceTypeGitHub,
			URL:    fmt.Sprintf("https://github.com/%s/%s/tree/%s/", org, repo, tag),
			Readme: fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/README.md", org, repo, tag),
		},
		Downloads: Downloads{
			Tarball: TarballURL(org, repo, tag),
			Format:  TarballFormat,
			SHA1:    sha1,
		},
	}
}

// SetCompat records a compatibility result on the version
func (r *VersionRecord) SetCompat(c Compatibility) {
	b := c.Bool()
	r.FusionCompat = &b
}

// IndexRecord is the per-package summary written to index.json
type IndexRecord struct {
	Name         string          `json:"name" validate:"required"`
	Namespace    string          `json:"namespace" validate:"required"`
	Description  string          `json:"description"`
	Latest       string          `json:"latest" validate:"required,semver"`
	FusionCompat *bool           `json:"fusion-schema-compat,omitempty"`
	Assets       json.RawMessage `json:"assets"`
}

// DefaultDescription is used when a package has no prior description
func DefaultDescription(repo string) string {
	return "dbt models for " + repo
}

// DefaultAssets is the asset block for packages without one
func DefaultAssets() json.RawMessage {
	return json.RawMessage(`{"logo":"` + DefaultLogo + `"}`)
}

// NewIndexRecord builds the index for a package, keeping description and
// assets from prior when present. prior may be nil.
func NewIndexRecord(org, repo, packageName, latest string, prior *IndexRecord) *IndexRecord {
	rec := &IndexRecord{
		Name:        packageName,
		Namespace:   org,
		Description: DefaultDescription(repo),
		Latest:      latest,
		Assets:      DefaultAssets(),
	}
	if prior != nil {
		if prior.Description != "" {
			rec.Description = prior.Description
		}
		if len(prior.Assets) > 0 && !bytes.Equal(prior.Assets, []byte("null")) {
			rec.Assets = prior.Assets
		}
	}
	return rec
}

// VersionConstraint is a require-dbt-version value. Manifests declare it
// either as one string or as a list; the shape survives a round trip.
type VersionConstraint struct {
	Values []string
	Scalar bool
}

// ScalarConstraint wraps a single constraint string
func ScalarConstraint(v string) VersionConstraint {
	return VersionConstraint{Values: []string{v}, Scalar: true}
}

// ListConstraint wraps a list of constraint strings
func ListConstraint(vs ...string) VersionConstraint {
	if vs == nil {
		vs = []string{}
	}
	return VersionConstraint{Values: vs}
}

func (c VersionConstraint) MarshalJSON() ([]byte, error) {
	if c.Scalar && len(c.Values) == 1 {
		return marshalNoEscape(c.Values[0])
	}
	if c.Values == nil {
		return []byte("[]"), nil
	}
	return marshalNoEscape(c.Values)
}

func (c *VersionConstraint) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ScalarConstraint(s)
		return nil
	}
	var vs []string
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	*c = ListConstraint(vs...)
	return nil
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EncodeRecord renders a record the way hub files are stored: four-space
// indentation, no HTML escaping and a trailing newline.
func EncodeRecord(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeIndexRecord parses an existing index file. Unparseable content
// yields nil so callers fall back to defaults.
func DecodeIndexRecord(data []byte) *IndexRecord {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	var rec IndexRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	return &rec
}

// DecodeVersionCompat reads only the compatibility flag of a version file
func DecodeVersionCompat(data []byte) (*bool, error) {
	var partial struct {
		FusionCompat *bool `json:"fusion-schema-compat"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return nil, err
	}
	return partial.FusionCompat, nil
}
