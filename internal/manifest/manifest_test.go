package manifest

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkghub/hubcap/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadProject(t *testing.T) {
	testCases := map[string]struct {
		content     *string
		wantName    string
		wantProfile string
		wantRequire string
		wantErr     string
	}{
		"name only": {
			content:     ptr("name: 'dbt_utils'\nversion: '1.0.0'\n"),
			wantName:    "dbt_utils",
			wantRequire: `[]`,
		},
		"scalar constraint": {
			content:     ptr("name: pkg\nprofile: warehouse\nrequire-dbt-version: '>=1.3.0'\n"),
			wantName:    "pkg",
			wantProfile: "warehouse",
			wantRequire: `">=1.3.0"`,
		},
		"list constraint": {
			content:     ptr("name: pkg\nrequire-dbt-version: ['>=1.3.0', '<2.0.0']\n"),
			wantName:    "pkg",
			wantRequire: `[">=1.3.0","<2.0.0"]`,
		},
		"null constraint": {
			content:     ptr("name: pkg\nrequire-dbt-version:\n"),
			wantName:    "pkg",
			wantRequire: `[]`,
		},
		"missing file": {
			wantErr: "not found",
		},
		"empty file": {
			content: ptr("   \n"),
			wantErr: "empty or invalid",
		},
		"not a mapping": {
			content: ptr("- a\n- b\n"),
			wantErr: "empty or invalid",
		},
		"invalid yaml": {
			content: ptr("name: [unterminated\n"),
			wantErr: "invalid YAML",
		},
		"no name": {
			content: ptr("version: '1.0.0'\n"),
			wantErr: "no 'name' field",
		},
		"blank name": {
			content: ptr("name: ''\n"),
			wantErr: "no 'name' field",
		},
		"constraint mapping": {
			content: ptr("name: pkg\nrequire-dbt-version: {min: 1}\n"),
			wantErr: "require-dbt-version",
		},
	}

	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			dir := t.TempDir()
			if tc.content != nil {
				writeFile(t, dir, ProjectFile, *tc.content)
			}
			assert.Equal(t, tc.content != nil, HasProject(dir))

			p, err := LoadProject(dir)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrPackage)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantName, p.Name)
			assert.Equal(t, tc.wantProfile, p.Profile)
			var got bytes.Buffer
			enc := json.NewEncoder(&got)
			enc.SetEscapeHTML(false)
			require.NoError(t, enc.Encode(p.RequireDbtVersion))
			assert.Equal(t, tc.wantRequire, strings.TrimSpace(got.String()))
		})
	}
}

func TestLoadPackages(t *testing.T) {
	testCases := map[string]struct {
		files map[string]string
		want  []string
	}{
		"none": {
			want: []string{},
		},
		"packages.yml keeps key order": {
			files: map[string]string{
				PackagesFile: "packages:\n  - package: dbt-labs/dbt_utils\n    version: [\">=1.0.0\", \"<2.0.0\"]\n  - git: https://github.com/org/repo.git\n    revision: 0.1.0\n",
			},
			want: []string{
				`{"package":"dbt-labs/dbt_utils","version":[">=1.0.0","<2.0.0"]}`,
				`{"git":"https://github.com/org/repo.git","revision":"0.1.0"}`,
			},
		},
		"packages.yml wins": {
			files: map[string]string{
				PackagesFile:     "packages:\n  - package: a/b\n    version: 1.0\n",
				DependenciesFile: "packages:\n  - package: c/d\n",
			},
			want: []string{`{"package":"a/b","version":1.0}`},
		},
		"dependencies.yml fallback": {
			files: map[string]string{
				DependenciesFile: "packages:\n  - local: ../sub\n",
			},
			want: []string{`{"local":"../sub"}`},
		},
		"empty file": {
			files: map[string]string{PackagesFile: ""},
			want:  []string{},
		},
		"packages key null": {
			files: map[string]string{PackagesFile: "packages:\n"},
			want:  []string{},
		},
		"invalid yaml": {
			files: map[string]string{PackagesFile: "packages: [\n"},
			want:  []string{},
		},
		"packages not a list": {
			files: map[string]string{PackagesFile: "packages: nope\n"},
			want:  []string{},
		},
	}

	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tc.files {
				writeFile(t, dir, name, content)
			}
			got := LoadPackages(dir, nil)
			require.NotNil(t, got)
			strs := make([]string, len(got))
			for i, raw := range got {
				strs[i] = string(raw)
			}
			assert.Equal(t, tc.want, strs)
		})
	}
}

func ptr(s string) *string { return &s }
