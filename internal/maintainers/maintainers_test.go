package maintainers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkghub/hubcap/internal/domain"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	testCases := map[string]struct {
		hub        string
		exclusions *string
		want       map[string][]string
		wantErr    string
	}{
		"no exclusions file": {
			hub:  `{"org1": ["pkg1"]}`,
			want: map[string][]string{"org1": {"pkg1"}},
		},
		"exclusions subtract": {
			hub:        `{"org1": ["pkg1", "pkg2"]}`,
			exclusions: ptr(`{"org1": ["pkg2"]}`),
			want:       map[string][]string{"org1": {"pkg1"}},
		},
		"fully excluded maintainer dropped": {
			hub:        `{"org1": ["pkg1"], "org2": ["pkg2"]}`,
			exclusions: ptr(`{"org1": ["pkg1"]}`),
			want:       map[string][]string{"org2": {"pkg2"}},
		},
		"empty maintainer dropped": {
			hub:  `{"org1": [], "org2": ["pkg1"]}`,
			want: map[string][]string{"org2": {"pkg1"}},
		},
		"hub not an object": {
			hub:     `["org1"]`,
			wantErr: "must be a JSON object",
		},
		"hub malformed": {
			hub:     `{"org1": [`,
			wantErr: "must be a JSON object",
		},
		"packages not a list": {
			hub:     `{"org1": "not-list", "org2": ["pkg1"]}`,
			wantErr: "must be a list of strings",
		},
		"exclusions wrong shape": {
			hub:        `{"org1": ["pkg1"]}`,
			exclusions: ptr(`{"org1": "not-list"}`),
			wantErr:    "must be a list of strings",
		},
	}

	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			dir := t.TempDir()
			hubPath := write(t, dir, "hub.json", tc.hub)
			exclPath := filepath.Join(dir, "exclusions.json")
			if tc.exclusions != nil {
				write(t, dir, "exclusions.json", *tc.exclusions)
			}

			got, err := Load(hubPath, exclPath)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrConfiguration)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)

			gotMap := map[string][]string{}
			for _, m := range got {
				gotMap[m.Name()] = m.Packages()
			}
			assert.Equal(t, tc.want, gotMap)
		})
	}
}

func TestLoadMissingHub(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "hub.json"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "not found")
}

func TestSubtractSorted(t *testing.T) {
	got := Subtract(map[string][]string{"zeta": {"b", "a"}, "alpha": {"x"}}, nil)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].Name())
	assert.Equal(t, []string{"a", "b"}, got[1].Packages())
}

func ptr(s string) *string { return &s }
