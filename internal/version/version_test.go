package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkghub/hubcap/internal/domain"
)

func TestParse(t *testing.T) {
	testCases := map[string]struct {
		tag        string
		valid      bool
		stable     bool
		prerelease string
		metadata   string
	}{
		"plain":                  {tag: "1.2.3", valid: true, stable: true},
		"zero":                   {tag: "0.0.0", valid: true, stable: true},
		"v prefix":               {tag: "v1.2.3", valid: true, stable: true},
		"prerelease":             {tag: "1.0.0-rc.1", valid: true, prerelease: "rc.1"},
		"prerelease with hyphen": {tag: "1.0.0-alpha-beta", valid: true, prerelease: "alpha-beta"},
		"build metadata":         {tag: "1.0.0+build.007", valid: true, stable: true, metadata: "build.007"},
		"both":                   {tag: "v1.0.0-b.2+sha.abc", valid: true, prerelease: "b.2", metadata: "sha.abc"},
		"leading zero major":     {tag: "01.2.3"},
		"zero-led prerelease":    {tag: "1.2.3-rc.01"},
		"two parts":              {tag: "1.2"},
		"double v":               {tag: "vv1.2.3"},
		"uppercase V":            {tag: "V1.2.3"},
		"empty prerelease":       {tag: "1.2.3-"},
		"words":                  {tag: "not-a-version"},
		"empty":                  {tag: ""},
	}

	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			v, err := Parse(tc.tag)
			if !tc.valid {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrVersion)
				assert.False(t, IsValid(tc.tag))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.stable, v.IsStable())
			assert.Equal(t, tc.prerelease, v.Prerelease())
			assert.Equal(t, tc.metadata, v.Metadata())
			assert.Equal(t, tc.tag, v.Original())
		})
	}
}

func TestParseIgnoresVPrefix(t *testing.T) {
	for _, s := range []string{"0.1.0", "1.2.3", "10.20.30-rc.1+b5", "2.0.0-x-y.7"} {
		a, err := Parse(s)
		require.NoError(t, err)
		b, err := Parse("v" + s)
		require.NoError(t, err)
		assert.Equal(t, 0, a.Compare(b), s)
		assert.Equal(t, a.Major(), b.Major())
		assert.Equal(t, a.Minor(), b.Minor())
		assert.Equal(t, a.Patch(), b.Patch())
		assert.Equal(t, a.Prerelease(), b.Prerelease())
		assert.Equal(t, a.Metadata(), b.Metadata())
		assert.Equal(t, a.String(), b.String())
	}
}

func TestOrdering(t *testing.T) {
	ascending := []string{
		"1.0.0-alpha",
		"1.0.0-alpha.1",
		"1.0.0-alpha.beta",
		"1.0.0-beta",
		"1.0.0-beta.2",
		"1.0.0-beta.11",
		"1.0.0-rc.1",
		"1.0.0",
		"1.0.1",
		"1.1.0",
		"2.0.0",
	}
	for i := 0; i+1 < len(ascending); i++ {
		a, err := Parse(ascending[i])
		require.NoError(t, err)
		b, err := Parse(ascending[i+1])
		require.NoError(t, err)
		assert.Equal(t, -1, a.Compare(b), "%s < %s", a, b)
		assert.Equal(t, 1, b.Compare(a), "%s > %s", b, a)
	}

	a, _ := Parse("1.0.0+one")
	b, _ := Parse("1.0.0+two")
	assert.True(t, a.Equal(b), "build metadata is ignored")
}

func TestFilterValid(t *testing.T) {
	in := []string{"v1.0.2", "junk", "1.0.0", "1.0.1", "1.0.0", "release-2", "1.0.0-rc1"}
	want := []string{"1.0.0-rc1", "1.0.0", "1.0.1", "v1.0.2"}
	assert.Equal(t, want, FilterValid(in))

	reversed := make([]string, len(in))
	for i := range in {
		reversed[len(in)-1-i] = in[i]
	}
	assert.Equal(t, want, FilterValid(reversed))
	assert.Empty(t, FilterValid(nil))
}

func TestCoreNumbersBeyondUint64(t *testing.T) {
	assert.True(t, IsValid("18446744073709551615.0.0"))
	assert.False(t, IsValid("18446744073709551616.0.0"), "overflowing tags are ignored")
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, []string{"1.0.0", "v1.1.0"}, Canonical([]string{"v1.0.0", "1.0.0", "v1.1.0"}))
	assert.Equal(t, []string{"1.0.0"}, Canonical([]string{"1.0.0", "v1.0.0"}))
}

func TestLatest(t *testing.T) {
	testCases := map[string]struct {
		tags []string
		want string
	}{
		"stable beats newer prerelease": {
			tags: []string{"1.2.1", "1.2.2", "1.2.3-rc"},
			want: "1.2.2",
		},
		"prerelease precedence when no stable": {
			tags: []string{"1.2.2-rc3", "1.2.3-rc", "1.2.3-rc2", "1.2.3-a"},
			want: "1.2.3-rc2",
		},
		"v prefix stripped": {
			tags: []string{"v0.9.0", "v1.0.0"},
			want: "1.0.0",
		},
		"invalid ignored": {
			tags: []string{"latest", "0.1.0", "main"},
			want: "0.1.0",
		},
		"numeric prerelease": {
			tags: []string{"2.0.0-beta.2", "2.0.0-beta.11"},
			want: "2.0.0-beta.11",
		},
		"single": {
			tags: []string{"0.0.1"},
			want: "0.0.1",
		},
	}

	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			got, err := Latest(tc.tags)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestLatestNeverPrereleaseWhenStableExists(t *testing.T) {
	sets := [][]string{
		{"1.0.0", "9.9.9-rc.1"},
		{"0.0.1", "0.0.2-alpha", "5.0.0-beta", "0.0.1-rc"},
		{"v3.0.0-rc.1", "v2.9.9", "v3.0.0-rc.2"},
	}
	for _, tags := range sets {
		got, err := Latest(tags)
		require.NoError(t, err)
		assert.True(t, got.IsStable(), "%v -> %s", tags, got)
	}
}

func TestLatestErrors(t *testing.T) {
	for _, tags := range [][]string{nil, {}, {"not-a-version"}, {"main", "v1"}} {
		_, err := Latest(tags)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrVersion)
	}
}
