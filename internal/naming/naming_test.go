package naming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStrategies(t *testing.T) {
	started := time.Unix(1700000000, 0)

	testCases := map[string]struct {
		onePerRepo bool
		branch     string
		title      string
		shared     bool
	}{
		"individual": {
			onePerRepo: true,
			branch:     "bump-dbt-labs-dbt-utils-1700000000",
			title:      "hubcap: Bump dbt-labs/dbt-utils",
		},
		"consolidated": {
			onePerRepo: false,
			branch:     "bump-package-versions-1700000000",
			title:      "hubcap: Bump package versions",
			shared:     true,
		},
	}
	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			s := New(tc.onePerRepo, started)
			assert.Equal(t, tc.branch, s.Branch("dbt-labs", "dbt-utils"))
			assert.Equal(t, tc.title, s.Title("dbt-labs", "dbt-utils"))
			assert.Equal(t, tc.shared, s.Shared())
		})
	}
}

func TestBranchStableWithinRun(t *testing.T) {
	s := New(true, time.Now())
	first := s.Branch("org", "repo")
	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, first, s.Branch("org", "repo"))
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "hubcap: Adding tag 1.2.0 for org/repo", CommitMessage("org", "repo", "1.2.0"))
	assert.Equal(t,
		"Auto-bumping from new release at https://github.com/org/repo/releases",
		ReleasesBody("org", "repo"))
}
