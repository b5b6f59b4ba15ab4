package version

import (
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithCommit(t *testing.T) {
	assert.Equal(t, WithMeta+"-0123abcd-20261019", WithCommit("0123abcdef99", "20261019"))
	assert.Equal(t, WithMeta, WithCommit("short", ""))
}

func TestBuildInfoVCS(t *testing.T) {
	info := &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "deadbeefcafe"},
		{Key: "vcs.time", Value: "2026-10-19T08:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}}
	vcs, ok := buildInfoVCS(info)
	assert.True(t, ok)
	assert.Equal(t, VCSInfo{Commit: "deadbeefcafe", Date: "20261019", Dirty: true}, vcs)

	_, ok = buildInfoVCS(&debug.BuildInfo{})
	assert.False(t, ok)
}

func TestInfo(t *testing.T) {
	assert.True(t, strings.HasPrefix(Info(), WithMeta))
}
