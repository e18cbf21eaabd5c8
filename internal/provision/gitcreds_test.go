package provision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSSHURL(t *testing.T) {
	assert.True(t, IsSSHURL("git@github.com:org/repo.git"))
	assert.True(t, IsSSHURL("ssh://git@github.com/org/repo.git"))
	assert.False(t, IsSSHURL("https://github.com/org/repo.git"))
	assert.False(t, IsSSHURL("http://gitea.local/org/repo.git"))
}

func TestRepoHost(t *testing.T) {
	tests := []struct {
		url  string
		host string
	}{
		{"git@github.com:org/repo.git", "github.com"},
		{"git@gitea.local/org/repo.git", "gitea.local"},
		{"https://github.com/org/repo.git", "github.com"},
		{"http://gitea.local:3000/org/repo.git", "gitea.local"},
		{"ssh://git@bitbucket.org/org/repo.git", "bitbucket.org"},
	}
	for _, tt := range tests {
		host, err := RepoHost(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.host, host, tt.url)
	}
}

func TestRepoHostMalformed(t *testing.T) {
	for _, url := range []string{"git@", "not a url", ""} {
		_, err := RepoHost(url)
		assert.Error(t, err, url)
	}
}
