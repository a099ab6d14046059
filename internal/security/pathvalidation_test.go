package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	root := t.TempDir()
	safe := filepath.Join(root, "safe")
	outside := filepath.Join(root, "outside")
	require.NoError(t, os.MkdirAll(filepath.Join(safe, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(safe, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"existing dir", filepath.Join(safe, "sub"), false},
		{"new file", filepath.Join(safe, "backup.db"), false},
		{"new file in new dir", filepath.Join(safe, "a", "b", "backup.db"), false},
		{"dir itself", safe, false},
		{"dot dot", filepath.Join(safe, "..", "outside", "x.db"), true},
		{"sibling with prefix", safe + "-evil/x.db", true},
		{"through symlink", filepath.Join(safe, "link", "x.db"), true},
		{"absolute elsewhere", "/etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, safe)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPathEscape)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePathWithinDirectory_MissingDir(t *testing.T) {
	err := ValidatePathWithinDirectory("/tmp/x", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPathEscape)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"tracker.db", "tracker.db"},
		{"my tracker (copy).db", "my_tracker_copy_.db"},
		{"../../etc/passwd", "etc_passwd"},
		{"__hidden__", "hidden"},
		{"", "unknown"},
		{"...", "unknown"},
		{"ärger", "rger"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "SanitizeFilename(%q)", tt.in)
	}
	assert.Len(t, SanitizeFilename(strings.Repeat("a", 300)), maxFilenameLen)
}
