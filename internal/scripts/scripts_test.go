package scripts

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/azula/internal/errors"
	"github.com/anstrom/azula/internal/logging"
)

const echoScript = `#!/bin/sh
# tags: [core, example]
# developer: [azula]
# ports_separator: ","
# call_format: "sh {{script}} {{ip}} {{port}}"
echo "$1 $2"
`

const untaggedScript = `#!/bin/sh
# call_format: "echo untagged"
`

const otherTagScript = `#!/bin/sh
# tags: [core, intrusive]
# call_format: "echo intrusive"
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// scriptHome builds a home directory with three scripts and a selection of
// the tags core and example.
func scriptHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	writeFile(t, filepath.Join(home, ScriptsDir, "echo.sh"), echoScript)
	writeFile(t, filepath.Join(home, ScriptsDir, "untagged.sh"), untaggedScript)
	writeFile(t, filepath.Join(home, ScriptsDir, "intrusive.sh"), otherTagScript)
	writeFile(t, filepath.Join(home, SelectionFile), "tags: [core, example]\n")
	return home
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeDefault, false},
		{"none", ModeNone, false},
		{"Default", ModeDefault, false},
		{" custom ", ModeCustom, false},
		{"all", ModeNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.CodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseScript(t *testing.T) {
	home := scriptHome(t)
	script, err := ParseScript(filepath.Join(home, ScriptsDir, "echo.sh"))
	require.NoError(t, err)

	assert.Equal(t, []string{"core", "example"}, script.Tags)
	assert.Equal(t, []string{"azula"}, script.Developer)
	assert.Equal(t, "sh {{script}} {{ip}} {{port}}", script.CallFormat)
	assert.Equal(t, filepath.Join(home, ScriptsDir, "echo.sh"), script.Path)

	_, err = ParseScript(filepath.Join(home, "missing.sh"))
	assert.True(t, errors.IsCode(err, errors.CodeFileNotFound))
}

func TestSelectionMatches(t *testing.T) {
	sel := &Selection{Tags: []string{"core", "example"}}

	assert.True(t, sel.Matches(&Script{Tags: []string{"core"}}))
	assert.True(t, sel.Matches(&Script{Tags: []string{"example", "core"}}))
	assert.False(t, sel.Matches(&Script{Tags: []string{"core", "intrusive"}}))
	assert.False(t, sel.Matches(&Script{}))
	assert.False(t, (&Selection{}).Matches(&Script{Tags: []string{"core"}}))
}

func TestLoad(t *testing.T) {
	logger := logging.Discard()

	t.Run("none", func(t *testing.T) {
		runners, err := Load(ModeNone, t.TempDir(), nil, logger)
		require.NoError(t, err)
		assert.Empty(t, runners)
	})

	t.Run("default runs nmap", func(t *testing.T) {
		runners, err := Load(ModeDefault, t.TempDir(), []string{"-T4"}, logger)
		require.NoError(t, err)
		require.Len(t, runners, 1)
		assert.IsType(t, &NmapRunner{}, runners[0])
		assert.Contains(t, runners[0].Name(), "-T4")
	})

	t.Run("custom selects by tags", func(t *testing.T) {
		runners, err := Load(ModeCustom, scriptHome(t), nil, logger)
		require.NoError(t, err)
		require.Len(t, runners, 1)
		assert.Equal(t, "sh {{script}} {{ip}} {{port}}", runners[0].Name())
	})

	t.Run("custom without scripts folder", func(t *testing.T) {
		_, err := Load(ModeCustom, t.TempDir(), nil, logger)
		assert.True(t, errors.IsCode(err, errors.CodeFileNotFound))
	})
}

func TestCommandRunnerCommand(t *testing.T) {
	v4 := netip.MustParseAddr("192.168.1.10")
	v6 := netip.MustParseAddr("::1")

	tests := []struct {
		name   string
		script *Script
		extra  []string
		addr   netip.Addr
		want   string
	}{
		{
			name:   "placeholders",
			script: &Script{Path: "/s/x.py", CallFormat: "python3 {{script}} {{ip}} {{port}} -{{ipversion}}"},
			addr:   v4,
			want:   "python3 /s/x.py 192.168.1.10 80,443 -4",
		},
		{
			name:   "custom separator",
			script: &Script{CallFormat: "nc {{ip}} {{port}}", PortsSeparator: " "},
			addr:   v6,
			want:   "nc ::1 80 443",
		},
		{
			name:   "fixed trigger port",
			script: &Script{CallFormat: "check {{ip}}:{{port}}", Port: "8080"},
			addr:   v4,
			want:   "check 192.168.1.10:8080",
		},
		{
			name:   "extra arguments appended",
			script: &Script{CallFormat: "nmap -p {{port}} {{ip}}"},
			extra:  []string{"-A", "-T4"},
			addr:   v4,
			want:   "nmap -p 80,443 192.168.1.10 -A -T4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &CommandRunner{Script: tt.script, Extra: tt.extra}
			got, err := r.Command(tt.addr, []uint16{80, 443})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := (&CommandRunner{Script: &Script{}}).Command(v4, nil)
	assert.True(t, errors.IsCode(err, errors.CodeScriptFailed))
}

func TestCommandRunnerRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	home := scriptHome(t)
	script, err := ParseScript(filepath.Join(home, ScriptsDir, "echo.sh"))
	require.NoError(t, err)

	r := &CommandRunner{Script: script}
	out, err := r.Run(context.Background(), netip.MustParseAddr("127.0.0.1"), []uint16{22, 80})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1 22,80\n", out)

	failing := &CommandRunner{Script: &Script{CallFormat: "echo boom >&2; exit 3"}}
	_, err = failing.Run(context.Background(), netip.MustParseAddr("127.0.0.1"), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeScriptFailed))
	assert.Contains(t, err.Error(), "boom")
}

func TestNmapRunnerOptions(t *testing.T) {
	r := NewNmapRunner(nil)
	assert.Len(t, r.options(netip.MustParseAddr("10.0.0.1"), []uint16{22}), 5)
	assert.Len(t, r.options(netip.MustParseAddr("::1"), []uint16{22}), 6)

	withExtra := NewNmapRunner([]string{"--script", "banner"})
	assert.Len(t, withExtra.options(netip.MustParseAddr("10.0.0.1"), []uint16{22}), 6)
	assert.Equal(t, "nmap -vvv -sV -p {{port}} -{{ipversion}} {{ip}} --script banner", withExtra.Name())
}
