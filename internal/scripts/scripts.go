// Package scripts runs follow-up tooling against the hosts a scan found open.
//
// The default mode hands every host to nmap for service detection. The
// custom mode runs user script files from ~/.azula_scripts/ whose header
// describes how they are called, filtered by the tags listed in
// ~/.azula_scripts.yaml.
package scripts

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/anstrom/azula/internal/errors"
	"github.com/anstrom/azula/internal/logging"
)

// Mode selects which scripts run after a scan.
type Mode string

const (
	ModeNone    Mode = "none"
	ModeDefault Mode = "default"
	ModeCustom  Mode = "custom"
)

// Locations of custom scripts and their selection file, relative to the home directory.
const (
	ScriptsDir    = ".azula_scripts"
	SelectionFile = ".azula_scripts.yaml"
)

// ParseMode parses a script mode, case-insensitively. Empty means default.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeDefault, nil
	case ModeNone, ModeDefault, ModeCustom:
		return m, nil
	default:
		return ModeNone, errors.ErrConfigInvalid("scripts", s)
	}
}

// Runner executes one script against a host and its open ports.
type Runner interface {
	// Name describes the script for the user.
	Name() string
	// Run executes the script and returns its standard output.
	Run(ctx context.Context, addr netip.Addr, ports []uint16) (string, error)
}

// Load returns the runners for mode. home is the directory holding the
// custom scripts and the selection file. extra arguments are appended to
// every script invocation.
func Load(mode Mode, home string, extra []string, logger *logging.Logger) ([]Runner, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("scripts")

	switch mode {
	case ModeNone:
		return nil, nil
	case ModeDefault, "":
		return []Runner{NewNmapRunner(extra)}, nil
	case ModeCustom:
	default:
		return nil, errors.ErrConfigInvalid("scripts", string(mode))
	}

	paths, err := FindScripts(home)
	if err != nil {
		return nil, err
	}
	selection, err := ReadSelection(filepath.Join(home, SelectionFile))
	if err != nil {
		return nil, err
	}

	var runners []Runner
	for _, path := range paths {
		script, err := ParseScript(path)
		if err != nil {
			logger.Debug("Skipping script", "path", path, "error", err)
			continue
		}
		if !selection.Matches(script) {
			logger.Debug("Script tags do not match the selection", "path", path, "tags", script.Tags)
			continue
		}
		runners = append(runners, &CommandRunner{Script: script, Extra: extra})
	}
	logger.Debug("Scripts loaded", "count", len(runners))
	return runners, nil
}

// FindScripts lists the files of the custom scripts directory under home.
func FindScripts(home string) ([]string, error) {
	dir := filepath.Join(home, ScriptsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeFileNotFound,
			fmt.Sprintf("can't find scripts folder %s", dir), err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

// CommandRunner runs a custom script through the system shell.
type CommandRunner struct {
	Script *Script
	Extra  []string
}

// Name returns the call format the script runs with.
func (r *CommandRunner) Name() string {
	return r.callFormat()
}

func (r *CommandRunner) callFormat() string {
	if len(r.Extra) == 0 {
		return r.Script.CallFormat
	}
	return r.Script.CallFormat + " " + strings.Join(r.Extra, " ")
}

// Command returns the shell command run for addr and ports.
func (r *CommandRunner) Command(addr netip.Addr, ports []uint16) (string, error) {
	format := r.callFormat()
	if strings.TrimSpace(format) == "" {
		return "", errors.NewScanError(errors.CodeScriptFailed, "script has no call format")
	}

	portList := r.Script.Port
	if portList == "" {
		portList = joinPorts(ports, r.Script.separator())
	}

	replacer := strings.NewReplacer(
		"{{script}}", r.Script.Path,
		"{{ip}}", addr.String(),
		"{{port}}", portList,
		"{{ipversion}}", ipVersion(addr),
	)
	return replacer.Replace(format), nil
}

// Run executes the script and returns its standard output. A non-zero exit
// status is a SCRIPT_FAILED error.
func (r *CommandRunner) Run(ctx context.Context, addr netip.Addr, ports []uint16) (string, error) {
	command, err := r.Command(addr, ports)
	if err != nil {
		return "", err
	}
	return execute(ctx, command)
}

func execute(ctx context.Context, command string) (string, error) {
	shell, flag := "sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd.exe", "/c"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, flag, command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := "script failed"
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg = "script failed: " + s
		}
		return stdout.String(), errors.WrapScanError(errors.CodeScriptFailed, msg, err)
	}
	return stdout.String(), nil
}

func joinPorts(ports []uint16, sep string) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(int(p))
	}
	return strings.Join(parts, sep)
}

func ipVersion(addr netip.Addr) string {
	if addr.Is4() {
		return "4"
	}
	return "6"
}
