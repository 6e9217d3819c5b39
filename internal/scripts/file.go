package scripts

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/azula/internal/errors"
)

// Script is the header of a custom script file.
//
// The header is the block of '#' comment lines following the first line of
// the file (the interpreter line), read as YAML:
//
//	#!/usr/bin/env python3
//	# tags: [example]
//	# developer: [someone]
//	# ports_separator: ","
//	# call_format: "python3 {{script}} {{ip}} {{port}}"
type Script struct {
	Path           string   `yaml:"-"`
	Tags           []string `yaml:"tags"`
	Developer      []string `yaml:"developer"`
	Port           string   `yaml:"port"`
	PortsSeparator string   `yaml:"ports_separator"`
	CallFormat     string   `yaml:"call_format"`
}

func (s *Script) separator() string {
	if s.PortsSeparator == "" {
		return ","
	}
	return s.PortsSeparator
}

// ParseScript reads the header of the script at path.
func ParseScript(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeFileNotFound, "failed to read script", err)
	}
	defer f.Close()

	var header strings.Builder
	sc := bufio.NewScanner(f)
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		line := sc.Text()
		if !strings.HasPrefix(line, "#") {
			break
		}
		header.WriteString(strings.TrimSpace(strings.TrimLeft(line, "#")))
		header.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}

	var script Script
	if err := yaml.Unmarshal([]byte(header.String()), &script); err != nil {
		return nil, errors.WrapConfigError(errors.CodeValidation,
			fmt.Sprintf("failed to parse script header of %s", path), err)
	}
	script.Path = path
	return &script, nil
}

// Selection lists the tags a custom script must carry to run.
type Selection struct {
	Tags      []string `yaml:"tags"`
	Ports     []string `yaml:"ports"`
	Developer []string `yaml:"developer"`
}

// ReadSelection reads the selection file at path.
func ReadSelection(path string) (*Selection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeFileNotFound, "failed to read script selection", err)
	}

	var sel Selection
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return nil, errors.WrapConfigError(errors.CodeValidation, "failed to parse script selection", err)
	}
	return &sel, nil
}

// Matches reports whether every tag of script is selected. Scripts without
// tags never match, and neither does anything when no tags are selected.
func (s *Selection) Matches(script *Script) bool {
	if len(s.Tags) == 0 || len(script.Tags) == 0 {
		return false
	}
	for _, tag := range script.Tags {
		if !slices.Contains(s.Tags, tag) {
			return false
		}
	}
	return true
}
