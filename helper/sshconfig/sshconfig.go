// Copyright 2019 Bull S.A.S. Atos Technologies - Bull, Rue Jean Jaures, B.P.68, 78340, Les Clayes-sous-Bois, France.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sshconfig edits the local SSH client configuration.
//
// Host entries are upserted by alias: an existing block is replaced in
// place, unrelated blocks are preserved verbatim and the file is replaced
// atomically so that a failed write never leaves a truncated config.
package sshconfig

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/irishpc/iristools/log"
)

// HostEntry describes a Host block of the SSH client configuration
type HostEntry struct {
	Alias         string
	HostName      string
	ProxyJump     string
	User          string
	IdentityFile  string
	RemoteCommand string
}

// ConfigWriteError is returned when the SSH configuration file cannot be written
type ConfigWriteError struct {
	Path string
	err  error
}

func (cwe *ConfigWriteError) Error() string {
	return fmt.Sprintf("failed to write SSH config %q: %v", cwe.Path, cwe.err)
}

// IsConfigWriteError checks if the given error is a ConfigWriteError
func IsConfigWriteError(err error) bool {
	_, ok := errors.Cause(err).(*ConfigWriteError)
	return ok
}

const defaultConfigMode os.FileMode = 0600

// render returns the lines of the Host block for the given entry.
// Empty keywords are omitted.
func (e HostEntry) render() []string {
	lines := []string{fmt.Sprintf("Host %s", e.Alias)}
	appendKeyword := func(keyword, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("  %s %s", keyword, value))
		}
	}
	appendKeyword("HostName", e.HostName)
	appendKeyword("ProxyJump", e.ProxyJump)
	appendKeyword("User", e.User)
	appendKeyword("IdentityFile", e.IdentityFile)
	appendKeyword("RemoteCommand", e.RemoteCommand)
	return lines
}

// isBlockStart reports whether the given line starts a new Host or Match block
func isBlockStart(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && (strings.EqualFold(fields[0], "Host") || strings.EqualFold(fields[0], "Match"))
}

// isHostBlock reports whether the given line starts the Host block with exactly the given alias as pattern
func isHostBlock(line, alias string) bool {
	fields := strings.Fields(line)
	return len(fields) == 2 && strings.EqualFold(fields[0], "Host") && fields[1] == alias
}

// Sync upserts the Host block for entry.Alias in the SSH configuration at the
// given path. An existing block with the same alias is replaced at its
// current position, otherwise the block is appended. Calling Sync twice with
// identical arguments leaves the file byte-identical.
func Sync(path string, entry HostEntry) error {
	if entry.Alias == "" {
		return errors.New("missing mandatory host alias for SSH config entry")
	}
	if entry.HostName == "" {
		return errors.Errorf("missing mandatory HostName for SSH config entry %q", entry.Alias)
	}
	expandedPath, err := homedir.Expand(path)
	if err != nil {
		return errors.Wrapf(err, "failed to expand SSH config path %q", path)
	}

	mode := defaultConfigMode
	var lines []string
	content, err := ioutil.ReadFile(expandedPath)
	if err == nil {
		lines = strings.Split(string(content), "\n")
		if fi, statErr := os.Stat(expandedPath); statErr == nil {
			mode = fi.Mode().Perm()
		}
	} else if !os.IsNotExist(err) {
		return &ConfigWriteError{Path: expandedPath, err: err}
	}

	block := entry.render()
	start, end := findHostBlock(lines, entry.Alias)
	if start >= 0 {
		log.Debugf("Replacing SSH config block %q in place", entry.Alias)
		updated := make([]string, 0, len(lines)-(end-start)+len(block))
		updated = append(updated, lines[:start]...)
		updated = append(updated, block...)
		updated = append(updated, lines[end:]...)
		lines = updated
	} else {
		log.Debugf("Appending new SSH config block %q", entry.Alias)
		// Strip trailing empty lines then separate the new block with a
		// single blank line.
		for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
			lines = lines[:len(lines)-1]
		}
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, block...)
		lines = append(lines, "")
	}

	updatedContent := strings.Join(lines, "\n")
	if updatedContent == string(content) {
		log.Debugf("SSH config block %q is already up to date", entry.Alias)
		return nil
	}
	return writeAtomically(expandedPath, []byte(updatedContent), mode)
}

// findHostBlock returns the boundaries [start, end) of the Host block with
// the given alias, or (-1, -1) when no such block exists. The block extends
// up to the start of the next Host or Match block.
func findHostBlock(lines []string, alias string) (int, int) {
	start := -1
	for i, line := range lines {
		if start == -1 {
			if isHostBlock(line, alias) {
				start = i
			}
			continue
		}
		if isBlockStart(line) {
			return start, trimBlockEnd(lines, start, i)
		}
	}
	if start == -1 {
		return -1, -1
	}
	return start, trimBlockEnd(lines, start, len(lines))
}

// trimBlockEnd leaves blank lines surrounding the block out of it so they
// are preserved verbatim on replacement.
func trimBlockEnd(lines []string, start, end int) int {
	for end > start+1 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return end
}

// writeAtomically writes content to a temporary file in the same directory
// then atomically replaces the destination.
func writeAtomically(path string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := ioutil.TempFile(dir, ".iristools-sshconfig-")
	if err != nil {
		return &ConfigWriteError{Path: path, err: err}
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err = tmpFile.Write(content); err != nil {
		tmpFile.Close()
		return &ConfigWriteError{Path: path, err: err}
	}
	if err = tmpFile.Chmod(mode); err != nil {
		tmpFile.Close()
		return &ConfigWriteError{Path: path, err: err}
	}
	if err = tmpFile.Close(); err != nil {
		return &ConfigWriteError{Path: path, err: err}
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return &ConfigWriteError{Path: path, err: err}
	}
	return nil
}

// IdentityFileFor returns the IdentityFile configured for the given host
// alias in the SSH configuration at the given path.
func IdentityFileFor(path, alias string) (string, error) {
	expandedPath, err := homedir.Expand(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to expand SSH config path %q", path)
	}
	content, err := ioutil.ReadFile(expandedPath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read SSH config %q", expandedPath)
	}
	lines := strings.Split(string(content), "\n")
	start, end := findHostBlock(lines, alias)
	if start < 0 {
		return "", errors.Errorf("no host %q found in SSH config %q", alias, expandedPath)
	}
	for _, line := range lines[start+1 : end] {
		fields := strings.Fields(line)
		if len(fields) == 2 && strings.EqualFold(fields[0], "IdentityFile") {
			return fields[1], nil
		}
	}
	return "", errors.Errorf("no IdentityFile found for host %q in SSH config %q", alias, expandedPath)
}
