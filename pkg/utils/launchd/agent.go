// Package launchd installs battfleet as a per-user launchd agent.
package launchd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"howett.net/plist"
)

// DefaultLabel is the launchd label of the dashboard agent.
const DefaultLabel = "cc.chlc.battfleet"

// Agent describes a launchd agent.
type Agent struct {
	Label     string
	Program   string
	Arguments []string
	LogPath   string
}

type agentPlist struct {
	Label             string   `plist:"Label"`
	ProgramArguments  []string `plist:"ProgramArguments"`
	RunAtLoad         bool     `plist:"RunAtLoad"`
	KeepAlive         bool     `plist:"KeepAlive"`
	StandardOutPath   string   `plist:"StandardOutPath,omitempty"`
	StandardErrorPath string   `plist:"StandardErrorPath,omitempty"`
	ProcessType       string   `plist:"ProcessType"`
}

// Render returns the agent as an XML property list.
func (a Agent) Render() ([]byte, error) {
	if a.Label == "" || a.Program == "" {
		return nil, fmt.Errorf("label and program are required")
	}

	p := agentPlist{
		Label:             a.Label,
		ProgramArguments:  append([]string{a.Program}, a.Arguments...),
		RunAtLoad:         true,
		KeepAlive:         true,
		StandardOutPath:   a.LogPath,
		StandardErrorPath: a.LogPath,
		ProcessType:       "Background",
	}

	b, err := plist.MarshalIndent(p, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to encode launch agent: %w", err)
	}
	return b, nil
}

// Installer writes agents to a LaunchAgents directory and loads them.
type Installer struct {
	// Dir is the LaunchAgents directory.
	Dir string
	// Launchctl runs launchctl with the given arguments.
	Launchctl func(args ...string) error
}

// NewInstaller returns an Installer for the current user.
func NewInstaller() (*Installer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to find home directory: %w", err)
	}
	return &Installer{
		Dir: filepath.Join(home, "Library", "LaunchAgents"),
		Launchctl: func(args ...string) error {
			out, err := exec.Command("/bin/launchctl", args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("launchctl %v: %w: %s", args, err, out)
			}
			return nil
		},
	}, nil
}

func (i *Installer) path(label string) string {
	return filepath.Join(i.Dir, label+".plist")
}

// Install writes and loads a. An existing agent with the same label is
// replaced.
func (i *Installer) Install(a Agent) error {
	b, err := a.Render()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(i.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", i.Dir, err)
	}

	p := i.path(a.Label)
	if _, err := os.Stat(p); err == nil {
		logrus.Warnf("%s already exists, replacing it", p)
		if err := i.Launchctl("unload", p); err != nil {
			logrus.Debugf("failed to unload old agent: %v", err)
		}
	}

	logrus.Infof("writing launch agent to %s", p)
	if err := os.WriteFile(p, b, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}

	if err := i.Launchctl("load", p); err != nil {
		return fmt.Errorf("failed to load %s: %w", p, err)
	}
	return nil
}

// Uninstall unloads and removes the agent with label. A missing agent is
// not an error.
func (i *Installer) Uninstall(label string) error {
	p := i.path(label)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", p, err)
	}

	if err := i.Launchctl("unload", p); err != nil {
		logrus.Warnf("failed to unload %s: %v", p, err)
	}

	logrus.Infof("removing launch agent %s", p)
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}
