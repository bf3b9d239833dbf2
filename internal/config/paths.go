// Package config holds process-wide configuration: the local directory
// layout, the settings file with the ordered repository list, and the
// environment overlay.
package config

import "path/filepath"

// Paths is the local layout derived from a home directory.
type Paths struct {
	Home string
	// Bin holds executable symlinks and is expected to be on $PATH.
	Bin string
	// DataRoot holds live package trees and the local package database.
	DataRoot string
	// ConfigDir holds settings.toml and the optional env file.
	ConfigDir string
}

// NewPaths returns the conventional layout under home.
func NewPaths(home string) Paths {
	return Paths{
		Home:      home,
		Bin:       filepath.Join(home, "bin"),
		DataRoot:  filepath.Join(home, ".local", "share", "hkg"),
		ConfigDir: filepath.Join(home, ".config", "hkg"),
	}
}

func (p Paths) Packages() string { return filepath.Join(p.DataRoot, "packages") }

// Package is the live tree of one installed package.
func (p Paths) Package(name string) string { return filepath.Join(p.Packages(), name) }

// Staging holds private extraction directories for in-flight operations.
func (p Paths) Staging() string { return filepath.Join(p.DataRoot, ".staging") }

// Trash holds replaced live trees until a commit completes.
func (p Paths) Trash() string { return filepath.Join(p.DataRoot, ".trash") }

func (p Paths) Database() string { return filepath.Join(p.DataRoot, "packages.hdb") }

func (p Paths) Lock() string { return filepath.Join(p.DataRoot, ".lock") }

func (p Paths) Settings() string { return filepath.Join(p.ConfigDir, "settings.toml") }

func (p Paths) EnvFile() string { return filepath.Join(p.ConfigDir, "env") }
