// Package config carries the configuration surface the rewrite engine
// needs, as a plain struct passed explicitly into matroska.NewContainer —
// the engine itself never reaches for a package-level variable, per the
// design note against the original's static m_maxFullParseSize threshold.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Position selects where a maker's output should live relative to the
// Segment's other top-level children.
type Position int

const (
	// PositionKeep leaves the element where it already is, if present, or
	// lets the planner choose (BeforeData) if absent.
	PositionKeep Position = iota
	// PositionBeforeData places the element before the first Cluster.
	PositionBeforeData
	// PositionAfterData places the element after the last Cluster.
	PositionAfterData
)

// Options is the full set of knobs the planner/writer consults. The zero
// value keeps existing positions and doesn't force a rewrite, but leaves
// every padding bound and limit at zero; Default() returns the usable
// defaults (1KiB of preferred padding within [0, 1MiB]).
type Options struct {
	TagPosition  Position `yaml:"tagPosition"`
	CuesPosition Position `yaml:"cuesPosition"`

	ForceTagPosition  bool `yaml:"forceTagPosition"`
	ForceCuesPosition bool `yaml:"forceCuesPosition"`

	// PreferredPadding is loaded and carried with the other options, but
	// no planner code reads it: an in-place rewrite keeps whatever gap the
	// file already has, and a full rewrite writes no Void padding.
	// MinPadding/MaxPadding bound what an in-place rewrite may
	// produce before the planner falls back to repositioning Tags/Cues or
	// to a full rewrite.
	PreferredPadding uint64 `yaml:"preferredPadding"`
	MinPadding       uint64 `yaml:"minPadding"`
	MaxPadding       uint64 `yaml:"maxPadding"`

	ForceRewrite bool   `yaml:"forceRewrite"`
	SaveFilePath string `yaml:"saveFilePath"`

	// BackupDirectory holds the in-progress original during a full
	// rewrite; it defaults to os.TempDir() when empty, matching how the
	// pack's own CLI configs default unset paths to an OS temp directory
	// rather than hardcoding one.
	BackupDirectory string `yaml:"backupDirectory"`

	// MaxFullParseSize bounds how large a sub-element the container will
	// eagerly parse into memory before switching to lazy, on-demand
	// traversal; carried over from the original's static threshold but as
	// an explicit field instead of a global.
	MaxFullParseSize uint64 `yaml:"maxFullParseSize"`

	// MaxPlannerRestarts bounds the fixed-point segment-size iteration;
	// convergence is expected within a handful of restarts, and exceeding
	// this is treated as a planning failure.
	MaxPlannerRestarts int `yaml:"maxPlannerRestarts"`
}

// Default returns the engine's default Options.
func Default() Options {
	return Options{
		TagPosition:        PositionKeep,
		CuesPosition:       PositionKeep,
		PreferredPadding:   1024,
		MinPadding:         0,
		MaxPadding:         1 << 20,
		MaxFullParseSize:   0x3200000,
		MaxPlannerRestarts: 16,
	}
}

// Load reads YAML-encoded Options from path, starting from Default() so an
// incomplete file still yields sane values for anything it omits.
func Load(path string) (Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, err
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, err
	}
	return opts, nil
}

// BackupDir returns BackupDirectory if set, else os.TempDir().
func (o Options) BackupDir() string {
	if o.BackupDirectory != "" {
		return o.BackupDirectory
	}
	return os.TempDir()
}
