// Copyright 2022 The klvsync Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"klvsync/pkg/log"

	"gopkg.in/yaml.v2"
)

// Env stores system configuration.
type Env struct {
	Port       int    `yaml:"port"`
	StorageDir string `yaml:"storageDir"`
	LogLevel   string `yaml:"logLevel"`

	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	FrameRate        int    `yaml:"frameRate"`
	BudgetHeadroomMs int    `yaml:"budgetHeadroomMs"`
	QueueSize        int    `yaml:"queueSize"`
	MaxFrames        int    `yaml:"maxFrames"`
	SDPPath          string `yaml:"sdpPath"`

	ConfigDir string
	MinLevel  log.Level
}

// ErrPathNotAbsolute path is not absolute.
var ErrPathNotAbsolute = errors.New("path is not absolute")

// ErrNotPositive value is zero or negative.
var ErrNotPositive = errors.New("value is not positive")

// NewEnv return new environment configuration.
func NewEnv(envPath string, envYAML []byte) (*Env, error) {
	var env Env

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.Port == 0 {
		env.Port = 2020
	}
	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(filepath.Dir(env.ConfigDir), "storage")
	}
	if env.LogLevel == "" {
		env.LogLevel = "info"
	}
	if env.Width == 0 {
		env.Width = 1920
	}
	if env.Height == 0 {
		env.Height = 1080
	}
	if env.FrameRate == 0 {
		env.FrameRate = 30
	}
	if env.BudgetHeadroomMs == 0 {
		env.BudgetHeadroomMs = 2
	}
	if env.QueueSize == 0 {
		env.QueueSize = 64
	}

	minLevel, err := log.LevelFromString(env.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logLevel: %w", err)
	}
	env.MinLevel = minLevel

	if !filepath.IsAbs(env.StorageDir) {
		return nil, fmt.Errorf("storageDir '%v': %w", env.StorageDir, ErrPathNotAbsolute)
	}
	if env.SDPPath != "" && !filepath.IsAbs(env.SDPPath) {
		return nil, fmt.Errorf("sdpPath '%v': %w", env.SDPPath, ErrPathNotAbsolute)
	}
	if env.Width < 0 || env.Height < 0 {
		return nil, fmt.Errorf("geometry %vx%v: %w", env.Width, env.Height, ErrNotPositive)
	}
	if env.FrameRate < 0 {
		return nil, fmt.Errorf("frameRate %v: %w", env.FrameRate, ErrNotPositive)
	}
	if env.QueueSize < 0 || env.MaxFrames < 0 {
		return nil, fmt.Errorf("queueSize or maxFrames: %w", ErrNotPositive)
	}

	return &env, nil
}

// LogDBPath return log database path.
func (env Env) LogDBPath() string {
	return filepath.Join(env.StorageDir, "logs.db")
}

// FrameDuration return the nominal frame interval.
func (env Env) FrameDuration() time.Duration {
	return time.Second / time.Duration(env.FrameRate)
}

// FrameBudget return the real-time budget a frame interval is
// measured against: the nominal interval plus headroom.
func (env Env) FrameBudget() time.Duration {
	return env.FrameDuration() +
		time.Duration(env.BudgetHeadroomMs)*time.Millisecond
}

// PrepareEnvironment prepares directories.
func (env Env) PrepareEnvironment() error {
	err := os.MkdirAll(env.StorageDir, 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create storage directory: %v: %w", env.StorageDir, err)
	}
	return nil
}
