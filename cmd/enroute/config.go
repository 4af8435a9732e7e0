// cmd/enroute/config.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mmp/enroute/datamanager"
	"github.com/mmp/enroute/log"
	"github.com/mmp/enroute/navigation"
	"github.com/mmp/enroute/util"
)

// CurrentConfigVersion is bumped whenever the meaning of a saved field
// changes.
const CurrentConfigVersion = 1

type Config struct {
	Version int

	// IgnoreSSLProblems makes downloads accept invalid certificates;
	// handshake failures are then not reported.
	IgnoreSSLProblems bool

	// DataDir holds the maps and the flight route. The config directory
	// is used if it is empty.
	DataDir      string
	MapsIndexURL string

	Aircraft navigation.AircraftSettings
	Wind     navigation.WindSettings
}

func configDir(lg *log.Logger) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		lg.Errorf("Unable to find user config dir: %v", err)
		dir = "."
	}

	dir = filepath.Join(dir, "Enroute")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		lg.Errorf("%s: unable to make directory for config file: %v", dir, err)
	}
	return dir
}

func configFilePath(lg *log.Logger) string {
	return filepath.Join(configDir(lg), "config.json")
}

func (c *Config) dataDir(lg *log.Logger) string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return configDir(lg)
}

func (c *Config) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(c)
}

func (c *Config) Save(lg *log.Logger) error {
	lg.Infof("Saving config to: %s", configFilePath(lg))
	f, err := os.Create(configFilePath(lg))
	if err != nil {
		return err
	}
	defer f.Close()

	return c.Encode(f)
}

func getDefaultConfig() *Config {
	return &Config{
		Version:      CurrentConfigVersion,
		MapsIndexURL: datamanager.DefaultIndexURL,
		Aircraft: navigation.AircraftSettings{
			FuelConsumptionLPH: -1,
		},
		Wind: navigation.WindSettings{
			SpeedKnots: -1,
		},
	}
}

// LoadOrMakeDefaultConfig returns the saved configuration. If there is
// none, or it can't be read, the default configuration is returned, in
// the latter case together with the reason.
func LoadOrMakeDefaultConfig(lg *log.Logger) (*Config, error) {
	fn := configFilePath(lg)
	lg.Infof("Loading config from: %s", fn)

	contents, err := os.ReadFile(fn)
	if err != nil {
		return getDefaultConfig(), nil
	}
	return parseConfig(contents, lg)
}

func parseConfig(contents []byte, lg *log.Logger) (*Config, error) {
	config := getDefaultConfig()
	if err := util.UnmarshalJSONBytes(contents, config); err != nil {
		return getDefaultConfig(), err
	}

	// Unknown fields are most likely left over from another version;
	// they are worth a note in the log but nothing more.
	var e util.ErrorLogger
	util.CheckJSON[Config](contents, &e)
	if e.HaveErrors() {
		lg.Warnf("config: %s", e.String())
	}

	if config.Version > CurrentConfigVersion {
		return getDefaultConfig(), fmt.Errorf("config version %d is newer than this program's (%d)",
			config.Version, CurrentConfigVersion)
	}
	if config.MapsIndexURL == "" {
		config.MapsIndexURL = datamanager.DefaultIndexURL
	}
	config.Version = CurrentConfigVersion

	return config, nil
}
