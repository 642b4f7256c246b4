package config

import (
	"fmt"
	"strings"
)

var validLogFormats = map[string]bool{
	"console": true,
	"json":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the mechanical integrity of the configuration: required
// paths present, enumerations in range. Codec and preset names are checked
// at submission time where the transcode argument tables live.
func (c *Config) Validate() error {
	var problems []string

	if c.Paths.DownloadDir == "" {
		problems = append(problems, "paths.download_dir must not be empty")
	}
	if c.Paths.LogDir == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.Paths.StateDir == "" {
		problems = append(problems, "paths.state_dir must not be empty")
	}
	if c.Tools.Fetcher == "" {
		problems = append(problems, "tools.fetcher must not be empty")
	}
	if c.Tools.FFmpeg == "" {
		problems = append(problems, "tools.ffmpeg must not be empty")
	}
	if !validLogFormats[c.Logging.Format] {
		problems = append(problems, fmt.Sprintf("logging.format %q is not one of console, json", c.Logging.Format))
	}
	if !validLogLevels[c.Logging.Level] {
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if c.Fetch.CookiesFile != "" && c.Fetch.CookiesFromBrowser != "" {
		problems = append(problems, "fetch.cookies_file and fetch.cookies_from_browser are mutually exclusive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
