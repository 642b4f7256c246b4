package config

import "strings"

// normalize expands filesystem paths and canonicalizes enumerated values so
// validation and runtime code can rely on consistent shapes.
func (c *Config) normalize() error {
	var err error

	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return err
	}
	if c.Fetch.CookiesFile != "" {
		if c.Fetch.CookiesFile, err = expandPath(c.Fetch.CookiesFile); err != nil {
			return err
		}
	}
	if c.Tools.FFmpegLocation != "" {
		if c.Tools.FFmpegLocation, err = expandPath(c.Tools.FFmpegLocation); err != nil {
			return err
		}
	}
	if c.Daemon.SocketPath != "" {
		if c.Daemon.SocketPath, err = expandPath(c.Daemon.SocketPath); err != nil {
			return err
		}
	}

	c.Tools.Fetcher = strings.TrimSpace(c.Tools.Fetcher)
	c.Tools.FFmpeg = strings.TrimSpace(c.Tools.FFmpeg)
	c.Fetch.Format = strings.TrimSpace(c.Fetch.Format)
	c.Fetch.MergeContainer = strings.ToLower(strings.TrimSpace(c.Fetch.MergeContainer))
	c.Fetch.CookiesFromBrowser = strings.TrimSpace(c.Fetch.CookiesFromBrowser)
	c.Transcode.Codec = strings.ToLower(strings.TrimSpace(c.Transcode.Codec))
	c.Transcode.Preset = strings.ToLower(strings.TrimSpace(c.Transcode.Preset))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)

	if c.Fetch.Format == "" {
		c.Fetch.Format = DefaultFormatExpr
	}
	if c.Fetch.MergeContainer == "" {
		c.Fetch.MergeContainer = "mp4"
	}
	if c.Fetch.ConcurrentFragments < 1 {
		c.Fetch.ConcurrentFragments = 1
	}
	if c.Transcode.GracePeriodSeconds < 0 {
		c.Transcode.GracePeriodSeconds = 0
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = 10
	}
	if c.Daemon.EventBuffer < 16 {
		c.Daemon.EventBuffer = 16
	}

	return nil
}
