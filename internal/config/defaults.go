package config

const (
	defaultFetcherBinary = "yt-dlp"
	defaultFFmpegBinary  = "ffmpeg"

	// DefaultFormatExpr prefers a single-container mp4 merge and degrades
	// toward whatever the source offers.
	DefaultFormatExpr = "bv*[ext=mp4]+ba*[ext=m4a]/b*[ext=mp4]/bestvideo+bestaudio/best"
)

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		Paths: Paths{
			DownloadDir: "~/Downloads/capstan",
			LogDir:      "~/.local/share/capstan/logs",
			StateDir:    "~/.local/share/capstan",
		},
		Tools: Tools{
			Fetcher:        defaultFetcherBinary,
			FFmpeg:         defaultFFmpegBinary,
			FFmpegLocation: "",
		},
		Fetch: Fetch{
			Format:              DefaultFormatExpr,
			MergeContainer:      "mp4",
			ConcurrentFragments: 8,
			ForceOverwrites:     true,
			WriteThumbnail:      true,
			CookiesFile:         "",
			CookiesFromBrowser:  "",
		},
		Transcode: Transcode{
			Codec:              "",
			Preset:             "",
			GracePeriodSeconds: 2,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
		Notifications: Notifications{
			NtfyTopic:      "",
			RequestTimeout: 10,
		},
		Daemon: Daemon{
			SocketPath:  "",
			EventBuffer: 256,
		},
	}
}
