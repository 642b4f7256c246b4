package testsupport

import (
	"testing"

	"capstan/internal/config"
	"capstan/internal/driver"
	"capstan/internal/services/ffmpeg"
	"capstan/internal/services/ytdlp"
)

// MustClients builds tool clients from the config's binary names, backed by
// the given executor.
func MustClients(t testing.TB, cfg *config.Config, exec driver.Executor) (*ytdlp.Client, *ffmpeg.Client) {
	t.Helper()

	fetcher, err := ytdlp.New(cfg.Tools.Fetcher, ytdlp.WithExecutor(exec))
	if err != nil {
		t.Fatalf("new fetch client: %v", err)
	}
	transcoder, err := ffmpeg.New(cfg.Tools.FFmpeg, ffmpeg.WithExecutor(exec))
	if err != nil {
		t.Fatalf("new transcoder client: %v", err)
	}
	return fetcher, transcoder
}
