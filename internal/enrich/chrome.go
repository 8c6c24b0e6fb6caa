package enrich

import (
	"context"
	"path/filepath"

	"github.com/3cpo-dev/specrun/internal/capability"
)

// Chrome points each task's downloads at its own directory through
// chromeOptions.prefs.download.
type Chrome struct{}

func NewChrome() *Chrome { return &Chrome{} }

func (c *Chrome) Kind() string { return "chrome" }

func (c *Chrome) Enrich(ctx context.Context, caps capability.Capabilities, taskID string) (capability.Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := caps.DownloadDirectory()
	if base == "" {
		return caps, nil
	}
	opts := caps.Map("chromeOptions")
	prefs, ok := opts["prefs"].(map[string]any)
	if !ok {
		prefs = map[string]any{}
		opts["prefs"] = prefs
	}
	prefs["download"] = map[string]any{
		"prompt_for_download": false,
		"default_directory":   filepath.Join(base, taskID),
	}
	return caps, nil
}
