package enrich

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/3cpo-dev/specrun/internal/capability"
)

// ProfileKey holds the base64 encoded, zipped Firefox profile.
const ProfileKey = "firefox_profile"

// Firefox builds a throwaway profile whose download preferences point at a
// per-task directory and attaches it to the capability.
type Firefox struct{}

func NewFirefox() *Firefox { return &Firefox{} }

func (f *Firefox) Kind() string { return "firefox" }

func (f *Firefox) Enrich(ctx context.Context, caps capability.Capabilities, taskID string) (capability.Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := caps.DownloadDirectory()
	if base == "" {
		return caps, nil
	}
	dir := filepath.Join(base, taskID)
	prefs := map[string]any{
		"browser.download.dir":                      dir,
		"browser.download.defaultFolder":            dir,
		"browser.download.folderList":               2,
		"browser.download.manager.showWhenStarting": false,
		"browser.helperApps.alwaysAsk.force":        false,
		"browser.helperApps.neverAsk.saveToDisk":    "application/octet-stream",
	}
	encoded, err := EncodeProfile(prefs)
	if err != nil {
		return nil, fmt.Errorf("encode firefox profile for task %s: %w", taskID, err)
	}
	caps[ProfileKey] = encoded
	return caps, nil
}

// EncodeProfile renders prefs as a user.js file, zips it and returns the base64
// encoding WebDriver expects for a Firefox profile.
func EncodeProfile(prefs map[string]any) (string, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("user.js")
	if err != nil {
		return "", err
	}
	if _, err := w.Write([]byte(UserJS(prefs))); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// UserJS renders prefs as user_pref lines in key order.
func UserJS(prefs map[string]any) string {
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "user_pref(%s, %s);\n", strconv.Quote(k), prefValue(prefs[k]))
	}
	return b.String()
}

func prefValue(v any) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	default:
		return strconv.Quote(fmt.Sprint(t))
	}
}
