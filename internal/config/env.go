package config

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"
)

// EnvFileName is read from the config directory when present.
const EnvFileName = "specrun.env"

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadEnvFile reads KEY=VALUE pairs. Blank lines and lines starting with # are
// ignored. A missing file yields an empty map.
func LoadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()
	out := map[string]string{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
			out[k] = v
		}
	}
	return out, s.Err()
}

// Expand replaces ${VAR} with the value from env, then the process environment.
// Unknown references are left as written.
func Expand(content []byte, env map[string]string) []byte {
	return envRef.ReplaceAllFunc(content, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		if v, ok := env[name]; ok {
			return []byte(v)
		}
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return m
	})
}
