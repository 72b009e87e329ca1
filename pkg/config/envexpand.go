package config

import (
	"bytes"
	"os"
	"text/template"
)

// expandEnv expands environment variables in YAML content using Go
// templates with {{.VAR_NAME}} syntax. Plain $ characters pass through
// untouched, so regex patterns and passwords in config values survive.
//
// Missing variables expand to empty string; a malformed template returns
// the original data so the YAML parser can report the real problem.
func expandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		// Split only on first = to handle values with = in them
		if idx := bytes.IndexByte([]byte(env), '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}

	return buf.Bytes()
}
