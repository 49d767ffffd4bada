package config

import (
	"os"
	"strings"
)

const defaultConfigPath = "config/config.yml"

// Deployment environments selected through APP_ENV.
const (
	EnvironmentDevelopment = "development"
	EnvironmentStaging     = "staging"
	EnvironmentProduction  = "production"
)

// envNames maps accepted APP_ENV spellings to an environment.
var envNames = map[string]string{
	"":            EnvironmentDevelopment,
	"dev":         EnvironmentDevelopment,
	"prod":        EnvironmentProduction,
	"producation": EnvironmentProduction,
	"stag":        EnvironmentStaging,
	"stagging":    EnvironmentStaging,
}

// envFiles are the per-environment replacements for the default file.
var envFiles = map[string]string{
	EnvironmentStaging:    "config/config.staging.yml",
	EnvironmentProduction: "config/config.prod.yml",
}

// AppEnvironment returns the normalised value of APP_ENV, development when
// unset.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if name, ok := envNames[env]; ok {
		return name
	}
	return env
}

// ResolvePath picks the file to load. An explicit path other than the
// default is kept. Otherwise the file of the current environment is used
// when it exists.
func ResolvePath(path string) string {
	if path != "" && path != defaultConfigPath {
		return path
	}
	if f, ok := envFiles[AppEnvironment()]; ok {
		if _, err := os.Stat(f); err == nil {
			return f
		}
	}
	return defaultConfigPath
}

// IsProductionLike reports whether env is staging or production. Those
// refuse to run without a storage sink.
func IsProductionLike(env string) bool {
	return env == EnvironmentProduction || env == EnvironmentStaging
}
