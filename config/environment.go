package config

import (
	"os"
	"strings"
)

const appEnvVar = "APP_ENV"

const (
	EnvironmentDevelopment = "development"
	EnvironmentStaging     = "staging"
	EnvironmentProduction  = "production"
)

// Misspellings seen in deployment manifests are accepted on purpose.
var environmentAliases = map[string]string{
	"dev":         EnvironmentDevelopment,
	"develop":     EnvironmentDevelopment,
	"prod":        EnvironmentProduction,
	"producation": EnvironmentProduction,
	"stag":        EnvironmentStaging,
	"stage":       EnvironmentStaging,
	"stagging":    EnvironmentStaging,
}

// AppEnvironment returns the canonical name of APP_ENV, development when unset.
// Unknown names are returned lower-cased as they are.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	switch {
	case env == "":
		return EnvironmentDevelopment
	case environmentAliases[env] != "":
		return environmentAliases[env]
	default:
		return env
	}
}

// IsProductionLike reports whether env must refuse insecure upstream TLS.
func IsProductionLike(env string) bool {
	return env == EnvironmentProduction || env == EnvironmentStaging
}

// ResolvePath returns the configuration file to load. An empty path, or the
// default one, is swapped for config/config.<env>.yml when that file exists.
func ResolvePath(path string) string {
	if path == "" {
		path = DefaultPath
	}
	if path != DefaultPath {
		return path
	}
	candidate := strings.TrimSuffix(DefaultPath, ".yml") + "." + AppEnvironment() + ".yml"
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}
