package config

import (
	"strconv"
	"strings"
)

// Environment variables read by ApplyEnv.
const (
	EnvHostname           = "RPZ_HOSTNAME"
	EnvVUCount            = "RPZ_VU_COUNT"
	EnvInsecureSkipVerify = "RPZ_INSECURE_SKIP_VERIFY"
)

// ApplyEnv overlays environment variables on config. Unset or empty
// variables leave the config untouched. All malformed values are reported
// together.
func ApplyEnv(config *TestConfig, getenv func(string) string) error {
	errs := &ValidationErrors{}

	if v := strings.TrimSpace(getenv(EnvHostname)); v != "" {
		config.Target.Hostname = v
	}

	if v := strings.TrimSpace(getenv(EnvVUCount)); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil:
			errs.Add(EnvVUCount, "must be an integer, got "+strconv.Quote(v))
		case n <= 0:
			errs.Add(EnvVUCount, "must be greater than 0")
		default:
			config.VUs = n
		}
	}

	if v := strings.TrimSpace(getenv(EnvInsecureSkipVerify)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs.Add(EnvInsecureSkipVerify, "must be a boolean, got "+strconv.Quote(v))
		} else {
			config.Target.InsecureSkipVerify = b
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
