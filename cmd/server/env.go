package main

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// loadEnvFile reads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// applyEnvOverrides sets every flag not given on the command line from
// LAYERFORGE_<NAME>, e.g. -data from LAYERFORGE_DATA.
func applyEnvOverrides(fs *flag.FlagSet) error {
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	var firstErr error
	fs.VisitAll(func(f *flag.Flag) {
		if explicit[f.Name] || firstErr != nil {
			return
		}
		v, ok := os.LookupEnv(envKey(f.Name))
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		firstErr = fs.Set(f.Name, strings.TrimSpace(v))
	})
	return firstErr
}

func envKey(flagName string) string {
	return "LAYERFORGE_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
