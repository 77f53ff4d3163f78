package util

import "os"

// GetEnv reads key from the environment, falling back to def when unset
// or blank.
func GetEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
