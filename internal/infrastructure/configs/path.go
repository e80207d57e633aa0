package configs

import (
	"os"

	"github.com/hilthontt/roomdrop/internal/infrastructure/env"
)

// DetermineConfigPath resolves the config file from the flag value, the
// ROOMDROP_CONFIG variable, then a list of well-known locations. An empty
// result means defaults and environment only.
func DetermineConfigPath(flagValue string) string {
	configPath := flagValue

	if configPath == "" {
		configPath = env.GetString("ROOMDROP_CONFIG", "")
	}

	if configPath == "" {
		candidates := []string{
			"./config.yaml",
			"./config.yml",
			"/etc/roomdrop/config.yaml",
			"/app/config.yaml", // common in Docker
		}

		for _, p := range candidates {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	return configPath
}
