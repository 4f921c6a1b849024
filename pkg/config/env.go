package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Wrapper for godotenv.Load that expands ~ to $HOME
func LoadEnv(files ...string) error {
	for _, file := range files {
		file = ExpandHome(file)
		if err := godotenv.Load(file); err != nil {
			return err
		}
	}
	return nil
}

// Expand ~ to $HOME
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = strings.Replace(path, "~", home, 1)
	}
	return path
}
