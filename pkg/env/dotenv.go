// Package env loads .env files into the process environment.
package env

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

func LoadFromDir(dir string) error {
	return Load(filepath.Join(dir, ".env"))
}

// Load reads path if it exists. Variables that are already set keep their
// value.
func Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
