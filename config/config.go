package config

import (
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
)

type Path string

func (p Path) Join(elem ...string) Path {
	parts := append([]string{string(p)}, elem...)
	return Path(filepath.Join(parts...))
}

func (p Path) ToString() string {
	return string(p)
}

// Load reads configuration from the given file, with environment variables
// taking precedence over file values.
func Load(path Path, cfg any) error {
	err := cleanenv.ReadConfig(path.ToString(), cfg)
	return err
}

// LoadEnv reads configuration from environment variables only.
func LoadEnv(cfg any) error {
	return cleanenv.ReadEnv(cfg)
}
