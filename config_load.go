package cookieauth

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// LoadConfig starts from DefaultConfig, overlays the YAML file at path and
// then COOKIEAUTH_* environment variables. An empty path reads the
// environment only. The result is validated.
func LoadConfig(path string) (Config, error) {
	const op = "cookieauth.LoadConfig"

	cfg := DefaultConfig()
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", op, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}
