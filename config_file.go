package authcore

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadConfigFile decodes a TOML file over DefaultConfig and resolves the key
// file paths it names. Unknown keys are an error so a typo cannot silently
// fall back to a default.
//
// Durations are written as Go duration strings:
//
//	[jwt]
//	access_ttl = "5m"
//	private_key_file = "/run/secrets/jwt.key"
//
//	[lockout]
//	max_attempts = 5
//	window = "15m"
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.JWT.loadKeyFiles(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (j *JWTConfig) loadKeyFiles() error {
	if j.PrivateKeyFile != "" {
		b, err := os.ReadFile(j.PrivateKeyFile)
		if err != nil {
			return fmt.Errorf("read jwt private key: %w", err)
		}
		j.PrivateKey = bytes.TrimSpace(b)
	}
	if j.PublicKeyFile != "" {
		b, err := os.ReadFile(j.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("read jwt public key: %w", err)
		}
		j.PublicKey = bytes.TrimSpace(b)
	}
	return nil
}
