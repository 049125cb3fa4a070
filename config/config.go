// Package config loads the core's TOML configuration file, the same way
// the teacher's config.go loads nitrous's settings: a defaulted struct,
// overridden field-by-field by whatever the file contains, resolved via a
// flag path / environment variable / XDG default in that order.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the core's on-disk configuration. It generalizes the teacher's
// single-identity TUI config to the signer/messaging core: relay lists,
// the rotation/timeout knobs named in spec §4.2, §4.9, §5, and the
// Blossom media servers used by MediaEngine (§4.13).
type Config struct {
	DataDir string `toml:"data_dir"`

	Relays          []string `toml:"relays"`
	BlossomServers  []string `toml:"blossom_servers"`
	KeyPackageRelay string   `toml:"key_package_relay"`

	// SessionTimeoutSecs is the SessionManager idle-lock timeout. 0 disables
	// auto-lock (spec §4.2).
	SessionTimeoutSecs uint32 `toml:"session_timeout_secs"`

	// KeyPackageRotationHours is the KeyPackageManager rotation interval
	// (spec §4.9, default 24h).
	KeyPackageRotationHours uint32 `toml:"key_package_rotation_hours"`

	// RelayPublishTimeoutSecs bounds a single relay publish (spec §5, default 10s).
	RelayPublishTimeoutSecs uint32 `toml:"relay_publish_timeout_secs"`

	// VaultTimeoutSecs bounds a single vault read (spec §5, default 2s).
	VaultTimeoutSecs uint32 `toml:"vault_timeout_secs"`

	// NIP49LogN is the scrypt difficulty used for NIP-49 backups minted by
	// this core (spec §4.5). Higher is slower and more resistant to
	// brute force; 16 matches the reference NIP-49 implementations' default.
	NIP49LogN uint8 `toml:"nip49_log_n"`
}

func defaultConfig() Config {
	return Config{
		Relays: []string{
			"wss://relay.damus.io",
			"wss://relay.nostr.band",
			"wss://nos.lol",
		},
		SessionTimeoutSecs:      900,
		KeyPackageRotationHours: 24,
		RelayPublishTimeoutSecs: 10,
		VaultTimeoutSecs:        2,
		NIP49LogN:               16,
	}
}

// Path resolves the config file location: explicit flag path, then
// NITROUS_SIGNER_CONFIG env var, then ~/.config/nitrous-signer/config.toml.
func Path(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("NITROUS_SIGNER_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "nitrous-signer", "config.toml")
}

// Load reads and merges the config file over the defaults. A missing file
// is not an error — it yields the defaults, same as the teacher's LoadConfig.
func Load(flagPath string) (Config, error) {
	cfg := defaultConfig()

	path := Path(flagPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if cfg.DataDir == "" {
				cfg.DataDir = filepath.Dir(path)
			}
			return cfg, nil
		}
		return cfg, err
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	if len(cfg.Relays) == 0 {
		cfg.Relays = defaultConfig().Relays
	}
	if cfg.SessionTimeoutSecs == 0 {
		// explicit zero from the file means "disable auto-lock" (spec §4.2);
		// only fill in the default when the key was entirely absent.
		if !hasKey(data, "session_timeout_secs") {
			cfg.SessionTimeoutSecs = defaultConfig().SessionTimeoutSecs
		}
	}
	if cfg.KeyPackageRotationHours == 0 {
		cfg.KeyPackageRotationHours = defaultConfig().KeyPackageRotationHours
	}
	if cfg.RelayPublishTimeoutSecs == 0 {
		cfg.RelayPublishTimeoutSecs = defaultConfig().RelayPublishTimeoutSecs
	}
	if cfg.VaultTimeoutSecs == 0 {
		cfg.VaultTimeoutSecs = defaultConfig().VaultTimeoutSecs
	}
	if cfg.NIP49LogN == 0 {
		cfg.NIP49LogN = defaultConfig().NIP49LogN
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(path)
	}

	return cfg, nil
}

// hasKey does a cheap textual check for whether a key was present in the
// raw TOML, since toml.Unmarshal can't distinguish "absent" from "zero".
func hasKey(data []byte, key string) bool {
	var generic map[string]any
	if err := toml.Unmarshal(data, &generic); err != nil {
		return false
	}
	_, ok := generic[key]
	return ok
}
