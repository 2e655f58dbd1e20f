package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig           = "PAPERFS_CONFIG"
	EnvBindAddr         = "PAPERFS_BIND_ADDR"
	EnvExposedURL       = "PAPERFS_EXPOSED_URL"
	EnvOneDriveRoot     = "ONEDRIVE_ROOT"
	EnvOneDriveClientID = "ONEDRIVE_CLIENT_ID"
	EnvOneDriveSecret   = "ONEDRIVE_CLIENT_SECRET" //nolint:gosec // variable name, not a credential
)

// EnvOverrides holds values derived from environment variables. Empty
// means unset.
type EnvOverrides struct {
	ConfigPath   string // PAPERFS_CONFIG: override config file path
	BindAddr     string // PAPERFS_BIND_ADDR
	ExposedURL   string // PAPERFS_EXPOSED_URL
	Root         string // ONEDRIVE_ROOT
	ClientID     string // ONEDRIVE_CLIENT_ID
	ClientSecret string // ONEDRIVE_CLIENT_SECRET
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		BindAddr:     os.Getenv(EnvBindAddr),
		ExposedURL:   os.Getenv(EnvExposedURL),
		Root:         os.Getenv(EnvOneDriveRoot),
		ClientID:     os.Getenv(EnvOneDriveClientID),
		ClientSecret: os.Getenv(EnvOneDriveSecret),
	}
}

// apply copies every set override into cfg.
func (e EnvOverrides) apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&cfg.Server.BindAddr, e.BindAddr)
	set(&cfg.Server.ExposedURL, e.ExposedURL)
	set(&cfg.OneDrive.Root, e.Root)
	set(&cfg.OneDrive.ClientID, e.ClientID)
	set(&cfg.OneDrive.ClientSecret, e.ClientSecret)
}
