package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/credstore/internal/flagx"
	"github.com/dmitrijs2005/credstore/internal/timex"
)

// JSONConfig mirrors Config for unmarshalling; durations go through
// timex.Duration so both "15m" and integer nanoseconds are accepted. Pointer
// fields distinguish "absent" from a zero value.
type JSONConfig struct {
	Storage       *string         `json:"storage"`
	Root          *string         `json:"root"`
	DatabaseDSN   *string         `json:"database_dsn"`
	SQLitePath    *string         `json:"sqlite_path"`
	GRPCAddress   *string         `json:"grpc_address"`
	PasswdPath    *string         `json:"passwd_path"`
	ShadowPath    *string         `json:"shadow_path"`
	HomeBase      *string         `json:"home_base"`
	DefaultShell  *string         `json:"default_shell"`
	SyncShadow    *bool           `json:"sync_shadow"`
	KeyScheme     *string         `json:"key_scheme"`
	SessionSecret *string         `json:"session_secret"`
	SessionTTL    *timex.Duration `json:"session_ttl"`

	S3AccessKey    *string `json:"s3_access_key"`
	S3SecretKey    *string `json:"s3_secret_key"`
	S3Bucket       *string `json:"s3_bucket"`
	S3Region       *string `json:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`
	S3Prefix       *string `json:"s3_prefix"`

	LogLevel  *string `json:"log_level"`
	LogFormat *string `json:"log_format"`

	PasskeyRPID    *string         `json:"passkey_rp_id"`
	PasskeyRPName  *string         `json:"passkey_rp_name"`
	PasskeyOrigin  *string         `json:"passkey_origin"`
	PasskeyTimeout *timex.Duration `json:"passkey_timeout"`
}

// parseJSON overlays the file named by -c/-config, if any.
func parseJSON(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	c := &JSONConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.Storage, c.Storage)
	setString(&config.Root, c.Root)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SQLitePath, c.SQLitePath)
	setString(&config.GRPCAddress, c.GRPCAddress)
	setString(&config.PasswdPath, c.PasswdPath)
	setString(&config.ShadowPath, c.ShadowPath)
	setString(&config.HomeBase, c.HomeBase)
	setString(&config.DefaultShell, c.DefaultShell)
	if c.SyncShadow != nil {
		config.SyncShadow = *c.SyncShadow
	}
	setString(&config.KeyScheme, c.KeyScheme)
	setString(&config.SessionSecret, c.SessionSecret)
	if c.SessionTTL != nil {
		config.SessionTTL = c.SessionTTL.Duration
	}
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3Prefix, c.S3Prefix)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.Passkey.RPID, c.PasskeyRPID)
	setString(&config.Passkey.RPName, c.PasskeyRPName)
	setString(&config.Passkey.Origin, c.PasskeyOrigin)
	if c.PasskeyTimeout != nil {
		config.Passkey.Timeout = c.PasskeyTimeout.Duration
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
