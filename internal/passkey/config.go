package passkey

import "time"

// Config holds relying party settings used when building creation and
// request options and when the software authenticator builds client data.
// The env tags are read by the application config's environment overlay.
type Config struct {
	RPID    string        `env:"CREDSTORE_PASSKEY_RP_ID"`
	RPName  string        `env:"CREDSTORE_PASSKEY_RP_NAME"`
	Origin  string        `env:"CREDSTORE_PASSKEY_ORIGIN"`
	Timeout time.Duration `env:"CREDSTORE_PASSKEY_TIMEOUT"`
}

// DefaultConfig returns the relying party used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		RPID:    "localhost",
		RPName:  "credstore",
		Origin:  "https://localhost",
		Timeout: time.Minute,
	}
}
