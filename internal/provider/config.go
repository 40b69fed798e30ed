// Environment-variable credential resolution, generalizing the teacher's
// ProviderConfigStore (src/chainadapter/provider/config.go), which persisted
// encrypted per-chain provider configs to disk, into the simpler env-var
// convention spec.md section 6 specifies: API keys via <PROVIDER>_API_KEY,
// exchange credentials via <EXCHANGE>_API_KEY/_SECRET/_PASSPHRASE.
package provider

import (
	"fmt"
	"os"
	"strings"
)

// Credentials holds the environment-sourced secrets for one provider.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string // optional, exchange-only
}

// ResolveAPIKey reads <PROVIDER>_API_KEY for a blockchain provider.
func ResolveAPIKey(providerName string) (string, error) {
	envVar := envName(providerName) + "_API_KEY"
	key := os.Getenv(envVar)
	if key == "" {
		return "", fmt.Errorf("provider: missing required env var %s", envVar)
	}
	return key, nil
}

// ResolveExchangeCredentials reads <EXCHANGE>_API_KEY, _SECRET, and the
// optional _PASSPHRASE for an exchange provider.
func ResolveExchangeCredentials(exchangeName string) (Credentials, error) {
	prefix := envName(exchangeName)
	key := os.Getenv(prefix + "_API_KEY")
	secret := os.Getenv(prefix + "_SECRET")
	if key == "" || secret == "" {
		return Credentials{}, fmt.Errorf("provider: missing %s_API_KEY/%s_SECRET", prefix, prefix)
	}
	return Credentials{
		APIKey:     key,
		Secret:     secret,
		Passphrase: os.Getenv(prefix + "_PASSPHRASE"),
	}, nil
}

func envName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
