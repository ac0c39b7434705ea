package fleet

import (
	"context"
	"os"
	"strings"

	"github.com/olavhq/olav/internal/olaverr"
)

// EnvCredentialProvider resolves a credential reference to a username and
// secret pulled from the process environment: ref "lab" resolves
// OLAV_CRED_LAB_USER and OLAV_CRED_LAB_SECRET. This keeps device
// credentials out of the agent directory entirely, matching the teacher's
// own preference for environment-sourced secrets over files on disk.
type EnvCredentialProvider struct{}

// NewEnvCredentialProvider builds an EnvCredentialProvider.
func NewEnvCredentialProvider() EnvCredentialProvider { return EnvCredentialProvider{} }

// Resolve implements fleet.CredentialProvider.
func (EnvCredentialProvider) Resolve(ctx context.Context, ref string) (username, secret string, err error) {
	key := envKey(ref)
	username = os.Getenv("OLAV_CRED_" + key + "_USER")
	secret = os.Getenv("OLAV_CRED_" + key + "_SECRET")
	if username == "" || secret == "" {
		return "", "", olaverr.New(olaverr.Auth, "no credentials configured for reference "+ref)
	}
	return username, secret, nil
}

func envKey(ref string) string {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	var b strings.Builder
	for _, r := range ref {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
