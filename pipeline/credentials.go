package pipeline

import (
	"context"
	"fmt"
	"strings"

	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
)

// SecretGetter fetches a secret by name and decodes its JSON value into v.
type SecretGetter interface {
	GetSecretJSON(ctx context.Context, name string, v any) error
}

// Credentials are the SFTP login details held in the secret.
type Credentials struct {
	Host     string
	Username string
	Password string
}

// String omits the password so credentials are safe to log.
func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s", c.Username, c.Host)
}

// Accepted field names, in order of preference.
var (
	hostFields     = []string{"host", "SFTP_TEST_SERVER_HOST"}
	usernameFields = []string{"username", "SFTP_TEST_SERVER_USERNAME"}
	passwordFields = []string{"password", "SFTP_TEST_SERVER_PASSWORD"}
)

// credentialsFrom picks the host, username and password out of a decoded
// secret. Each must be a non-empty string. Values never appear in the error.
func credentialsFrom(fields map[string]any) (Credentials, error) {
	var missing []string
	pick := func(names []string) string {
		for _, name := range names {
			if s, ok := fields[name].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
		missing = append(missing, names[0])
		return ""
	}

	creds := Credentials{
		Host:     strings.TrimSpace(pick(hostFields)),
		Username: pick(usernameFields),
		Password: pick(passwordFields),
	}
	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("secret is missing fields: %s", strings.Join(missing, ", "))
	}

	return creds, nil
}

// resolveCredentials fetches and decodes the SFTP credentials. Every failure
// is an INVALID_CONFIGURATION error: the job cannot proceed without them.
func (p *Pipeline) resolveCredentials(ctx context.Context, secretName string) (Credentials, error) {
	log := p.logger.With().Str("phase", "credentials").Str("secret_name", secretName).Logger()

	var fields map[string]any
	if err := p.secrets.GetSecretJSON(ctx, secretName, &fields); err != nil {
		return Credentials{}, ingesterrors.Configuration("resolve credentials", err)
	}

	creds, err := credentialsFrom(fields)
	if err != nil {
		return Credentials{}, ingesterrors.Configuration("resolve credentials", fmt.Errorf("%s: %w", secretName, err))
	}

	log.Debug().Str("host", creds.Host).Str("user", creds.Username).Msg("credentials resolved")

	return creds, nil
}
