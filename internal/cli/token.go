package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/clawinfra/evosync/internal/config"
	"github.com/clawinfra/evosync/internal/security"
)

// TokenCommand handles 'evosync token': it mints a bearer token for the
// local API from api.jwtSecret.
func TokenCommand(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("evosync token", flag.ContinueOnError)
	configPath := fs.String("config", "evosync.yaml", "Config file")
	expiry := fs.Duration("expiry", 24*time.Hour, "Token lifetime")
	scope := fs.String("scope", "admin", "Token scope")
	subject := fs.String("subject", "", "Token subject (defaults to the device id or hostname)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if !security.ValidScope(*scope) {
		fmt.Fprintf(os.Stderr, "Error: unknown scope %q (use %s)\n", *scope, strings.Join(security.ValidScopes, ", "))
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fail(err)
	}
	if cfg.API.JWTSecret == "" {
		fmt.Fprintf(os.Stderr, "Error: api.jwtSecret is not set (or export %s)\n", config.EnvJWTSecret)
		return 1
	}

	sub := *subject
	if sub == "" {
		sub = cfg.MQTT.DeviceID
	}
	if sub == "" {
		sub, _ = os.Hostname()
	}

	tok, err := security.GenerateToken(sub, *scope, []byte(cfg.API.JWTSecret), *expiry)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintln(out, tok)
	return 0
}
