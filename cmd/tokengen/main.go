// Command tokengen mints a bearer token accepted by a gateway configured
// with the same signing secret.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/weiawesome/wes-chat/internal/config"
	"github.com/weiawesome/wes-chat/pkg/jwt"
	pkglog "github.com/weiawesome/wes-chat/pkg/log"
)

func main() {
	userID := flag.String("user", "", "user id to put in the token")
	email := flag.String("email", "", "email used as the display handle")
	flag.Parse()

	l := pkglog.L()
	if *userID == "" {
		l.Fatal().Msg("-user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		l.Fatal().Err(err).Msg("failed to load config")
	}

	manager, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to create JWT manager")
	}

	token, err := manager.GenerateToken(*userID, *email)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to generate token")
	}
	fmt.Fprintln(os.Stdout, token)
}
