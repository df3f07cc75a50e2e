// devtoken выпускает access-токен для локальной отладки API.
//
//	go run ./cmd/devtoken -user u-b1 -role brand
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cwrk-planet/inquiry-service/config"
	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/identity"
)

var (
	userID  = flag.String("user", "", "subject (user id)")
	role    = flag.String("role", "brand", "role: creator|brand|admin")
	ttl     = flag.Duration("ttl", time.Hour, "token lifetime")
	keyPath = flag.String("key", "", "RSA private key (PEM) for RS256; HS256 secret is taken from config")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	r, err := domain.ParseRole(*role)
	if err != nil {
		log.Fatalf("role: %v", err)
	}
	actor := domain.Actor{UserID: *userID, Role: r}
	if !actor.Valid() {
		log.Fatal("-user is required")
	}

	var signer *identity.Signer
	switch cfg.Auth.Alg {
	case identity.AlgRS256:
		if *keyPath == "" {
			log.Fatal("-key is required for RS256")
		}
		priv, err := identity.LoadRSAPrivateKeyFromPEM(*keyPath)
		if err != nil {
			log.Fatalf("private key: %v", err)
		}
		signer = identity.NewRSASigner(priv, cfg.Auth.Issuer, cfg.Auth.Audience, *ttl)
	default:
		signer = identity.NewHMACSigner([]byte(cfg.Auth.HMACSecret), cfg.Auth.Issuer, cfg.Auth.Audience, *ttl)
	}

	tok, err := signer.Sign(actor, time.Now())
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Fprintln(os.Stdout, tok)
}
