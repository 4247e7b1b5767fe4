package main

import (
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/xvault/internal/config"
)

// authKey returns the token verification key: an HMAC secret or an RSA
// public key read from PEM.
func authKey(cfg config.AuthConfig) (interface{}, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	data, err := os.ReadFile(cfg.JWTPublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}
	return key, nil
}
