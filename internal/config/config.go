package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultFetchTimeout     = 15 * time.Second
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	// HandshakeTimeout bounds the websocket connect handshake.
	HandshakeTimeout time.Duration
	// FetchTimeout bounds history and notification fetches.
	FetchTimeout time.Duration
	// DegradedFallback enables the placeholder dataset used when the
	// backend is unreachable.
	DegradedFallback bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, degradedFallback bool) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:       serverAddr,
		DatabaseDSN:      databaseDSN,
		SigningKey:       signingKey,
		AllowedOrigins:   allowedOrigins,
		HandshakeTimeout: defaultHandshakeTimeout,
		FetchTimeout:     defaultFetchTimeout,
		DegradedFallback: degradedFallback,
	}, nil
}
