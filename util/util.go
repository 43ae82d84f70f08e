package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
)

type RsaKeyPair struct {
	Private string
	Public  string
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

func GeneratePemKeypair() *RsaKeyPair {
	bitSize := 4096

	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		panic(err)
	}

	keyPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		},
	)

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		panic(err)
	}

	pubPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		},
	)

	return &RsaKeyPair{Private: string(keyPEM[:]), Public: string(pubPEM[:])}
}

// ParseWebfinger splits a webfinger subject into user part and host.
// Accepts both "acct:alice@example.com" and "alice@example.com".
// Package accounts look like "pkg:npm/left-pad@example.com" so the split
// happens on the last "@".
func ParseWebfinger(subject string) (string, string) {
	subject = strings.TrimPrefix(subject, "acct:")
	idx := strings.LastIndex(subject, "@")
	if idx < 0 {
		return subject, ""
	}
	return subject[:idx], subject[idx+1:]
}

// GenerateWebfinger returns the acct string for an identity on a domain,
// ex: "alice@example.com" or "pkg:npm/left-pad@example.com"
func GenerateWebfinger(identity, domain string) string {
	return identity + "@" + domain
}

func PairToWebfinger(user, domain string) string {
	return fmt.Sprintf("acct:%s@%s", user, domain)
}
