package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strings"

	"code.superseriousbusiness.org/httpsig"

	"github.com/ziadhany/federatedcode/util"
)

const (
	serverKeyFile = "server_key.pem"
	serverPubFile = "server_key.pub"
)

// ServerKeyId returns the key id this server signs outbound requests with.
func ServerKeyId(domain string) string {
	return fmt.Sprintf("https://%s/actor#main-key", domain)
}

// LoadServerKeys reads the server signing keypair from the config
// directory, generating and persisting one on first use.
func LoadServerKeys() (*rsa.PrivateKey, string, error) {
	keyPath := util.ResolveFilePath(serverKeyFile)
	pubPath := util.ResolveFilePath(serverPubFile)

	keyPem, err := os.ReadFile(keyPath)
	if err == nil {
		pubPem, err := os.ReadFile(pubPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read public key: %w", err)
		}
		key, err := ParsePrivateKey(string(keyPem))
		if err != nil {
			return nil, "", err
		}
		return key, string(pubPem), nil
	}
	if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read private key: %w", err)
	}

	pair := util.GeneratePemKeypair()
	if err := os.WriteFile(keyPath, []byte(pair.Private), 0600); err != nil {
		return nil, "", fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(pair.Public), 0644); err != nil {
		return nil, "", fmt.Errorf("failed to write public key: %w", err)
	}
	key, err := ParsePrivateKey(pair.Private)
	if err != nil {
		return nil, "", err
	}
	return key, pair.Public, nil
}

// SignRequest signs an outgoing HTTP request over (request-target), host,
// date and digest. The Digest header must already be set from the body.
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, nil)
}

// BodyDigest computes the Digest header value for a request body.
func BodyDigest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// VerifyRequest checks the Digest header against the body and verifies the
// HTTP signature with the given PEM public key. Returns the actor URI the
// signing key belongs to.
func VerifyRequest(req *http.Request, body []byte, publicKeyPem string) (string, error) {
	digest := req.Header.Get("Digest")
	if digest == "" {
		return "", fmt.Errorf("%w: missing digest header", ErrAuthorization)
	}
	if digest != BodyDigest(body) {
		return "", fmt.Errorf("%w: digest mismatch", ErrAuthorization)
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthorization, err)
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	keyId := verifier.KeyId()
	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("%w: signature verification failed: %v", ErrAuthorization, err)
	}

	// keyId is "https://example.com/users/alice#main-key", the actor URI
	// is everything before the fragment.
	return strings.Split(keyId, "#")[0], nil
}

// ParsePrivateKey converts a PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts a PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
