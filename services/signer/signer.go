// Package signer signs attestation payloads with an Ed25519 key derived from
// an age secret key.
package signer

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

const (
	EnvAgeSecretKey = "AGE_SECRET_KEY"
	EnvAgePublicKey = "AGE_PUBLIC_KEY"
)

// ErrNotConfigured is returned by NewFromEnv when neither key is set.
var ErrNotConfigured = errors.New("signer: no key configured")

// Payload is the attested content covered by a signature.
type Payload struct {
	Target        string `json:"target"`
	CodeHash      string `json:"codeHash"`
	SecurityScore int    `json:"securityScore"`
	ReportHash    string `json:"reportHash"`
	ModelVersion  string `json:"modelVersion"`
}

// Canonical returns the sorted-key JSON encoding of p.
func (p Payload) Canonical() ([]byte, error) {
	// encoding/json writes map keys in sorted order.
	return json.Marshal(map[string]any{
		"codeHash":      p.CodeHash,
		"modelVersion":  p.ModelVersion,
		"reportHash":    p.ReportHash,
		"securityScore": p.SecurityScore,
		"target":        p.Target,
	})
}

// Signature travels with a signed report.
type Signature struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
	PublicKey string `json:"publicKey"`
}

// Signer signs and verifies payloads.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	recipient  string
}

// NewFromEnv reads AGE_SECRET_KEY and AGE_PUBLIC_KEY. It returns
// ErrNotConfigured when both are empty.
func NewFromEnv() (*Signer, error) {
	secret := strings.TrimSpace(os.Getenv(EnvAgeSecretKey))
	pub := strings.TrimSpace(os.Getenv(EnvAgePublicKey))
	if secret == "" && pub == "" {
		return nil, ErrNotConfigured
	}
	return New(secret, pub)
}

// New builds a signer from an age secret key and/or a base64 Ed25519 public
// key. A signer with only a public key can verify but not sign.
func New(secret, pub string) (*Signer, error) {
	var (
		privateKey ed25519.PrivateKey
		publicKey  ed25519.PublicKey
		recipient  string
	)

	if secret != "" {
		seed, err := decodeAgeSecretKey(secret)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvAgeSecretKey, err)
		}
		privateKey = ed25519.NewKeyFromSeed(seed)
		publicKey = ed25519.PublicKey(privateKey[ed25519.SeedSize:])

		if identity, err := age.ParseX25519Identity(secret); err == nil {
			recipient = identity.Recipient().String()
		}
	}

	if pub != "" {
		decoded, err := base64.StdEncoding.DecodeString(pub)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", EnvAgePublicKey, err)
		}
		if l := len(decoded); l != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%s must decode to %d bytes, got %d", EnvAgePublicKey, ed25519.PublicKeySize, l)
		}
		if publicKey == nil {
			publicKey = ed25519.PublicKey(decoded)
		} else if !bytes.Equal(publicKey, decoded) {
			return nil, errors.New("AGE_PUBLIC_KEY does not match AGE_SECRET_KEY")
		}
	}

	if publicKey == nil {
		return nil, errors.New("no public key available for signer")
	}
	return &Signer{privateKey: privateKey, publicKey: publicKey, recipient: recipient}, nil
}

// Sign signs the canonical encoding of p.
func (s *Signer) Sign(p Payload) (*Signature, error) {
	if s == nil {
		return nil, errors.New("nil signer")
	}
	if len(s.privateKey) == 0 {
		return nil, errors.New("signer configured without private key")
	}
	msg, err := p.Canonical()
	if err != nil {
		return nil, err
	}
	return &Signature{
		Algorithm: "ed25519",
		Value:     base64.StdEncoding.EncodeToString(ed25519.Sign(s.privateKey, msg)),
		PublicKey: s.PublicKeyBase64(),
	}, nil
}

// Verify checks sig over p. When sig names a public key it must match the
// configured one.
func (s *Signer) Verify(p Payload, sig Signature) error {
	if s == nil {
		return errors.New("nil signer")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sig.Value))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length %d", len(sigBytes))
	}
	if sig.PublicKey != "" && sig.PublicKey != s.PublicKeyBase64() {
		return errors.New("payload signed by unexpected key")
	}
	msg, err := p.Canonical()
	if err != nil {
		return err
	}
	if !ed25519.Verify(s.publicKey, msg, sigBytes) {
		return errors.New("signature verification failed")
	}
	return nil
}

// PublicKeyBase64 returns the Ed25519 public key in base64.
func (s *Signer) PublicKeyBase64() string {
	if s == nil || len(s.publicKey) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.publicKey)
}

// Recipient is the age recipient of the secret key, if one was given.
func (s *Signer) Recipient() string {
	if s == nil {
		return ""
	}
	return s.recipient
}

func decodeAgeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(decoded) != ed25519.SeedSize {
		return nil, fmt.Errorf("unexpected seed length %d", len(decoded))
	}
	return decoded, nil
}
