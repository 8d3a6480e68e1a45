package cryptox

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ParsePublicKey accepts a PEM block ("PUBLIC KEY" or "RSA PUBLIC KEY") or
// the bare base64 DER the study server hands out at registration.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	der, err := toDER(data)
	if err != nil {
		return nil, err
	}
	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, not RSA", pub)
		}
		return rsaPub, nil
	}
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

// ParsePrivateKey accepts PKCS #1 or PKCS #8 RSA private keys in PEM or bare
// base64 DER.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	der, err := toDER(data)
	if err != nil {
		return nil, err
	}
	if priv, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return priv, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", key)
	}
	return priv, nil
}

// LoadPublicKey reads and parses a public key file.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParsePublicKey(data)
}

// LoadPrivateKey reads and parses a private key file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return ParsePrivateKey(data)
}

func toDER(data []byte) ([]byte, error) {
	if block, _ := pem.Decode(data); block != nil {
		return block.Bytes, nil
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return nil, errors.New("empty key")
	}
	if der, err := base64.StdEncoding.DecodeString(s); err == nil {
		return der, nil
	}
	der, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("key is neither PEM nor base64 DER")
	}
	return der, nil
}
