package cryptox

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DecryptKeyLine recovers the symmetric key from the first line of a stream
// file. It is the server's half of WrapKey.
func DecryptKeyLine(line string, priv *rsa.PrivateKey) ([]byte, error) {
	wrapped, err := Decode(strings.TrimSpace(line))
	if err != nil {
		return nil, fmt.Errorf("decode key line: %w", err)
	}
	encodedKey, err := rsa.DecryptPKCS1v15(rand.Reader, priv, wrapped)
	if err != nil {
		return nil, fmt.Errorf("rsa decrypt: %w", err)
	}
	key, err := Decode(string(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return key, nil
}

// DecryptLine reverses Engine.EncryptLine.
func DecryptLine(line string, key []byte) ([]byte, error) {
	ivPart, ctPart, ok := strings.Cut(strings.TrimSpace(line), LineSeparator)
	if !ok {
		return nil, errors.New("encrypted line has no iv separator")
	}
	iv, err := Decode(ivPart)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	ct, err := Decode(ctPart)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	return AESDecrypt(iv, key, ct)
}

// DecryptedFile is the plaintext view of a line-oriented stream file.
type DecryptedFile struct {
	Key    []byte
	Header string
	Lines  []string
}

// DecryptStreamFile reads a whole line-oriented stream file: key line,
// encrypted header, then encrypted records.
func DecryptStreamFile(r io.Reader, priv *rsa.PrivateKey) (*DecryptedFile, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("empty stream file")
	}
	key, err := DecryptKeyLine(sc.Text(), priv)
	if err != nil {
		return nil, err
	}

	out := &DecryptedFile{Key: key}
	lineNo := 1
	for sc.Scan() {
		lineNo++
		pt, err := DecryptLine(sc.Text(), key)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if lineNo == 2 {
			out.Header = string(pt)
			continue
		}
		out.Lines = append(out.Lines, string(pt))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecryptBinaryFile reads a binary stream file (key line, IV line, base64url
// CBC ciphertext) and returns the plaintext payload.
func DecryptBinaryFile(r io.Reader, priv *rsa.PrivateKey) ([]byte, error) {
	br := bufio.NewReader(r)

	keyLine, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read key line: %w", err)
	}
	key, err := DecryptKeyLine(keyLine, priv)
	if err != nil {
		return nil, err
	}

	ivLine, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read iv line: %w", err)
	}
	iv, err := Decode(strings.TrimSpace(ivLine))
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}

	ct, err := io.ReadAll(base64.NewDecoder(encoding, br))
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return AESDecrypt(iv, key, ct)
}
