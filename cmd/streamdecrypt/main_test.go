package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/studykeeper/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKey(t *testing.T, dir string) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	p := filepath.Join(dir, "private.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	require.NoError(t, os.WriteFile(p, pemBytes, 0o600))
	return priv, p
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	priv, keyPath := writeKey(t, dir)
	eng := cryptox.NewEngine()

	key, err := eng.NewSymmetricKey()
	require.NoError(t, err)
	wrapped, err := eng.WrapKey(key, &priv.PublicKey)
	require.NoError(t, err)

	var sb strings.Builder
	sb.WriteString(wrapped + "\n")
	for _, l := range []string{"timestamp,value", "1,a", "2,b"} {
		enc, err := eng.EncryptLine(key, []byte(l))
		require.NoError(t, err)
		sb.WriteString(enc + "\n")
	}
	csvPath := filepath.Join(dir, "p1_gps_1.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(sb.String()), 0o600))

	var out bytes.Buffer
	require.NoError(t, run([]string{"-k", keyPath, csvPath}, &out))
	assert.Equal(t, "timestamp,value\n1,a\n2,b\n", out.String())

	// binary stream file
	iv, err := eng.NewIV()
	require.NoError(t, err)
	var bin bytes.Buffer
	bin.WriteString(wrapped + "\n" + cryptox.Encode(iv) + "\n")
	enc := base64.NewEncoder(base64.URLEncoding, &bin)
	w, err := cryptox.NewCBCWriter(enc, key, iv)
	require.NoError(t, err)
	_, err = w.Write([]byte("pcm samples"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, enc.Close())
	wavPath := filepath.Join(dir, "p1_audio_1.wav")
	require.NoError(t, os.WriteFile(wavPath, bin.Bytes(), 0o600))

	outPath := filepath.Join(dir, "audio.raw")
	require.NoError(t, run([]string{"-k", keyPath, "-o", outPath, wavPath}, &out))
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "pcm samples", string(data))
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	_, keyPath := writeKey(t, dir)
	var out bytes.Buffer

	assert.Error(t, run(nil, &out))
	assert.Error(t, run([]string{"-k", keyPath}, &out))
	assert.Error(t, run([]string{"-k", filepath.Join(dir, "missing.pem"), "x.csv"}, &out))

	err := run([]string{"-k", keyPath, filepath.Join(dir, "missing.csv")}, &out)
	assert.ErrorContains(t, err, "missing.csv")

	garbage := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(garbage, []byte("not-a-key-line\n"), 0o600))
	assert.Error(t, run([]string{"-k", keyPath, garbage}, &out))
}
