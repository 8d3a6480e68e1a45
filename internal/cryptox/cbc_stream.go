package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
)

// CBCWriter encrypts an unbounded byte stream with AES-CBC. Complete blocks
// are written through immediately; the trailing partial block is held until
// Close, which appends PKCS #7 padding. Close does not close the underlying
// writer.
type CBCWriter struct {
	w       io.Writer
	mode    cipher.BlockMode
	pending []byte
	closed  bool
}

// NewCBCWriter starts a CBC stream over w with key and iv.
func NewCBCWriter(w io.Writer, key, iv []byte) (*CBCWriter, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("invalid iv length %d", len(iv))
	}
	return &CBCWriter{
		w:       w,
		mode:    cipher.NewCBCEncrypter(block, iv),
		pending: make([]byte, 0, aes.BlockSize),
	}, nil
}

func (c *CBCWriter) Write(p []byte) (int, error) {
	if c.closed {
		return 0, errors.New("cbc writer closed")
	}
	buf := append(c.pending, p...)
	full := len(buf) - len(buf)%aes.BlockSize
	if full > 0 {
		out := make([]byte, full)
		c.mode.CryptBlocks(out, buf[:full])
		if _, err := c.w.Write(out); err != nil {
			return 0, err
		}
	}
	c.pending = append(c.pending[:0], buf[full:]...)
	return len(p), nil
}

// Close pads and writes the final block.
func (c *CBCWriter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	padded := pkcs7Pad(c.pending, aes.BlockSize)
	out := make([]byte, len(padded))
	c.mode.CryptBlocks(out, padded)
	_, err := c.w.Write(out)
	return err
}
