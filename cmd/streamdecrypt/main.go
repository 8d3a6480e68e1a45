// Command streamdecrypt decrypts collector stream files with the
// participant's RSA private key. Line stream files are printed as CSV (header
// first); binary stream files are written raw.
//
// Usage:
//
//	streamdecrypt -k private.pem [-o out] file...
package main

import (
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/studykeeper/internal/common"
	"github.com/dmitrijs2005/studykeeper/internal/cryptox"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("streamdecrypt", flag.ContinueOnError)
	keyPath := fs.String("k", "", "path to the participant RSA private key (PEM)")
	outPath := fs.String("o", "", "write output to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyPath == "" || fs.NArg() == 0 {
		return errors.New("usage: streamdecrypt -k private.pem [-o out] file...")
	}

	priv, err := cryptox.LoadPrivateKey(*keyPath)
	if err != nil {
		return err
	}

	out := stdout
	if *outPath != "" {
		f, err := os.OpenFile(*outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	for _, name := range fs.Args() {
		if err := decryptFile(name, priv, out); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func decryptFile(name string, priv *rsa.PrivateKey, out io.Writer) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	if filepath.Ext(name) != common.ExtCSV {
		data, err := cryptox.DecryptBinaryFile(f, priv)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	dec, err := cryptox.DecryptStreamFile(f, priv)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(out, dec.Header); err != nil {
		return err
	}
	for _, l := range dec.Lines {
		if _, err := fmt.Fprintln(out, l); err != nil {
			return err
		}
	}
	return nil
}
