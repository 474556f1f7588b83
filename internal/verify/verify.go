// Package verify checks fetched archives against their integrity digest
// and optional detached OpenPGP signature.
package verify

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/open-edge-platform/bundle-installer/internal/descriptor"
	"github.com/open-edge-platform/bundle-installer/internal/errdefs"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
)

// Result describes one verification.
type Result struct {
	Path      string
	Algorithm string
	Expected  string
	Actual    string
	// Skipped is set when the descriptor opted out with the skip sentinel.
	Skipped bool
	OK      bool
	Error   error
}

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case descriptor.SHA256:
		return sha256.New(), nil
	case descriptor.SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", algo)
	}
}

// FileDigest returns the hex digest of the file at path.
func FileDigest(path, algo string) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify hashes the file at path and compares it with digest. A skip
// digest returns a Skipped result without reading the file. A mismatch is
// an IntegrityMismatch error.
func Verify(path string, digest descriptor.Digest) (Result, error) {
	res := Result{Path: path, Algorithm: digest.Algorithm, Expected: digest.Hex}
	if digest.Skip {
		res.Skipped = true
		res.OK = true
		return res, nil
	}

	actual, err := FileDigest(path, digest.Algorithm)
	if err != nil {
		res.Error = err
		return res, err
	}
	res.Actual = actual
	if !strings.EqualFold(actual, digest.Hex) {
		err := errdefs.Newf(errdefs.IntegrityMismatch, "integrityDigest", path,
			"expected %s:%s, got %s:%s", digest.Algorithm, digest.Hex, digest.Algorithm, actual)
		res.Error = err
		return res, err
	}
	res.OK = true
	logger.Logger().Debugf("verified %s (%s:%s)", path, digest.Algorithm, actual)
	return res, nil
}

// Job pairs a file with the digest it must match.
type Job struct {
	Path   string
	Digest descriptor.Digest
}

// VerifyAll verifies jobs with up to workers goroutines. Results keep the
// order of jobs.
func VerifyAll(jobs []Job, workers int) []Result {
	if workers < 1 {
		workers = 1
	}
	results := make([]Result, len(jobs))
	idx := make(chan int)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range idx {
				results[j], _ = Verify(jobs[j].Path, jobs[j].Digest)
			}
		}()
	}
	for i := range jobs {
		idx <- i
	}
	close(idx)
	wg.Wait()
	return results
}

// LoadPublicKey reads an armored public key. key is either the armored text
// itself or a path to a file holding it.
func LoadPublicKey(key string) (openpgp.EntityList, error) {
	var data []byte
	if strings.Contains(key, "-----BEGIN PGP") {
		data = []byte(key)
	} else {
		b, err := os.ReadFile(key)
		if err != nil {
			return nil, fmt.Errorf("read public key %s: %w", key, err)
		}
		data = b
	}

	block, err := armor.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to armor decode public key: %w", err)
	}
	if block.Type != openpgp.PublicKeyType {
		return nil, fmt.Errorf("expected %q block, got %q", openpgp.PublicKeyType, block.Type)
	}
	keyring, err := openpgp.ReadKeyRing(block.Body)
	if err != nil {
		return nil, fmt.Errorf("read public key ring: %w", err)
	}
	return keyring, nil
}

// VerifySignature checks a detached signature (armored or binary) of the
// archive at archivePath. Any failure is an IntegrityMismatch on the
// signature field.
func VerifySignature(archivePath, signaturePath, publicKey string) error {
	fail := func(err error) error {
		return errdefs.New(errdefs.IntegrityMismatch, "signature", archivePath, err)
	}

	keyring, err := LoadPublicKey(publicKey)
	if err != nil {
		return fail(err)
	}
	sig, err := os.ReadFile(signaturePath)
	if err != nil {
		return fail(fmt.Errorf("read signature: %w", err))
	}
	archive, err := os.Open(archivePath)
	if err != nil {
		return fail(fmt.Errorf("open archive: %w", err))
	}
	defer archive.Close()

	var signer *openpgp.Entity
	if bytes.HasPrefix(bytes.TrimSpace(sig), []byte("-----BEGIN PGP SIGNATURE")) {
		signer, err = openpgp.CheckArmoredDetachedSignature(keyring, archive, bytes.NewReader(sig), nil)
	} else {
		signer, err = openpgp.CheckDetachedSignature(keyring, archive, bytes.NewReader(sig), nil)
	}
	if err != nil {
		return fail(fmt.Errorf("signature check failed: %w", err))
	}

	for name := range signer.Identities {
		logger.Logger().Infof("signature by %s verified", name)
		break
	}
	return nil
}
