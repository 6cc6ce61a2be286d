// Package gpg provides GPG signature verification for archive checksum
// sidecars.
package gpg

import (
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/coldsnap/coldsnap/internal/domain/interfaces"
)

// Verifier checks detached signatures using ProtonMail's go-crypto, a
// maintained, modern fork of golang.org/x/crypto/openpgp. It lives in
// external-adapters to isolate the external dependency.
type Verifier struct {
	keyring openpgp.EntityList
}

var _ interfaces.SignatureVerifier = (*Verifier)(nil)

// NewVerifier creates a Verifier with an empty keyring.
func NewVerifier() *Verifier {
	return &Verifier{keyring: make(openpgp.EntityList, 0)}
}

// LoadKeyringFile imports keys from an armored or binary keyring file.
func (v *Verifier) LoadKeyringFile(keyPath string) error {
	//nolint:gosec // G304: keyPath is user-provided for key import
	f, err := os.Open(keyPath)
	if err != nil {
		return fmt.Errorf("failed to open keyring file: %w", err)
	}
	//nolint:errcheck // Defer close
	defer f.Close()

	keys, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		// Try reading as binary
		if _, seekErr := f.Seek(0, 0); seekErr != nil {
			return fmt.Errorf("failed to reset keyring file: %w", seekErr)
		}
		keys, err = openpgp.ReadKeyRing(f)
		if err != nil {
			return fmt.Errorf("failed to read keyring: %w", err)
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("no keys found in %s", keyPath)
	}
	v.keyring = append(v.keyring, keys...)
	return nil
}

// KeyringSize returns the number of loaded keys.
func (v *Verifier) KeyringSize() int {
	return len(v.keyring)
}

// VerifyDetached verifies a detached signature over targetPath. Armored
// signatures are tried first, then binary.
func (v *Verifier) VerifyDetached(targetPath, signaturePath string) error {
	if len(v.keyring) == 0 {
		return fmt.Errorf("no GPG keys loaded, call LoadKeyringFile first")
	}

	check := func(armored bool) error {
		//nolint:gosec // G304: both paths are user-provided for verification
		target, err := os.Open(targetPath)
		if err != nil {
			return fmt.Errorf("failed to open signed file: %w", err)
		}
		//nolint:errcheck // Defer close
		defer target.Close()

		//nolint:gosec // G304: signature path is user-provided
		sig, err := os.Open(signaturePath)
		if err != nil {
			return fmt.Errorf("failed to open signature: %w", err)
		}
		//nolint:errcheck // Defer close
		defer sig.Close()

		if armored {
			_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, target, sig, nil)
		} else {
			_, err = openpgp.CheckDetachedSignature(v.keyring, target, sig, nil)
		}
		return err
	}

	if err := check(true); err == nil {
		return nil
	}
	if err := check(false); err != nil {
		return fmt.Errorf("signature verification failed for %s: %w", targetPath, err)
	}
	return nil
}
