// Package signing produces a detached, ASCII-armored OpenPGP signature
// over a release artifact when a signing key and passphrase are
// configured, mirroring what a shelled-out `gpg -ab` invocation would
// produce but without the external binary dependency.
package signing

import (
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"

	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
)

// Sign reads armoredKey (an ASCII-armored private key block), unlocks it
// with passphrase, and writes a detached armored signature over the file
// at targetPath to sigPath.
func Sign(armoredKey, passphrase, targetPath, sigPath string) error {
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeInvalidManifest, "parsing signing key")
	}

	if len(keyring) == 0 {
		return yaperrors.New(yaperrors.ErrTypeInvalidManifest, "signing key contains no entities")
	}

	entity := keyring[0]

	if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return yaperrors.Wrap(err, yaperrors.ErrTypeInvalidManifest, "unlocking signing key")
		}
	}

	target, err := os.Open(targetPath)
	if err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "opening signing target")
	}
	defer target.Close()

	sigFile, err := os.Create(sigPath)
	if err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeFileSystem, "creating signature file")
	}
	defer sigFile.Close()

	if err := openpgp.ArmoredDetachSign(sigFile, entity, target, nil); err != nil {
		return yaperrors.Wrap(err, yaperrors.ErrTypeInternal, "producing detached signature")
	}

	return nil
}
