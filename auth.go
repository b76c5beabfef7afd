package onvif

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"time"

	"github.com/juju/errors"
)

// createdLayout is the WS-Security timestamp format (UTC, milliseconds)
const createdLayout = "2006-01-02T15:04:05.000Z"

const nonceSize = 16

// PasswordDigest is one WS-Security UsernameToken. It must never be reused.
type PasswordDigest struct {
	Digest  string // base64(SHA1(nonce + created + password))
	Nonce   string // base64 of the raw nonce bytes
	Created string
}

// newPasswordDigest creates a WS-Security password digest for the given
// (already skew-adjusted) time
func newPasswordDigest(password string, now time.Time) (PasswordDigest, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return PasswordDigest{}, errors.Annotate(err, "failed to generate nonce")
	}

	created := now.UTC().Format(createdLayout)

	return PasswordDigest{
		Digest:  digestFor(nonce, created, password),
		Nonce:   base64.StdEncoding.EncodeToString(nonce),
		Created: created,
	}, nil
}

func digestFor(nonce []byte, created, password string) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
