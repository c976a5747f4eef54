// Package sharing manages public links to modmail threads: the grants that
// back them, the compact link id and the rules applied when one is opened.
package sharing

import (
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// ErrInvalidShareID is returned for link ids that do not decode to a UUID.
var ErrInvalidShareID = errors.New("sharing: invalid share id")

// canonicalLen is the length of the 8-4-4-4-12 form.
const canonicalLen = 36

// EncodeID turns a canonical UUID into its 22 character link form: the
// 16 raw bytes, base64url without padding. Only the hyphenated 36
// character form is accepted.
func EncodeID(id string) (string, error) {
	if len(id) != canonicalLen {
		return "", ErrInvalidShareID
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", ErrInvalidShareID
	}
	return base64.RawURLEncoding.EncodeToString(u[:]), nil
}

// DecodeID is the inverse of EncodeID.
func DecodeID(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(b) != 16 {
		return "", ErrInvalidShareID
	}
	u, err := uuid.FromBytes(b)
	if err != nil {
		return "", ErrInvalidShareID
	}
	return u.String(), nil
}
