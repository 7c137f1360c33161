package util

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/cespare/xxhash/v2"
	gstr "github.com/savsgio/gotils/strconv"
)

// Hash will take one or more values and return a xxhash calculated value for the input
func Hash(vals ...interface{}) string {
	h := xxhash.New()
	for _, v := range vals {
		h.Write(gstr.S2B(fmt.Sprintf("%+v", v)))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// HashWith returns the hex digest of val under the named algorithm. The value
// is trimmed and lowercased first unless asIs is set. An empty algorithm
// returns the value unchanged.
func HashWith(val string, algorithm string, asIs bool) (string, error) {
	if algorithm == "" {
		return val, nil
	}
	if !asIs {
		val = strings.ToLower(strings.TrimSpace(val))
	}
	var h hash.Hash
	switch algorithm {
	case "md5":
		h = md5.New()
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
	h.Write(gstr.S2B(val))
	return hex.EncodeToString(h.Sum(nil)), nil
}
