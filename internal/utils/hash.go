package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

const BlobKeyPrefix = "sha256"

var contentHashRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ContentHash returns the lowercase hex SHA-256 digest of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BlobKeyForHash lays out content-addressed keys as sha256/<h[0:2]>/<h[2:4]>/<h>.
func BlobKeyForHash(hash string) string {
	return fmt.Sprintf("%s/%s/%s/%s", BlobKeyPrefix, hash[0:2], hash[2:4], hash)
}

func IsContentHash(s string) bool {
	return contentHashRegex.MatchString(s)
}

// HashFromBlobKey returns the digest of a content-addressed key, or "" when the key is not one.
func HashFromBlobKey(key string) string {
	if len(key) < len(BlobKeyPrefix)+1+64 {
		return ""
	}
	hash := key[len(key)-64:]
	if !IsContentHash(hash) || BlobKeyForHash(hash) != key {
		return ""
	}
	return hash
}
