package main

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLength     = 16
	hashIterations = 10000
)

const saltChars = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"1234567890"

func randomString(n int) string {
	out := make([]byte, n)
	buf := make([]byte, 1)
	limit := 256 - 256%len(saltChars)
	for i := 0; i < n; {
		if _, err := rand.Read(buf); err != nil {
			panic("webapp: crypto/rand unavailable: " + err.Error())
		}
		if int(buf[0]) >= limit {
			continue
		}
		out[i] = saltChars[int(buf[0])%len(saltChars)]
		i++
	}
	return string(out)
}

func hashPassword(password, salt string) string {
	derived := pbkdf2.Key([]byte(password), []byte(salt), hashIterations, sha256.Size, sha256.New)
	return base64.StdEncoding.EncodeToString(derived)
}

// encodePassword produces "salt$hash" for storage.
func encodePassword(password string) string {
	salt := randomString(saltLength)
	return salt + "$" + hashPassword(password, salt)
}

// checkPassword verifies password against an encoded "salt$hash" in
// constant time.
func checkPassword(password, encoded string) bool {
	salt, hash, ok := strings.Cut(encoded, "$")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hashPassword(password, salt)), []byte(hash)) == 1
}
