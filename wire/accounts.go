package wire

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"

	"github.com/segmentio/encoding/json"
)

// DigestAlgorithm is the algorithm name DDP servers expect with a password
// digest
const DigestAlgorithm = "sha-256"

// Digest returns the hex-encoded SHA-256 digest of s
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// PasswordDigest is the form in which a password is sent over the wire
type PasswordDigest struct {
	Digest    string `json:"digest"`
	Algorithm string `json:"algorithm"`
}

// Password replaces a plaintext password with its digest record
func Password(password string) PasswordDigest {
	return PasswordDigest{Digest: Digest(password), Algorithm: DigestAlgorithm}
}

// User selects an account by email or username
type User struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// PasswordLogin is the parameter of a password login method call
type PasswordLogin struct {
	User     User           `json:"user"`
	Password PasswordDigest `json:"password"`
}

// ResumeLogin is the parameter of a token login method call
type ResumeLogin struct {
	Resume string `json:"resume"`
}

// CreateUser is the parameter of a createUser method call
type CreateUser struct {
	Email    string         `json:"email,omitempty"`
	Username string         `json:"username,omitempty"`
	Password PasswordDigest `json:"password"`
	Profile  map[string]any `json:"profile,omitempty"`
}

// LoginResult is the result of a successful login or createUser call
type LoginResult struct {
	ID           string `json:"id"`
	Token        string `json:"token"`
	TokenExpires Date   `json:"tokenExpires"`
}

// Date is a time value in EJSON representation: {"$date": milliseconds}
type Date struct {
	time.Time
}

// MarshalJSON implements json.Marshaler
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date int64 `json:"$date"`
	}{Date: d.UnixMilli()})
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Date) UnmarshalJSON(data []byte) error {
	var v struct {
		Date float64 `json:"$date"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	d.Time = time.UnixMilli(int64(math.Round(v.Date))).UTC()
	return nil
}
