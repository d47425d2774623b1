package remote

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// Credentials carry a login attempt. The password lives in an encrypted
// enclave and is only decrypted while the request body is encoded.
type Credentials struct {
	Username string
	password *memguard.Enclave
}

// NewCredentials seals password into an enclave. The password slice is
// wiped by the call.
func NewCredentials(username string, password []byte) *Credentials {
	return &Credentials{
		Username: username,
		password: memguard.NewEnclave(password),
	}
}

// reveal runs fn with the plaintext password, destroying the buffer after.
func (c *Credentials) reveal(fn func(password []byte) error) error {
	if c.password == nil {
		return fn(nil)
	}
	buf, err := c.password.Open()
	if err != nil {
		return fmt.Errorf("open credential enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}
