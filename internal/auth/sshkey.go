package auth

import (
	"fmt"

	"golang.org/x/crypto/ssh"
)

// ValidateSSHPublicKey checks that the string parses as an OpenSSH
// authorized-keys entry
func ValidateSSHPublicKey(publicKey string) error {
	if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(publicKey)); err != nil {
		return fmt.Errorf("invalid SSH public key: %w", err)
	}
	return nil
}
