package types

import "time"

// SSHKey represents an upstream-registered key tracked per candidate
type SSHKey struct {
	Email        string    `json:"email"`
	KeyName      string    `json:"keyName"`
	PublicKey    string    `json:"publicKey"`
	RegisteredAt time.Time `json:"registeredAt"`
}
