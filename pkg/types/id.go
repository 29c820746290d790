package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

const maxFilesystemNameLen = 60

// GenerateRequestID generates a launch request id
func GenerateRequestID() string {
	return uuid.New().String()
}

// GenerateSecret generates an opaque bearer secret
func GenerateSecret() string {
	return ksuid.New().String()
}

// GenerateClaimID generates a seed-claim claimant id
func GenerateClaimID() string {
	return fmt.Sprintf("claim_%s", ksuid.New().String())
}

// SanitizeEmail turns an email into a token safe for upstream resource names:
// lowercased, non-alphanumerics collapsed to single dashes
func SanitizeEmail(email string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(email) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// SSHKeyNameForEmail returns the deterministic upstream key name for a user
func SSHKeyNameForEmail(email string) string {
	return "web-" + SanitizeEmail(email)
}

// PersonalFilesystemName returns the stable per-user filesystem name for a
// region, bounded in length
func PersonalFilesystemName(email, region string) string {
	name := fmt.Sprintf("fs-%s-%s", SanitizeEmail(email), region)
	if len(name) > maxFilesystemNameLen {
		name = strings.Trim(name[:maxFilesystemNameLen], "-")
	}
	return name
}

// PersonalFilesystemPrefix returns the name prefix owned by a user
func PersonalFilesystemPrefix(email string) string {
	return fmt.Sprintf("fs-%s-", SanitizeEmail(email))
}
