package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	gossh "golang.org/x/crypto/ssh"
)

// ctxKey is a typed context key to avoid collisions.
type ctxKey string

const sshUserKey ctxKey = "ssh_user"

// allowedKeys maps SHA256 fingerprints to a display name.
type allowedKeys map[string]string

// parseAllowedKeys accepts SHA256 fingerprints or authorized_keys lines.
// The comment of an authorized_keys line becomes the user name.
func parseAllowedKeys(entries []string) (allowedKeys, error) {
	keys := make(allowedKeys, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.HasPrefix(entry, "SHA256:") {
			keys[entry] = entry[len("SHA256:"):min(len(entry), len("SHA256:")+8)]
			continue
		}
		pub, comment, _, _, err := gossh.ParseAuthorizedKey([]byte(entry))
		if err != nil {
			return nil, fmt.Errorf("parse allowed key %q: %w", entry, err)
		}
		if comment == "" {
			comment = pub.Type()
		}
		keys[gossh.FingerprintSHA256(pub)] = comment
	}
	return keys, nil
}

func (k allowedKeys) handler(logger *log.Logger) ssh.PublicKeyHandler {
	return func(ctx ssh.Context, key ssh.PublicKey) bool {
		fingerprint := gossh.FingerprintSHA256(key)
		name, ok := k[fingerprint]
		if !ok {
			logger.Warn("SSH auth denied", "fingerprint", fingerprint, "user", ctx.User())
			return false
		}
		ctx.SetValue(sshUserKey, name)
		logger.Info("SSH auth accepted", "user", name, "fingerprint", fingerprint)
		return true
	}
}
