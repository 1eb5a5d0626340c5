package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakPasswordScoreThreshold = 3

// IsWeakPassword returns whether an account password is considered weak.
// Empty passwords are cookie-only accounts and are not flagged here.
func IsWeakPassword(password string) bool {
	if password == "" {
		return false
	}
	result := zxcvbn.PasswordStrength(password, nil)
	return result.Score < weakPasswordScoreThreshold
}
