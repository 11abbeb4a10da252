package chain

import "github.com/ethereum/go-ethereum/crypto"

// PasswordCommitment binds a password to a username without revealing it:
// keccak256(username || 0x00 || password).
func PasswordCommitment(username, password string) [32]byte {
	data := make([]byte, 0, len(username)+1+len(password))
	data = append(data, username...)
	data = append(data, 0)
	data = append(data, password...)
	return crypto.Keccak256Hash(data)
}

// SocialIDHash hashes an external social identity. An empty id hashes to zero.
func SocialIDHash(socialID string) [32]byte {
	if socialID == "" {
		return [32]byte{}
	}
	return crypto.Keccak256Hash([]byte(socialID))
}
