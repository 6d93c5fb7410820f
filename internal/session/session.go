package session

import (
	"encoding/json"
	"errors"
)

// Map is the flat key/value session carried by a contact across turns.
// Values are JSON-shaped; steps read and write keys freely. Key order is
// not preserved and nothing may depend on it.
type Map map[string]any

func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// GetString returns the value for key if it is a string.
func (m Map) GetString(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Cipher is the at-rest encryption boundary for session data.
// The only contract: Decrypt(Encrypt(json)) round-trips the JSON unchanged.
// Key management lives outside this module.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

var ErrDecrypt = errors.New("session: decrypt failed")

// Seal encrypts a session map for storage.
func Seal(c Cipher, m Map) ([]byte, error) {
	if m == nil {
		m = Map{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return c.Encrypt(raw)
}

// Open decrypts a stored blob back into a session map.
// An empty blob opens to an empty map so new contacts need no seeding.
func Open(c Cipher, blob []byte) (Map, error) {
	if len(blob) == 0 {
		return Map{}, nil
	}
	raw, err := c.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	var m Map
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = Map{}
	}
	return m, nil
}
