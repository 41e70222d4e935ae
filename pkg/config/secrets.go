package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Encrypted secrets file layout: [salt][nonce][ciphertext+tag].
const (
	secretsFileName = "secrets.json.enc"
	secretsDirName  = ".reasonrt"
	saltSize        = 16
	nonceSize       = 12
	scryptN         = 32768
	scryptR         = 8
	scryptP         = 1
	keySize         = 32 // AES-256
)

var (
	loadedSecrets map[string]string
	secretsMu     sync.RWMutex
)

// GetSecret returns a secret by name, preferring the decrypted secrets file
// over environment variables.
func GetSecret(name string) (string, error) {
	secretsMu.RLock()
	if v, ok := loadedSecrets[name]; ok && v != "" {
		secretsMu.RUnlock()
		return v, nil
	}
	secretsMu.RUnlock()

	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// SetSecret stores a secret value in memory. It is not persisted until
// SaveSecrets is called.
func SetSecret(name, value string) {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	if loadedSecrets == nil {
		loadedSecrets = make(map[string]string)
	}
	loadedSecrets[name] = value
}

// SecretsFileExists reports whether an encrypted secrets file exists under dir.
func SecretsFileExists(dir string) bool {
	_, err := os.Stat(secretsPath(dir))
	return err == nil
}

func secretsPath(dir string) string {
	return filepath.Join(dir, secretsDirName, secretsFileName)
}

// SaveSecrets encrypts the in-memory secrets with password and writes them
// under dir with 0600 permissions.
func SaveSecrets(dir, password string) error {
	secretsMu.RLock()
	copied := make(map[string]string, len(loadedSecrets))
	for k, v := range loadedSecrets {
		copied[k] = v
	}
	secretsMu.RUnlock()

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := deriveKey(password, salt)
	if err != nil {
		return err
	}
	defer zero(key)

	plaintext, err := json.Marshal(copied)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	fileData := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	fileData = append(fileData, salt...)
	fileData = append(fileData, nonce...)
	fileData = append(fileData, ciphertext...)

	if err := os.MkdirAll(filepath.Join(dir, secretsDirName), 0o755); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(secretsPath(dir), fileData, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// LoadSecrets decrypts the secrets file under dir with password and keeps the
// result in memory for GetSecret.
func LoadSecrets(dir, password string) error {
	fileData, err := os.ReadFile(secretsPath(dir))
	if err != nil {
		return fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(fileData) < saltSize+nonceSize+1 {
		return fmt.Errorf("secrets file is truncated")
	}

	salt := fileData[:saltSize]
	nonce := fileData[saltSize : saltSize+nonceSize]
	ciphertext := fileData[saltSize+nonceSize:]

	key, err := deriveKey(password, salt)
	if err != nil {
		return err
	}
	defer zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets (wrong password?): %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return fmt.Errorf("failed to unmarshal secrets: %w", err)
	}

	secretsMu.Lock()
	loadedSecrets = secrets
	secretsMu.Unlock()
	return nil
}

func deriveKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
