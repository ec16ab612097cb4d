package storage

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/jrsteele09/go-habit-client/internal/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	saltSize = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// ErrCorrupt is returned when the credential file cannot be opened with the
// configured passphrase or has been modified.
var ErrCorrupt = apperrors.ErrCorrupt

var _ Storage = (*File)(nil)

// File is an encrypted single-file Storage.
//
// Layout: salt(16) | nonce(24) | XChaCha20-Poly1305(JSON map). The key is derived
// from the passphrase with Argon2id and the salt. Every Set/Delete rewrites the
// whole file through a temp file and rename.
type File struct {
	mu         sync.Mutex
	path       string
	passphrase []byte
	values     map[string]string
	loaded     bool
}

func NewFile(path, passphrase string) (*File, error) {
	if path == "" {
		return nil, errors.New("path cannot be empty")
	}
	if passphrase == "" {
		return nil, errors.New("passphrase cannot be empty")
	}
	return &File{
		path:       path,
		passphrase: []byte(passphrase),
	}, nil
}

func (f *File) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(); err != nil {
		return "", err
	}
	v, ok := f.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *File) Set(key, value string) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(); err != nil {
		return err
	}
	f.values[key] = value
	return f.flush()
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(); err != nil {
		return err
	}
	if _, ok := f.values[key]; !ok {
		return nil
	}
	delete(f.values, key)
	return f.flush()
}

func (f *File) load() error {
	if f.loaded {
		return nil
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.values = make(map[string]string)
		f.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("[storage File] read %s: %w", f.path, err)
	}

	if len(data) < saltSize+chacha20poly1305.NonceSizeX {
		return ErrCorrupt
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	sealed := data[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(f.deriveKey(salt))
	if err != nil {
		return fmt.Errorf("[storage File] cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ErrCorrupt
	}

	values := make(map[string]string)
	if err := json.Unmarshal(plain, &values); err != nil {
		return ErrCorrupt
	}
	f.values = values
	f.loaded = true
	return nil
}

func (f *File) flush() error {
	plain, err := json.Marshal(f.values)
	if err != nil {
		return fmt.Errorf("[storage File] marshal: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("[storage File] salt: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("[storage File] nonce: %w", err)
	}

	aead, err := chacha20poly1305.NewX(f.deriveKey(salt))
	if err != nil {
		return fmt.Errorf("[storage File] cipher: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plain, nil)

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("[storage File] mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("[storage File] temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("[storage File] write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[storage File] close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("[storage File] chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("[storage File] rename: %w", err)
	}
	return nil
}

func (f *File) deriveKey(salt []byte) []byte {
	return argon2.IDKey(f.passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}
