package keystore

import (
	"errors"
	"fmt"
)

var (
	// ErrInitialization matches every [InitializationError].
	ErrInitialization = errors.New("identity initialization failed")

	// ErrIncorrectPassword indicates a store could not be decrypted.
	ErrIncorrectPassword = errors.New("incorrect store password")

	// ErrNoPrivateKey indicates the key store contains no private key.
	ErrNoPrivateKey = errors.New("no private key in key store")

	// ErrAliasNotFound indicates no key entry matches the configured alias.
	ErrAliasNotFound = errors.New("key alias not found")

	// ErrNoCertificate indicates no certificate matches the private key.
	ErrNoCertificate = errors.New("no certificate for private key")

	// ErrUnsupportedKey indicates a key type that cannot sign.
	ErrUnsupportedKey = errors.New("unsupported private key type")

	// ErrNoLocation indicates the configuration model names no store.
	ErrNoLocation = errors.New("store location not configured")

	// ErrUntrusted indicates a certificate chain failed every trust source.
	ErrUntrusted = errors.New("certificate chain is not trusted")
)

// InitializationError is returned by [Load] for any store, password or
// certificate problem.
type InitializationError struct {
	Op       string
	Location string
	Err      error
}

func (e *InitializationError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("keystore: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("keystore: %s %s: %v", e.Op, e.Location, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrInitialization.
func (e *InitializationError) Is(target error) bool {
	return target == ErrInitialization
}
