package config

type SecurityConfig interface {
	GetStoragePassphrase() string
	GetCredentialFile() string
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetStoragePassphrase is the passphrase the credential file key is derived from.
// An empty passphrase selects in-memory storage.
func (Security) GetStoragePassphrase() string {
	return GetEnv("STORAGE_PASSPHRASE", "")
}

func (Security) GetCredentialFile() string {
	return GetEnv("CREDENTIAL_FILE", "credentials.enc")
}
