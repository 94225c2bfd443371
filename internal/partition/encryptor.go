package partition

// Encryptor transforms a message payload before it is staged into a batch.
// Declared as an interface only: encryption key management and the actual
// cipher are out of scope for this engine (spec Non-goals — encryption is
// applied above the core), so the only implementation shipped here is the
// no-op used by default and by tests.
type Encryptor interface {
	Encrypt(payload []byte) ([]byte, error)
}

// NopEncryptor returns payload unchanged.
type NopEncryptor struct{}

func (NopEncryptor) Encrypt(payload []byte) ([]byte, error) { return payload, nil }
