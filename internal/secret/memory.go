package secret

import "sync"

type memoryStore struct {
	mu  sync.RWMutex
	key []byte
}

// NewMemoryStore returns a Store that keeps the secret in process memory.
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (s *memoryStore) Bytes() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.key) == 0 {
		return nil, ErrNoSecret
	}
	out := make([]byte, len(s.key))
	copy(out, s.key)
	return out, nil
}

func (s *memoryStore) Exists() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.key) > 0
}

func (s *memoryStore) Set(value string) error {
	key, err := ParseProvisioningSecret(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.key)
	s.key = key
	return nil
}

func (s *memoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.key)
	s.key = nil
	return nil
}
