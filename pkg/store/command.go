package store

import "fmt"

// AddPlain writes value under key in bucket, unencrypted.
func (c Command) AddPlain(bucket, key, value []byte) error {
	if len(bucket) == 0 {
		bucket = []byte(DefaultBucket)
	}
	b := c.tx.Bucket(bucket)
	if b == nil {
		return ErrMissingBucket
	}
	return b.Put(key, value)
}

// AddEncrypted writes value under key in bucket, encrypted at rest.
func (c Command) AddEncrypted(bucket, key, value []byte) error {
	return c.AddPlain(bucket, key, c.store.cipher.Encrypt(value))
}

// Delete removes key from bucket.
func (c Command) Delete(bucket, key []byte) error {
	if len(bucket) == 0 {
		bucket = []byte(DefaultBucket)
	}
	b := c.tx.Bucket(bucket)
	if b == nil {
		return ErrMissingBucket
	}
	return b.Delete(key)
}

// SaveSession persists the opaque, already-serialized ratchet snapshot for
// sessionID so the transport can be resumed without re-handshaking.
func (c Command) SaveSession(sessionID string, state []byte) error {
	if err := c.AddEncrypted([]byte(sessionsBucket), []byte(sessionID), state); err != nil {
		return fmt.Errorf("saving session %s: %w", sessionID, err)
	}
	return nil
}
