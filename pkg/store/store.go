package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ventra-chat/ventra/internal/enigma"
)

// DefaultBucket holds miscellaneous plain/encrypted key-value records (the
// local identity, peer trust records, ...) that don't warrant their own
// bucket.
const DefaultBucket = "default"

const (
	peersBucket    = "peers"
	identityBucket = "identity"
	authBucket     = "auth"
	sessionsBucket = "sessions"

	kek = "key-encryption-key"
	dek = "data-encryption-key"
	dpk = "derived-passphrase-key"

	wrappedSaltKey = "wrapped-salt"
	wrappedKey     = "wrapped-key"
	deriveSaltKey  = "derive-salt"
	secretSaltKey  = "secret-salt"
)

var (
	ErrMissingBucket    = errors.New("bucket not found")
	ErrMissingItem      = errors.New("item not found")
	ErrNotFound         = ErrMissingItem
	ErrFailedDecryption = errors.New("decryption failed")
)

// Store is an encrypted bbolt-backed key-value database. Values written
// through AddEncrypted, SaveSession and AddPeer are encrypted at rest with a
// data-encryption-key that is itself wrapped by a key derived from the
// caller's passphrase; AddPeer encrypts the key as well. The keys given to
// AddEncrypted and SaveSession, and everything written through AddPlain and
// AddIdentity, are stored as given.
type Store struct {
	db     *bolt.DB
	cipher *enigma.Enigma
}

// Query runs read-only operations against the store inside a single bbolt
// read transaction.
type Query struct {
	tx    *bolt.Tx
	store *Store
}

// Command runs mutating operations against the store inside a single bbolt
// read-write transaction.
type Command struct {
	tx    *bolt.Tx
	store *Store
}

func open(pass []byte, db *bolt.DB) (*enigma.Enigma, error) {
	var secretSalt, deriveSalt, wrappedSalt, wrapped []byte
	err := db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(authBucket))
		wrapped = bucket.Get([]byte(wrappedKey))
		deriveSalt = bucket.Get([]byte(deriveSaltKey))
		wrappedSalt = bucket.Get([]byte(wrappedSaltKey))
		secretSalt = bucket.Get([]byte(secretSaltKey))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get values: %w", err)
	}
	if secretSalt == nil || deriveSalt == nil || wrappedSalt == nil || wrapped == nil {
		return nil, ErrNotFound
	}
	derivedPass, err := enigma.Derive(pass, deriveSalt, []byte(dpk), 32)
	if err != nil {
		return nil, fmt.Errorf("derive from pass: %w", err)
	}
	keyCipher, err := enigma.NewEnigma(derivedPass, wrappedSalt, []byte(kek))
	if err != nil {
		return nil, fmt.Errorf("key cipher: %w", err)
	}
	secret, err := keyCipher.Decrypt(wrapped)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret: %w", err)
	}
	dataCipher, err := enigma.NewEnigma(secret, secretSalt, []byte(dek))
	if err != nil {
		return nil, fmt.Errorf("data cipher: %w", err)
	}
	return dataCipher, nil
}

func create(pass []byte, db *bolt.DB) (*enigma.Enigma, error) {
	secret, secretSalt := random32Bits(), random32Bits()
	deriveSalt, wrappedSalt := random32Bits(), random32Bits()

	derivedPass, err := enigma.Derive(pass, deriveSalt, []byte(dpk), 32)
	if err != nil {
		return nil, fmt.Errorf("derive from pass: %w", err)
	}
	keyCipher, err := enigma.NewEnigma(derivedPass, wrappedSalt, []byte(kek))
	if err != nil {
		return nil, fmt.Errorf("key cipher: %w", err)
	}
	wrapped := keyCipher.Encrypt(secret)
	dataCipher, err := enigma.NewEnigma(secret, secretSalt, []byte(dek))
	if err != nil {
		return nil, fmt.Errorf("data cipher: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(authBucket))
		if err := bucket.Put([]byte(wrappedKey), wrapped); err != nil {
			return fmt.Errorf("put wrapped key: %w", err)
		}
		if err := bucket.Put([]byte(wrappedSaltKey), wrappedSalt); err != nil {
			return fmt.Errorf("put wrapped salt: %w", err)
		}
		if err := bucket.Put([]byte(deriveSaltKey), deriveSalt); err != nil {
			return fmt.Errorf("put derive salt: %w", err)
		}
		if err := bucket.Put([]byte(secretSaltKey), secretSalt); err != nil {
			return fmt.Errorf("put secret salt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update db: %w", err)
	}

	return dataCipher, nil
}

func random32Bits() []byte {
	src := make([]byte, 32)
	rand.Read(src)
	return src
}

// New opens (or, on first use, creates) an encrypted store at path,
// deriving its data-encryption-key from passphrase.
func New(passphrase []byte, path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range []string{peersBucket, identityBucket, authBucket, sessionsBucket, DefaultBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return fmt.Errorf("creating %s bucket: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring buckets: %w", err)
	}

	cipher, err := open(passphrase, db)
	if errors.Is(err, ErrNotFound) {
		cipher, err = create(passphrase, db)
	}
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}

	return &Store{db: db, cipher: cipher}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Query runs fn inside a read-only transaction.
func (s *Store) Query(fn func(q Query) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(Query{tx: tx, store: s})
	})
}

// Command runs fn inside a read-write transaction.
func (s *Store) Command(fn func(c Command) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(Command{tx: tx, store: s})
	})
}

func (s *Store) AddPeer(peer []byte, expiryDate time.Time) error {
	e, err := expiryDate.UTC().MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshaling expiry date: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(peersBucket))
		if bucket == nil {
			return ErrMissingBucket
		}
		if err := s.put(bucket, peer, e); err != nil {
			return fmt.Errorf("adding peer to bucket: %w", err)
		}
		return nil
	})
}

func (s *Store) RemovePeer(peer []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(peersBucket))
		if bucket == nil {
			return ErrMissingBucket
		}
		s.delete(bucket, peer)
		return nil
	})
}

func (s *Store) PeerExists(peer []byte) bool {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(peersBucket))
		if bucket == nil {
			return ErrMissingBucket
		}
		b, err := s.get(bucket, peer)
		switch {
		case b == nil:
			return nil
		case err != nil:
			return fmt.Errorf("find peer: %w", err)
		}
		expiry := time.Time{}
		if err := expiry.UnmarshalBinary(b); err != nil {
			return fmt.Errorf("unmarshaling expiry date: %w", err)
		}
		if expiry.Before(time.Now().UTC()) {
			s.delete(bucket, peer)
			return nil
		}
		exists = true
		return nil
	})
	return err == nil && exists
}

func (s *Store) AddIdentity(algorithm, id []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(identityBucket))
		if bucket == nil {
			return ErrMissingBucket
		}
		if err := bucket.Put(algorithm, id); err != nil {
			return fmt.Errorf("adding identity to bucket: %w", err)
		}
		return nil
	})
}

func (s *Store) GetIdentity(algorithm []byte) ([]byte, error) {
	var id []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(identityBucket))
		if bucket == nil {
			return ErrMissingBucket
		}
		id = bucket.Get(algorithm)
		if id == nil {
			return ErrNotFound
		}
		return nil
	})
	return id, err
}

func (s *Store) IdentityExists(algorithm []byte) bool {
	_, err := s.GetIdentity(algorithm)
	return err == nil
}

func (s *Store) put(bucket *bolt.Bucket, key, value []byte) error {
	return bucket.Put(s.cipher.Encrypt(key), s.cipher.Encrypt(value))
}

func (s *Store) delete(bucket *bolt.Bucket, key []byte) {
	_ = bucket.Delete(s.cipher.Encrypt(key))
}

func (s *Store) get(bucket *bolt.Bucket, key []byte) ([]byte, error) {
	encryptedValue := bucket.Get(s.cipher.Encrypt(key))
	if encryptedValue == nil {
		return nil, nil
	}
	value, err := s.cipher.Decrypt(encryptedValue)
	if err != nil {
		return nil, ErrFailedDecryption
	}
	return value, nil
}
