package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	kvBucket   = []byte("kv")
	setsBucket = []byte("sets")
)

// BoltStore implements Store using BoltDB for single-node deployments
// with no Redis available. Sets are stored as JSON arrays in their own
// bucket; counters are decimal strings in the kv bucket. Bolt runs one
// write transaction at a time, so Pipelined batches are atomic.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates or opens a BoltDB-backed store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{kvBucket, setsBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(ctx context.Context, key string) (string, error) {
	var val string
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(kvBucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		// Copy out: bolt data is only valid inside the transaction
		val = string(data)
		found = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrKeyNotFound
	}
	return val, nil
}

func (s *BoltStore) Set(ctx context.Context, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), []byte(value))
	})
}

func (s *BoltStore) Del(ctx context.Context, keys ...string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return delTx(tx, keys)
	})
}

func (s *BoltStore) Incr(ctx context.Context, key string) (int64, error) {
	var val int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		val, err = incrTx(tx, key)
		return err
	})
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (s *BoltStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return sAddTx(tx, key, members)
	})
}

func (s *BoltStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return sRemTx(tx, key, members)
	})
}

func (s *BoltStore) SMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		members, err = readSet(tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (s *BoltStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	members, err := s.SMembers(ctx, key)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m == member {
			return true, nil
		}
	}
	return false, nil
}

func (s *BoltStore) SCard(ctx context.Context, key string) (int64, error) {
	members, err := s.SMembers(ctx, key)
	if err != nil {
		return 0, err
	}
	return int64(len(members)), nil
}

func (s *BoltStore) Pipelined(ctx context.Context, fn func(Pipeline) error) error {
	p := &boltPipeline{}
	if err := fn(p); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range p.ops {
			if err := op(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return nil
	})
}

func (s *BoltStore) FlushAll(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{kvBucket, setsBucket}
		for _, bucket := range buckets {
			if err := tx.DeleteBucket(bucket); err != nil {
				return fmt.Errorf("failed to delete bucket %s: %w", bucket, err)
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return fmt.Errorf("failed to recreate bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// boltPipeline collects writes and replays them inside one Update
// transaction, giving the same all-or-nothing behavior as MULTI/EXEC.
type boltPipeline struct {
	ops []func(tx *bolt.Tx) error
}

func (p *boltPipeline) Set(key, value string) {
	p.ops = append(p.ops, func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), []byte(value))
	})
}

func (p *boltPipeline) Del(keys ...string) {
	ks := append([]string(nil), keys...)
	p.ops = append(p.ops, func(tx *bolt.Tx) error {
		return delTx(tx, ks)
	})
}

func (p *boltPipeline) Incr(key string) {
	p.ops = append(p.ops, func(tx *bolt.Tx) error {
		_, err := incrTx(tx, key)
		return err
	})
}

func (p *boltPipeline) SAdd(key string, members ...string) {
	ms := append([]string(nil), members...)
	p.ops = append(p.ops, func(tx *bolt.Tx) error {
		return sAddTx(tx, key, ms)
	})
}

func (p *boltPipeline) SRem(key string, members ...string) {
	ms := append([]string(nil), members...)
	p.ops = append(p.ops, func(tx *bolt.Tx) error {
		return sRemTx(tx, key, ms)
	})
}

func delTx(tx *bolt.Tx, keys []string) error {
	kv := tx.Bucket(kvBucket)
	sets := tx.Bucket(setsBucket)
	for _, key := range keys {
		if err := kv.Delete([]byte(key)); err != nil {
			return err
		}
		if err := sets.Delete([]byte(key)); err != nil {
			return err
		}
	}
	return nil
}

func incrTx(tx *bolt.Tx, key string) (int64, error) {
	b := tx.Bucket(kvBucket)
	var val int64
	if data := b.Get([]byte(key)); data != nil {
		parsed, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not an integer: %w", key, err)
		}
		val = parsed
	}
	val++
	if err := b.Put([]byte(key), []byte(strconv.FormatInt(val, 10))); err != nil {
		return 0, err
	}
	return val, nil
}

func sAddTx(tx *bolt.Tx, key string, members []string) error {
	set, err := readSet(tx, key)
	if err != nil {
		return err
	}
	for _, m := range members {
		exists := false
		for _, have := range set {
			if have == m {
				exists = true
				break
			}
		}
		if !exists {
			set = append(set, m)
		}
	}
	return writeSet(tx, key, set)
}

func sRemTx(tx *bolt.Tx, key string, members []string) error {
	set, err := readSet(tx, key)
	if err != nil {
		return err
	}
	kept := set[:0]
	for _, have := range set {
		remove := false
		for _, m := range members {
			if have == m {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, have)
		}
	}
	return writeSet(tx, key, kept)
}

func readSet(tx *bolt.Tx, key string) ([]string, error) {
	data := tx.Bucket(setsBucket).Get([]byte(key))
	if data == nil {
		return []string{}, nil
	}
	var set []string
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("corrupt set at %s: %w", key, err)
	}
	return set, nil
}

func writeSet(tx *bolt.Tx, key string, set []string) error {
	b := tx.Bucket(setsBucket)
	if len(set) == 0 {
		return b.Delete([]byte(key))
	}
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal set: %w", err)
	}
	return b.Put([]byte(key), data)
}
