package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	bolt "go.etcd.io/bbolt"
)

var (
	dataDir   = flag.String("data-dir", "/var/lib/burrow", "Burrow data directory holding burrow.db")
	redisHost = flag.String("redis-host", "localhost", "Target Redis host")
	redisPort = flag.Int("redis-port", 6379, "Target Redis port")
	redisPass = flag.String("redis-password", "", "Target Redis password")
	redisDB   = flag.Int("redis-db", 0, "Target Redis database number")
	dryRun    = flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	force     = flag.Bool("force", false, "Migrate even when the target Redis database is not empty")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Burrow State Migration Tool - BoltDB → Redis")
	log.Println("============================================")

	dbPath := filepath.Join(*dataDir, "burrow.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Source: %s", dbPath)
	log.Printf("Target: redis://%s:%d/%d", *redisHost, *redisPort, *redisDB)
	log.Printf("Dry run: %v", *dryRun)

	// Read-only open: the source stays intact whatever happens on the
	// Redis side. Blocks up to 5s if a running broker holds the lock.
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{ReadOnly: true, Timeout: 5 * time.Second})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(*redisHost, strconv.Itoa(*redisPort)),
		Password: *redisPass,
		DB:       *redisDB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to reach Redis: %v", err)
	}

	if !*dryRun && !*force {
		size, err := rdb.DBSize(ctx).Result()
		if err != nil {
			log.Fatalf("Failed to check target database: %v", err)
		}
		if size > 0 {
			log.Fatalf("Target Redis database holds %d keys; re-run with --force to merge into it", size)
		}
	}

	if err := migrate(ctx, db, rdb, *dryRun); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if *dryRun {
		log.Println("")
		log.Println("Dry run completed. No changes made.")
		log.Println("Run without --dry-run to perform the migration.")
	} else {
		log.Println("")
		log.Println("✓ Migration completed successfully!")
		log.Printf("Source database at %s is untouched; archive it once the broker runs clean on Redis.", dbPath)
	}
}

func migrate(ctx context.Context, db *bolt.DB, rdb *redis.Client, dryRun bool) error {
	var kvCount, setCount int

	// Inspect first so the dry run and the progress totals are exact.
	err := db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte("kv")); b != nil {
			_ = b.ForEach(func(k, v []byte) error { kvCount++; return nil })
		}
		if b := tx.Bucket([]byte("sets")); b != nil {
			_ = b.ForEach(func(k, v []byte) error { setCount++; return nil })
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("Found %d keys and %d sets to migrate", kvCount, setCount)
	if kvCount == 0 && setCount == 0 {
		log.Println("✓ Nothing to migrate")
		return nil
	}

	if dryRun {
		log.Println("")
		log.Println("[DRY RUN] Would perform the following operations:")
		log.Printf("1. SET %d plain keys (instance records, assignments, counters)", kvCount)
		log.Printf("2. SADD the members of %d sets (indexes, port registry, queues)", setCount)
		return nil
	}

	migrated := 0
	total := kvCount + setCount
	return db.View(func(tx *bolt.Tx) error {
		log.Println("")
		log.Println("Migrating entries...")

		if b := tx.Bucket([]byte("kv")); b != nil {
			err := b.ForEach(func(k, v []byte) error {
				if err := rdb.Set(ctx, string(k), string(v), 0).Err(); err != nil {
					return fmt.Errorf("failed to set %s: %w", k, err)
				}
				migrated++
				if migrated%10 == 0 {
					log.Printf("  Migrated %d/%d...", migrated, total)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		if b := tx.Bucket([]byte("sets")); b != nil {
			err := b.ForEach(func(k, v []byte) error {
				var members []string
				if err := json.Unmarshal(v, &members); err != nil {
					log.Printf("⚠ Warning: skipping corrupt set %s: %v", k, err)
					return nil
				}
				if len(members) == 0 {
					return nil
				}
				args := make([]any, len(members))
				for i, m := range members {
					args[i] = m
				}
				if err := rdb.SAdd(ctx, string(k), args...).Err(); err != nil {
					return fmt.Errorf("failed to sadd %s: %w", k, err)
				}
				migrated++
				if migrated%10 == 0 {
					log.Printf("  Migrated %d/%d...", migrated, total)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		log.Printf("✓ Migrated %d/%d entries to Redis", migrated, total)
		return nil
	})
}
