// Package config loads broker configuration from three layers:
// built-in defaults, an optional YAML file, and environment variables.
// Each layer overrides the one below it, so a containerized deployment
// can run on environment variables alone while a host install keeps a
// file under /etc.
//
// # Environment Variables
//
//	API_KEY            key required on every API request
//	LISTEN_ADDR        HTTP bind address           (:4000)
//	CHALLENGE_DIR      challenge root directory    (./challenges)
//	STORE_BACKEND      redis | bolt                (redis)
//	REDIS_HOST         redis host                  (localhost)
//	REDIS_PORT         redis port                  (6379)
//	REDIS_PASSWORD     redis auth, empty for none
//	REDIS_DB           redis database number       (0)
//	BOLT_PATH          bolt database file          (./burrow.db)
//	INFRA_CONTAINERS   comma list reset spares     (cadvisor)
//	CLEANUP_INTERVAL   surplus pass interval       (30s)
//	PRESTART_INTERVAL  prewarm drain interval      (5s)
//	LOG_LEVEL          debug|info|warn|error       (info)
//	LOG_JSON           JSON log output             (true)
//
// Durations use Go syntax ("30s", "1m"). INFRA_CONTAINERS names the
// long-lived containers the reset command must leave running.
//
// # File Format
//
//	api_key: secret
//	listen_addr: ":4000"
//	store_backend: redis
//	redis:
//	  host: redis.internal
//	  port: 6379
//	infra_containers: [cadvisor]
package config
