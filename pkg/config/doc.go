// Package config loads the engine configuration from environment variables.
//
// Server settings:
//
//	PERMENGINE_HOST="0.0.0.0"
//	PERMENGINE_PORT="8080"
//	PERMENGINE_HEALTH_PORT="9090"
//
// Storage settings (no Postgres URL keeps every store in memory):
//
//	PERMENGINE_POSTGRES_URL="postgres://localhost/permengine"
//	PERMENGINE_POSTGRES_REPLICA_URLS="postgres://replica1/permengine,postgres://replica2/permengine"
//	PERMENGINE_REDIS_URL="redis://localhost:6379"
//
// Cache settings:
//
//	PERMENGINE_CACHE_BACKEND="memory"  # memory, lru, redis
//	PERMENGINE_CACHE_LRU_SIZE="100000"
//	PERMENGINE_WORKSPACE_CACHE_TTL="5m"
//	PERMENGINE_DECISION_CACHE_TTL="5m"
//	PERMENGINE_CACHE_SWEEP_SCHEDULE="@every 10m"
//
// Engine settings:
//
//	PERMENGINE_MATRIX_FILE="/etc/permengine/matrix.yaml"
//	PERMENGINE_WORKSPACE_FETCH_TIMEOUT="3s"
//	PERMENGINE_SUPERADMIN_BYPASS_GATES="true"
//	PERMENGINE_EXPIRY_SCHEDULE="@every 1m"
//
// Observability settings:
//
//	PERMENGINE_LOG_LEVEL="info"  # debug, info, warn, error
//	PERMENGINE_METRICS_ENABLED="true"
//	PERMENGINE_OTEL_ENABLED="true"
//	PERMENGINE_OTEL_ENDPOINT="otel-collector:4317"
package config
