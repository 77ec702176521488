package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"acqbridge/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = "acqbridge:schema:version"
	currentSchemaVersion = 1
	scanBatch            = 200
)

// EnsureSchema stamps an empty store with the current version and refuses
// one written by a newer release. On a fresh stamp the run index is rebuilt
// from any run records already present.
func EnsureSchema(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	version, err := client.Get(ctx, schemaVersionKey).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	switch {
	case version == currentSchemaVersion:
		return nil
	case version > currentSchemaVersion:
		return fmt.Errorf("store schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}

	n, err := RebuildRunIndex(ctx, client)
	if err != nil {
		return err
	}
	if logger != nil {
		logger.Infow("run store initialized", "schema_version", currentSchemaVersion, "indexed_runs", n)
	}
	return client.Set(ctx, schemaVersionKey, currentSchemaVersion, 0).Err()
}

// RebuildRunIndex re-adds every stored run to the start-time index and
// returns how many were indexed.
func RebuildRunIndex(ctx context.Context, client *redis.Client) (int, error) {
	index := runKeyPrefix + "index"
	indexed := 0

	iter := client.Scan(ctx, 0, runKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if key == index {
			continue
		}

		data, err := client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return indexed, fmt.Errorf("failed to read %s: %w", key, err)
		}

		var run domain.AcquisitionRun
		if err := json.Unmarshal(data, &run); err != nil {
			// not a run record
			continue
		}
		id := strings.TrimPrefix(key, runKeyPrefix)
		member := redis.Z{Score: float64(run.StartedAt.UnixNano()), Member: id}
		if err := client.ZAdd(ctx, index, member).Err(); err != nil {
			return indexed, fmt.Errorf("failed to index run %s: %w", id, err)
		}
		indexed++
	}
	if err := iter.Err(); err != nil {
		return indexed, fmt.Errorf("failed to scan runs: %w", err)
	}
	return indexed, nil
}
