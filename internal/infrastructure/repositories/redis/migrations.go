package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = keyPrefix + "schema:version"
	currentSchemaVersion = 1
)

type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs the migrations newer than the stored schema version.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date", "version", currentVersion)
		}
		return nil
	}

	for _, migration := range migrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version, "name", migration.Name)
		}
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

func migrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "prune room indexes",
			Up:      pruneRoomIndexes,
		},
	}
}

// pruneRoomIndexes removes room index members whose report key is gone.
func pruneRoomIndexes(ctx context.Context, client *redis.Client) error {
	iter := client.Scan(ctx, 0, roomKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		index := iter.Val()
		members, err := client.SMembers(ctx, index).Result()
		if err != nil {
			return err
		}
		for _, member := range members {
			n, err := client.Exists(ctx, keyPrefix+"report:"+member).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				if err := client.SRem(ctx, index, member).Err(); err != nil {
					return err
				}
			}
		}
	}
	return iter.Err()
}
