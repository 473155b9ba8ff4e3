package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// schemaLockKey serialises concurrent EnsureSchema calls from the collector
// and analyzer starting at the same time.
const schemaLockKey int64 = 0x6f69736368

const notifyTriggerSQL = `DROP TRIGGER IF EXISTS observations_notify_insert ON observations;
CREATE TRIGGER observations_notify_insert
    AFTER INSERT ON observations
    FOR EACH ROW EXECUTE FUNCTION notify_observation_insert('%s');`

var channelName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// EnsureSchema applies the embedded migrations and, when channel is set,
// installs the insert trigger that publishes the token symbol on channel.
func (s *Store) EnsureSchema(ctx context.Context, channel string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if channel != "" && !channelName.MatchString(channel) {
		return fmt.Errorf("invalid notification channel %q", channel)
	}

	scripts, err := migrationScripts()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1);`, schemaLockKey); err != nil {
			return fmt.Errorf("lock schema: %w", err)
		}
		for _, script := range scripts {
			if _, err := tx.Exec(ctx, script.body); err != nil {
				return fmt.Errorf("apply %s: %w", script.name, err)
			}
		}
		if channel == "" {
			return nil
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(notifyTriggerSQL, channel)); err != nil {
			return fmt.Errorf("install notify trigger: %w", err)
		}
		return nil
	})
}

type migrationScript struct {
	name string
	body string
}

func migrationScripts() ([]migrationScript, error) {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	scripts := make([]migrationScript, 0, len(names))
	for _, name := range names {
		body, readErr := migrationFiles.ReadFile(name)
		if readErr != nil {
			return nil, fmt.Errorf("read %s: %w", name, readErr)
		}
		scripts = append(scripts, migrationScript{name: name, body: string(body)})
	}
	return scripts, nil
}
