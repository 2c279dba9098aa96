package transcript

import (
	"errors"

	"github.com/kandev/acpadapter/internal/common/config"
	"github.com/kandev/acpadapter/internal/db"
)

// Provide opens the configured database and returns a repository that owns
// it. A nil repository with a nil error means persistence is disabled.
func Provide(cfg config.DatabaseConfig) (Repository, func() error, error) {
	pool, err := db.Open(cfg)
	if errors.Is(err, db.ErrDisabled) {
		return nil, func() error { return nil }, nil
	}
	if err != nil {
		return nil, nil, err
	}
	repo, err := newSQLRepository(pool, true)
	if err != nil {
		return nil, nil, err
	}
	return repo, repo.Close, nil
}
