// Package pgtest boots a throwaway postgres container for store tests.
package pgtest

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/pkg/errors"

	_ "github.com/jackc/pgx/v4/stdlib"
)

const (
	containerName = "postgres"
	containerTag  = "12"
	password      = "localtest"
	database      = "billingz_test"
)

// StartPostgresDB starts a postgres container and returns its connection URL.
// The container removes itself when the test process exits.
func StartPostgresDB(pool *dockertest.Pool) (string, error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: containerName,
		Tag:        containerTag,
		Env: []string{
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=" + database,
			"listen_addresses = '*'",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to start postgres container")
	}

	_ = resource.Expire(120)

	return fmt.Sprintf(
		"postgres://postgres:%s@localhost:%s/%s?sslmode=disable",
		password,
		resource.GetPort("5432/tcp"),
		database,
	), nil
}

// WaitForConnection blocks until the database accepts connections, then
// returns an open handle.
func WaitForConnection(pool *dockertest.Pool, databaseURL string) (*sql.DB, error) {
	var db *sql.DB

	pool.MaxWait = 60 * time.Second
	err := pool.Retry(func() error {
		var err error
		db, err = sql.Open("pgx", databaseURL)
		if err != nil {
			return err
		}
		return db.Ping()
	})
	if err != nil {
		return nil, errors.Wrap(err, "timed out waiting for postgres")
	}

	return db, nil
}
