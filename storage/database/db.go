package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/trezcool/academia/core"
	appfs "github.com/trezcool/academia/fs"
)

func dsn(conf *core.Config, dbName string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(conf.Database.User, conf.Database.Password),
		Host:     conf.Database.Host + ":" + conf.Database.Port,
		Path:     dbName,
		RawQuery: "sslmode=" + conf.Database.SSLMode,
	}
	return u.String()
}

// CreateIfNotExist creates the app database when it does not exist yet.
func CreateIfNotExist(conf *core.Config) error {
	db, err := sql.Open(conf.Database.Engine, dsn(conf, "postgres"))
	if err != nil {
		return errors.Wrap(err, "opening maintenance database")
	}
	defer db.Close()

	var exists bool
	err = db.QueryRow("SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", conf.Database.Name).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "checking database existence")
	}
	if !exists {
		if _, err = db.Exec(fmt.Sprintf("CREATE DATABASE %q", conf.Database.Name)); err != nil {
			return errors.Wrapf(err, "creating database %q", conf.Database.Name)
		}
	}
	return nil
}

// DB wraps sqlx so transactions surface as core.DBTransactor.
type DB struct {
	*sqlx.DB
}

var _ core.DB = (*DB)(nil)

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.DBTransactor, error) {
	return db.DB.BeginTx(ctx, opts)
}

// Open connects to the app database and verifies the connection.
func Open(conf *core.Config) (*DB, error) {
	db, err := sqlx.Connect(conf.Database.Engine, dsn(conf, conf.Database.Name))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to database")
	}
	return &DB{DB: db}, nil
}

// Migrate applies all pending migrations from the embedded FS.
func Migrate(db *DB) error {
	goose.SetBaseFS(appfs.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting goose dialect")
	}
	return errors.Wrap(goose.Up(db.DB.DB, "migrations"), "applying migrations")
}
