// Package inmemdb provides map-backed repositories for tests.
package inmemdb

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/auth"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/live"
	"github.com/trezcool/academia/core/quiz"
	"github.com/trezcool/academia/core/user"
)

var errRawSQL = errors.New("inmemdb: raw SQL not supported")

type DB struct {
	mutex sync.RWMutex

	users         map[string]*user.User
	courses       map[string]*course.Course
	modules       map[string]*course.Module
	lessons       map[string]*course.Lesson
	grants        map[string]map[string]map[course.Role]time.Time // course -> user -> role
	enrollments   map[string]map[string]time.Time                 // course -> user
	groups        map[string]*course.Group
	groupMembers  map[string]map[string]bool // group -> user
	refreshTokens map[string]*auth.RefreshToken
	inviteTokens  map[string]*auth.InviteToken
	quizzes       map[string]*quiz.Quiz
	sessions      map[string]*live.Session
}

var _ core.DB = (*DB)(nil)

func NewDB() *DB {
	return &DB{
		users:         make(map[string]*user.User),
		courses:       make(map[string]*course.Course),
		modules:       make(map[string]*course.Module),
		lessons:       make(map[string]*course.Lesson),
		grants:        make(map[string]map[string]map[course.Role]time.Time),
		enrollments:   make(map[string]map[string]time.Time),
		groups:        make(map[string]*course.Group),
		groupMembers:  make(map[string]map[string]bool),
		refreshTokens: make(map[string]*auth.RefreshToken),
		inviteTokens:  make(map[string]*auth.InviteToken),
		quizzes:       make(map[string]*quiz.Quiz),
		sessions:      make(map[string]*live.Session),
	}
}

// BeginTx hands out a pass-through transactor; the repositories guard their
// own state, so commit and rollback are no-ops.
func (db *DB) BeginTx(context.Context, *sql.TxOptions) (core.DBTransactor, error) {
	return noopTx{}, nil
}

func (db *DB) Exec(string, ...interface{}) (sql.Result, error) { return nil, errRawSQL }
func (db *DB) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errRawSQL
}
func (db *DB) Query(string, ...interface{}) (*sql.Rows, error) { return nil, errRawSQL }
func (db *DB) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errRawSQL
}
func (db *DB) QueryRow(string, ...interface{}) *sql.Row                         { return nil }
func (db *DB) QueryRowContext(context.Context, string, ...interface{}) *sql.Row { return nil }

type noopTx struct{}

var _ core.DBTransactor = noopTx{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

func (noopTx) Exec(string, ...interface{}) (sql.Result, error) { return nil, errRawSQL }
func (noopTx) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errRawSQL
}
func (noopTx) Query(string, ...interface{}) (*sql.Rows, error) { return nil, errRawSQL }
func (noopTx) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errRawSQL
}
func (noopTx) QueryRow(string, ...interface{}) *sql.Row                         { return nil }
func (noopTx) QueryRowContext(context.Context, string, ...interface{}) *sql.Row { return nil }
