package pgrepos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

type userRepository struct {
	exec core.DBExecutor
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{exec: exec}
}

const userColumns = "id, name, email, password_hash, roles, is_active, must_reset_password, created_at, updated_at, last_login"

func scanUser(row interface{ Scan(...interface{}) error }) (user.User, error) {
	var (
		usr       user.User
		pwdHash   null.Bytes
		roles     pq.StringArray
		isActive  bool
		lastLogin null.Time
	)
	err := row.Scan(
		&usr.ID, &usr.Name, &usr.Email, &pwdHash, &roles,
		&isActive, &usr.MustResetPassword, &usr.CreatedAt, &usr.UpdatedAt, &lastLogin,
	)
	if err != nil {
		return user.User{}, err
	}
	usr.PasswordHash = pwdHash.Bytes
	usr.Roles = user.RolesFromStrings(roles)
	usr.SetActive(isActive)
	usr.LastLogin = lastLogin.Time
	return usr, nil
}

func (repo userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	query := "SELECT EXISTS (SELECT 1 FROM app_user WHERE lower(email) = lower($1)"
	args := []interface{}{email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		query += " AND id != ALL($2)"
		args = append(args, pq.Array(ids))
	}
	query += ")"

	var exists bool
	if err := getExec(repo.exec, exec).QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	usr.ID = uuid.New().String()
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		`INSERT INTO app_user (id, name, email, password_hash, roles, is_active, must_reset_password, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		usr.ID, usr.Name, usr.Email, null.BytesFrom(usr.PasswordHash), pq.Array(user.RoleStrings(usr.Roles)),
		usr.Active(), usr.MustResetPassword, usr.CreatedAt, usr.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var (
		query string
		arg   interface{}
	)
	switch {
	case filter.ID != "":
		if !validUUID(filter.ID) {
			return user.User{}, user.ErrNotFound
		}
		query = "SELECT " + userColumns + " FROM app_user WHERE id = $1"
		arg = filter.ID
	case filter.Email != "":
		query = "SELECT " + userColumns + " FROM app_user WHERE lower(email) = lower($1)"
		arg = filter.Email
	default:
		return user.User{}, user.ErrNotFound
	}

	usr, err := scanUser(getExec(repo.exec, exec).QueryRowContext(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "getting user")
	}
	return usr, nil
}

func (repo userRepository) FilterUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	query := "SELECT " + userColumns + " FROM app_user"
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.Search != "" {
			p := arg("%" + filter.Search + "%")
			conds = append(conds, fmt.Sprintf("(name ILIKE %s OR email ILIKE %s)", p, p))
		}
		if len(filter.Roles) > 0 {
			conds = append(conds, fmt.Sprintf("roles && %s", arg(pq.Array(filter.Roles))))
		}
		if filter.IsActive != nil {
			conds = append(conds, fmt.Sprintf("is_active = %s", arg(*filter.IsActive)))
		}
		if !filter.CreatedFrom.IsZero() {
			conds = append(conds, fmt.Sprintf("created_at >= %s", arg(filter.CreatedFrom)))
		}
		if !filter.CreatedTo.IsZero() {
			conds = append(conds, fmt.Sprintf("created_at <= %s", arg(filter.CreatedTo)))
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if len(ordering) > 0 {
		ords := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			ords = append(ords, ord.String())
		}
		query += " ORDER BY " + strings.Join(ords, ", ")
	} else {
		query += " ORDER BY created_at DESC"
	}

	rows, err := getExec(repo.exec, exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "filtering users")
	}
	defer rows.Close()

	users := make([]user.User, 0)
	for rows.Next() {
		usr, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning user")
		}
		users = append(users, usr)
	}
	return users, errors.Wrap(rows.Err(), "iterating users")
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool, exec ...core.DBExecutor) (user.User, error) {
	if !validUUID(usr.ID) {
		return user.User{}, user.ErrNotFound
	}
	query := `UPDATE app_user
		 SET name = COALESCE(NULLIF($2, ''), name),
		     email = COALESCE(NULLIF($3, ''), email),
		     roles = CASE WHEN $4::text[] IS NULL THEN roles ELSE $4 END,
		     password_hash = COALESCE($5, password_hash),
		     is_active = COALESCE($6, is_active),
		     updated_at = $7
		 WHERE id = $1
		 RETURNING ` + userColumns

	var rolesArg interface{}
	if usr.Roles != nil {
		rolesArg = pq.Array(user.RoleStrings(usr.Roles))
	}
	var pwdArg interface{}
	if len(usr.PasswordHash) > 0 {
		pwdArg = usr.PasswordHash
	}
	var activeArg interface{}
	if isActive != nil {
		activeArg = *isActive
	}

	updated, err := scanUser(getExec(repo.exec, exec).QueryRowContext(ctx, query,
		usr.ID, usr.Name, usr.Email, rolesArg, pwdArg, activeArg, usr.UpdatedAt))
	if err != nil {
		if isNoRows(err) {
			return user.User{}, user.ErrNotFound
		}
		if isUniqueViolation(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	return updated, nil
}

func (repo userRepository) SetUserPassword(ctx context.Context, id string, hash []byte, mustReset bool, exec ...core.DBExecutor) error {
	if !validUUID(id) {
		return user.ErrNotFound
	}
	res, err := getExec(repo.exec, exec).ExecContext(ctx,
		"UPDATE app_user SET password_hash = $2, must_reset_password = $3, updated_at = $4 WHERE id = $1",
		id, hash, mustReset, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "setting password")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (repo userRepository) SetUserActive(ctx context.Context, id string, active bool, exec ...core.DBExecutor) error {
	if !validUUID(id) {
		return user.ErrNotFound
	}
	res, err := getExec(repo.exec, exec).ExecContext(ctx,
		"UPDATE app_user SET is_active = $2, updated_at = $3 WHERE id = $1",
		id, active, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "setting active flag")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (repo userRepository) SetLastLogin(ctx context.Context, id string, t time.Time, exec ...core.DBExecutor) error {
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		"UPDATE app_user SET last_login = $2 WHERE id = $1", id, t)
	return errors.Wrap(err, "setting last login")
}
