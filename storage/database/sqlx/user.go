package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-courses/core"
	"github.com/trezcool/masomo-courses/core/user"
	"github.com/trezcool/masomo-courses/storage/database"
)

const userColumns = "id, name, email, roles, is_active, created_at, updated_at"

var userOrderings = map[string]string{
	"name":       "name",
	"email":      "email",
	"created_at": "created_at",
}

type userRepository struct {
	repository
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{repository{exec: exec}}
}

// trapNoRowsErr maps "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return database.Wrap(err, msg)
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	ex := repo.getExec(exec)
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	usr.CreatedAt = usr.CreatedAt.UTC()
	usr.UpdatedAt = usr.UpdatedAt.UTC()

	q := ex.Rebind(`INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := ex.ExecContext(ctx, q, usr.ID, usr.Name, usr.Email, usr.Roles, usr.IsActive, usr.CreatedAt, usr.UpdatedAt); err != nil {
		return user.User{}, database.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	ex := repo.getExec(exec)

	var where string
	var arg interface{}
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		where, arg = "id = ?", filter.ID
	case filter.Email != "":
		where, arg = "email = ?", filter.Email
	default:
		return user.User{}, user.ErrNotFound
	}

	var usr user.User
	if err := ex.GetContext(ctx, &usr, ex.Rebind(`SELECT `+userColumns+` FROM users WHERE `+where), arg); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "getting user")
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	ex := repo.getExec(exec)

	var conds []string
	var args []interface{}
	if filter != nil {
		// users with Name or Email matching the search keyword
		if filter.Search != "" {
			like := likeOperator(ex)
			conds = append(conds, "(name "+like+" ? ESCAPE '\\' OR email "+like+" ? ESCAPE '\\')")
			val := likePattern(filter.Search)
			args = append(args, val, val)
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			roleConds := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				roleConds = append(roleConds, "(',' || roles) LIKE ? ESCAPE '\\'")
				args = append(args, "%,"+strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(role)+"%")
			}
			conds = append(conds, "("+strings.Join(roleConds, " OR ")+")")
		}
	}

	q := `SELECT ` + userColumns + ` FROM users`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += orderBy(ordering, userOrderings, "created_at DESC")

	users := make([]user.User, 0)
	if err := ex.SelectContext(ctx, &users, ex.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "selecting users")
	}
	return users, nil
}

func (repo userRepository) DeleteUser(ctx context.Context, id string, exec ...core.DBExecutor) error {
	if _, err := uuid.Parse(id); err != nil {
		return user.ErrNotFound
	}
	ex := repo.getExec(exec)
	res, err := ex.ExecContext(ctx, ex.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return errors.Wrap(err, "deleting user")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "deleting user")
	} else if n == 0 {
		return user.ErrNotFound
	}
	return nil
}
