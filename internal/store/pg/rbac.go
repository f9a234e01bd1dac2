package pg

import (
	"context"
	"database/sql"
	"errors"

	"authgate.dev/internal/auth"
	"authgate.dev/internal/ids"
)

type roleStore Store

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description, is_system)
		values ($1, $2, $3, $4)
		returning created_at, updated_at
	`, role.ID, role.Name, nullIfEmpty(role.Description), role.IsSystem)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

const roleColumns = `id, name, description, is_system, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (*auth.Role, error) {
	var (
		role auth.Role
		desc sql.NullString
	)
	if err := row.Scan(&role.ID, &role.Name, &desc, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	role.Description = desc.String
	return &role, nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return role, err
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return role, err
}

func (s *roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *roleStore) Update(ctx context.Context, role *auth.Role) error {
	res, err := s.db.ExecContext(ctx, `
		update roles set name = $2, description = $3, updated_at = now() where id = $1
	`, role.ID, role.Name, nullIfEmpty(role.Description))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *roleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *roleStore) Assign(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id) values ($1, $2)
	`, userID, roleID)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}

func (s *roleStore) Unassign(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *roleStore) RolesForUser(ctx context.Context, userID string) ([]*auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.is_system, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

type permissionStore Store

func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, name, description, resource, action)
			values ($1, $2, $3, $4, $5)
			on conflict (name) do nothing
		`, id, p.Name, nullIfEmpty(p.Description), p.Resource, p.Action); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const permColumns = `id, name, description, resource, action, created_at`

func scanPermission(row interface{ Scan(...any) error }) (auth.Permission, error) {
	var (
		p    auth.Permission
		desc sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &desc, &p.Resource, &p.Action, &p.CreatedAt); err != nil {
		return auth.Permission{}, err
	}
	p.Description = desc.String
	return p, nil
}

func (s *permissionStore) List(ctx context.Context) ([]auth.Permission, error) {
	return s.query(ctx, `select `+permColumns+` from permissions order by name`)
}

func (s *permissionStore) Find(ctx context.Context, id string) (*auth.Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx, `select `+permColumns+` from permissions where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *permissionStore) AssignToRole(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id) values ($1, $2)
	`, roleID, permissionID)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation:
			return auth.ErrNotFound
		}
	}
	return err
}

func (s *permissionStore) RemoveFromRole(ctx context.Context, roleID, permissionID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from role_permissions where role_id = $1 and permission_id = $2
	`, roleID, permissionID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *permissionStore) ForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	return s.query(ctx, `
		select p.id, p.name, p.description, p.resource, p.action, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name
	`, roleID)
}

func (s *permissionStore) NamesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.name
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
		order by p.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *permissionStore) query(ctx context.Context, q string, args ...any) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
