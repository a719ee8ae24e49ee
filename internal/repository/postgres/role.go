package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/timelycabs/auth/internal/domain"
	"github.com/timelycabs/auth/pkg/database"
)

// RoleRepository implements repository.RoleRepository using PostgreSQL.
type RoleRepository struct {
	db database.DBTX
}

// NewRoleRepository creates a new PostgreSQL-backed role repository.
func NewRoleRepository(db database.DBTX) *RoleRepository {
	return &RoleRepository{db: db}
}

// EnsureCatalog inserts the given roles in one statement, skipping names that
// already exist.
func (r *RoleRepository) EnsureCatalog(ctx context.Context, roles []domain.Role) (err error) {
	if len(roles) == 0 {
		return nil
	}

	values := make([]string, 0, len(roles))
	args := make([]any, 0, len(roles)*2)
	for i, role := range roles {
		values = append(values, fmt.Sprintf("(gen_random_uuid(), $%d, $%d)", i*2+1, i*2+2))
		args = append(args, role.Name, role.Description)
	}
	query := `INSERT INTO roles (id, name, description) VALUES ` +
		strings.Join(values, ", ") +
		` ON CONFLICT (name) DO NOTHING`

	ctx, end := database.TraceQuery(ctx, "EnsureRoles", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	return nil
}

// Assign links the named role to the user unless the link exists.
func (r *RoleRepository) Assign(ctx context.Context, userID, roleName string) (err error) {
	query := `
		INSERT INTO user_roles (user_id, role_id, created_at)
		SELECT $1, id, NOW() FROM roles WHERE name = $2
		ON CONFLICT (user_id, role_id) DO NOTHING`
	ctx, end := database.TraceQuery(ctx, "AssignRole", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, userID, roleName); err != nil {
		return fmt.Errorf("assign role %s: %w", roleName, err)
	}
	return nil
}

// ListNames returns the user's role names in alphabetical order.
func (r *RoleRepository) ListNames(ctx context.Context, userID string) (names []string, err error) {
	query := `
		SELECT r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name`
	ctx, end := database.TraceQuery(ctx, "ListRoles", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	names = []string{}
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role row: %w", err)
		}
		names = append(names, name)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role rows: %w", err)
	}
	return names, nil
}
