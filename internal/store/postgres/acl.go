package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/chatgate/internal/domain"
)

// ACLRepo reads command ACLs. ACLs are authored elsewhere; this repo never writes.
type ACLRepo struct {
	pool *pgxpool.Pool
}

func NewACLRepo(pool *pgxpool.Pool) *ACLRepo {
	return &ACLRepo{pool: pool}
}

// ListByOrg returns the enabled ACLs of an org in evaluation order, each with
// its groups in position order. ACLs without groups are omitted.
func (r *ACLRepo) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]domain.CommandACL, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.name, a.priority, a.action,
		        g.id, g.name, g.pattern, g.case_insensitive
		 FROM command_acls a
		 JOIN command_acl_groups ag ON ag.acl_id = a.id
		 JOIN command_groups g ON g.id = ag.group_id
		 WHERE a.org_id = $1 AND a.enabled
		 ORDER BY a.priority, a.id, ag.position, g.id`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("aclRepo.ListByOrg: %w", err)
	}
	defer rows.Close()

	var acls []domain.CommandACL
	for rows.Next() {
		var a domain.CommandACL
		var g domain.CommandGroup

		if err := rows.Scan(
			&a.ID, &a.Name, &a.Priority, &a.Action,
			&g.ID, &g.Name, &g.Pattern, &g.CaseInsensitive,
		); err != nil {
			return nil, fmt.Errorf("aclRepo.ListByOrg: scan: %w", err)
		}

		// Rows arrive grouped by ACL.
		if n := len(acls); n > 0 && acls[n-1].ID == a.ID {
			acls[n-1].Groups = append(acls[n-1].Groups, g)
			continue
		}
		a.Groups = []domain.CommandGroup{g}
		acls = append(acls, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aclRepo.ListByOrg: rows: %w", err)
	}

	return acls, nil
}
