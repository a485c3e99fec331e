package repository

import (
	"context"

	"github.com/rateguard/rateguard/internal/model"
)

// AuditRepo records security-relevant events. Callers treat inserts as
// best-effort and must not fail operations on audit errors.
type AuditRepo struct{ db DBTX }

func NewAuditRepo(db DBTX) *AuditRepo { return &AuditRepo{db: db} }

// Insert appends an audit record.
func (r *AuditRepo) Insert(ctx context.Context, rec *model.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (user_id, action, resource, resource_id, details, ip_address, user_agent)
		 VALUES (?,?,?,?,?,?,?)`,
		rec.UserID, rec.Action, rec.Resource, rec.ResourceID,
		nullStr(rec.Details), nullStr(rec.IPAddress), nullStr(rec.UserAgent))
	return err
}
