package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"govline/internal/domain"
)

const requestCols = `id,type,status,project_id,requester_id,approver_id,comment,response_comment,metadata,created_at,updated_at,responded_at`

func scanRequest(scan func(...any) error) (domain.ValidationRequest, error) {
	var v domain.ValidationRequest
	var approver, response, metadata, responded sql.NullString
	err := scan(&v.ID, &v.Type, &v.Status, &v.ProjectID, &v.RequesterID, &approver,
		&v.Comment, &response, &metadata, &v.CreatedAt, &v.UpdatedAt, &responded)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if approver.Valid {
		v.ApproverID = &approver.String
	}
	if response.Valid {
		v.ResponseComment = &response.String
	}
	if responded.Valid {
		v.RespondedAt = &responded.String
	}
	if metadata.Valid && metadata.String != "" {
		payload, err := domain.DecodePayload(v.Type, metadata.String)
		if err != nil {
			return v, fmt.Errorf("request %s: %w", v.ID, err)
		}
		v.Payload = payload
	}
	return v, nil
}

func (r Repo) InsertRequestTx(ctx context.Context, tx *sql.Tx, v domain.ValidationRequest) error {
	metadata, err := domain.EncodePayload(v.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO validation_requests(`+requestCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		v.ID, string(v.Type), string(v.Status), v.ProjectID, v.RequesterID, nullablePtr(v.ApproverID),
		v.Comment, nullablePtr(v.ResponseComment), nullable(metadata), v.CreatedAt, v.UpdatedAt, nullablePtr(v.RespondedAt))
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.ValidationRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+requestCols+` FROM validation_requests WHERE id=?`, id)
	return scanRequest(row.Scan)
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.ValidationRequest, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+requestCols+` FROM validation_requests WHERE id=?`, id)
	return scanRequest(row.Scan)
}

// RequestFilters narrows ListRequests. Zero values are ignored.
type RequestFilters struct {
	Status      domain.RequestStatus
	Type        domain.RequestType
	ProjectID   string
	RequesterID string
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.ValidationRequest, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status=?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		conds = append(conds, "type=?")
		args = append(args, string(f.Type))
	}
	if f.ProjectID != "" {
		conds = append(conds, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.RequesterID != "" {
		conds = append(conds, "requester_id=?")
		args = append(args, f.RequesterID)
	}
	query := `SELECT ` + requestCols + ` FROM validation_requests`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationRequest
	for rows.Next() {
		v, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// DecideRequestTx transitions a request out of PENDING. The write is
// conditioned on the prior status so two concurrent decisions cannot both
// succeed: the loser observes zero affected rows and gets ok=false.
func (r Repo) DecideRequestTx(ctx context.Context, tx *sql.Tx, id string, to domain.RequestStatus, approverID string, responseComment *string, now string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE validation_requests SET status=?, approver_id=?, response_comment=?, responded_at=?, updated_at=? WHERE id=? AND status=?`,
		string(to), approverID, nullablePtr(responseComment), now, now, id, string(domain.RequestPending))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
