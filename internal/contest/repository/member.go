package repository

import (
	"context"
	"errors"
	"strconv"

	"arbiter/internal/common/db"
	"arbiter/internal/contest/model"
)

// MemberRepository defines member persistence interfaces.
type MemberRepository interface {
	GetByID(ctx context.Context, memberID int64) (*model.Member, error)

	// ListByContest returns all members of a contest.
	ListByContest(ctx context.Context, contestID int64) ([]*model.Member, error)

	// ListContestants returns only ranked members.
	ListContestants(ctx context.Context, contestID int64) ([]*model.Member, error)
}

// MySQLMemberRepository implements MemberRepository with MySQL.
type MySQLMemberRepository struct {
	db db.Database
}

// NewMemberRepository creates a member repository.
func NewMemberRepository(database db.Database) MemberRepository {
	return &MySQLMemberRepository{db: database}
}

const memberColumns = "member_id, contest_id, name, role, archived, created_at"

// GetByID retrieves a member by id.
func (r *MySQLMemberRepository) GetByID(ctx context.Context, memberID int64) (*model.Member, error) {
	if memberID <= 0 {
		return nil, errors.New("memberID is required")
	}
	query := "SELECT " + memberColumns + " FROM members WHERE member_id = ? AND archived = 0 LIMIT 1"
	row := r.db.QueryRow(ctx, query, memberID)
	member, err := scanMember(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return member, nil
}

// ListByContest returns all members of a contest ordered by name.
func (r *MySQLMemberRepository) ListByContest(ctx context.Context, contestID int64) ([]*model.Member, error) {
	if contestID <= 0 {
		return nil, errors.New("contestID is required")
	}
	query := "SELECT " + memberColumns + " FROM members WHERE contest_id = ? AND archived = 0 ORDER BY name ASC, member_id ASC"
	return r.list(ctx, query, contestID)
}

// ListContestants returns ranked members ordered by name.
func (r *MySQLMemberRepository) ListContestants(ctx context.Context, contestID int64) ([]*model.Member, error) {
	if contestID <= 0 {
		return nil, errors.New("contestID is required")
	}
	query := "SELECT " + memberColumns + ` FROM members
		WHERE contest_id = ? AND role = ? AND archived = 0
		ORDER BY name ASC, member_id ASC`
	return r.list(ctx, query, contestID, string(model.RoleContestant))
}

func (r *MySQLMemberRepository) list(ctx context.Context, query string, args ...interface{}) ([]*model.Member, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*model.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMember(row scanner) (*model.Member, error) {
	member := &model.Member{}
	var role string
	if err := row.Scan(
		&member.ID,
		&member.ContestID,
		&member.Name,
		&role,
		&member.Archived,
		&member.CreatedAt,
	); err != nil {
		return nil, err
	}
	member.Role = model.Role(role)
	return member, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
