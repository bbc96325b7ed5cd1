package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/seoman/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

const projectColumns = `id, user_id, name, url, industry, services, target_audience, created_at, updated_at`

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*model.Project, error) {
	var (
		p        model.Project
		services []byte
		audience []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.URL, &p.Industry,
		&services, &audience, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeProjectJSON(&p, services, audience); err != nil {
		return nil, err
	}
	return &p, nil
}

// decodeProjectJSON はJSONB列をProjectに展開する。
// nilのスライスは空スライスに揃える。
func decodeProjectJSON(p *model.Project, services, audience []byte) error {
	if len(services) > 0 {
		if err := json.Unmarshal(services, &p.Services); err != nil {
			return fmt.Errorf("failed to decode services: %w", err)
		}
	}
	if len(audience) > 0 {
		if err := json.Unmarshal(audience, &p.TargetAudience); err != nil {
			return fmt.Errorf("failed to decode target_audience: %w", err)
		}
	}
	if p.Services == nil {
		p.Services = []string{}
	}
	ta := &p.TargetAudience
	if ta.Gender == nil {
		ta.Gender = []string{}
	}
	if ta.Languages == nil {
		ta.Languages = []string{}
	}
	if ta.Location == nil {
		ta.Location = []string{}
	}
	return nil
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListByUserID はユーザーのプロジェクトをcreated_at降順で返す。
func (r *PostgresProjectRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// FindByURLKey はurl_keyが完全一致するプロジェクトを返す。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByURLKey(ctx context.Context, userID, urlKey string) (*model.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects
		 WHERE user_id = $1 AND url_key = $2`,
		userID, urlKey,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project by url key: %w", err)
	}
	return p, nil
}

// FindByURLKeyContaining はurl_keyにurlKeyを含むプロジェクトを1件返す。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByURLKeyContaining(ctx context.Context, userID, urlKey string) (*model.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects
		 WHERE user_id = $1 AND url_key LIKE '%' || $2 || '%' ESCAPE '\'
		 ORDER BY created_at
		 LIMIT 1`,
		userID, escapeLike(urlKey),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search project by url key: %w", err)
	}
	return p, nil
}

// Insert はプロジェクトを作成し、採番されたIDとタイムスタンプを含む行を返す。
func (r *PostgresProjectRepo) Insert(ctx context.Context, project *model.Project, urlKey string) (*model.Project, error) {
	services := project.Services
	if services == nil {
		services = []string{}
	}
	servicesJSON, err := json.Marshal(services)
	if err != nil {
		return nil, fmt.Errorf("failed to encode services: %w", err)
	}
	audienceJSON, err := json.Marshal(project.TargetAudience)
	if err != nil {
		return nil, fmt.Errorf("failed to encode target_audience: %w", err)
	}

	inserted, err := scanProject(r.db.QueryRowContext(ctx,
		`INSERT INTO projects (id, user_id, name, url, url_key, industry, services, target_audience)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+projectColumns,
		uuid.New().String(), project.UserID, project.Name, project.URL, urlKey,
		project.Industry, servicesJSON, audienceJSON,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateURLKey
		}
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}
	return inserted, nil
}

// Delete は指定IDのプロジェクトを削除する。対象が存在しなくてもエラーにしない。
func (r *PostgresProjectRepo) Delete(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		// UUIDでないIDに一致する行は存在しない
		return nil
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM projects WHERE id = $1 AND user_id = $2`,
		id, userID,
	); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

// DeleteByUserID はユーザーの全プロジェクトを削除する。
func (r *PostgresProjectRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete user projects: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

var _ ProjectRepository = (*PostgresProjectRepo)(nil)
