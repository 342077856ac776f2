package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, role, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Name, user.Role, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, role, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Videos and streams ---

func (s *PostgresStore) UpsertVideo(ctx context.Context, url, youtubeID string) (*models.Video, error) {
	var v models.Video
	err := s.pool.QueryRow(ctx,
		`INSERT INTO videos (id, url, youtube_id, created_at) VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (youtube_id) DO UPDATE SET url = EXCLUDED.url
		 RETURNING id, url, youtube_id, created_at`,
		uuid.New(), url, youtubeID,
	).Scan(&v.ID, &v.URL, &v.YouTubeID, &v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert video: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) ResolveUnsortedStream(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	_, err := s.pool.Exec(ctx,
		`INSERT INTO streams (id, name, created_at) VALUES ($1, $2, NOW()) ON CONFLICT (name) DO NOTHING`,
		uuid.New(), UnsortedStreamName)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create unsorted stream: %w", err)
	}
	err = s.pool.QueryRow(ctx, `SELECT id FROM streams WHERE name = $1`, UnsortedStreamName).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("get unsorted stream: %w", err)
	}
	return id, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	segments, err := json.Marshal(job.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_jobs (id, video_id, stream_id, created_by, platform, status, segments, progress, hands_found, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.VideoID, job.StreamID, job.CreatedBy, job.Platform, job.Status, segments,
		job.Progress, job.HandsFound, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var (
		j        models.Job
		segments []byte
		result   []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, video_id, stream_id, created_by, platform, status, segments, progress, hands_found,
		        result, error_message, started_at, completed_at, created_at, updated_at
		 FROM analysis_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.VideoID, &j.StreamID, &j.CreatedBy, &j.Platform, &j.Status, &segments,
		&j.Progress, &j.HandsFound, &result, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if err := json.Unmarshal(segments, &j.Segments); err != nil {
		return nil, fmt.Errorf("decode job segments: %w", err)
	}
	if result != nil {
		j.Result = &models.JobResult{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	return &j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := ResolveJobUpdate(opts...)

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM analysis_jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	if !CanTransitionJob(currentStatus, status) {
		return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE analysis_jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.JobStatusProcessing {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d, progress = 100", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Result != nil {
		b, err := json.Marshal(params.Result)
		if err != nil {
			return fmt.Errorf("marshal job result: %w", err)
		}
		query += fmt.Sprintf(", result = $%d", argIdx)
		args = append(args, b)
		argIdx++
	}
	if params.StreamID != nil {
		query += fmt.Sprintf(", stream_id = $%d", argIdx)
		args = append(args, *params.StreamID)
		argIdx++
	}
	if params.HandsFound != nil {
		query += fmt.Sprintf(", hands_found = $%d", argIdx)
		args = append(args, *params.HandsFound)
		argIdx++
	}

	query += " WHERE id = $1"

	_, err = s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// UpdateJobProgress never lowers stored progress.
func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress, handsFound int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET progress = GREATEST(progress, $2), hands_found = $3, updated_at = NOW()
		 WHERE id = $1`, id, progress, handsFound)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountRecentJobs(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM analysis_jobs WHERE created_by = $1 AND created_at >= $2`, userID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent jobs: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListSegmentClaims(ctx context.Context, videoID uuid.UUID) ([]SegmentClaim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT j.id, j.status, j.segments,
		        COALESCE(ARRAY(SELECT r.segment_id FROM segment_results r
		                       WHERE r.job_id = j.id AND r.status = 'success'), '{}')
		 FROM analysis_jobs j
		 WHERE j.video_id = $1`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list segment claims: %w", err)
	}
	defer rows.Close()

	var claims []SegmentClaim
	for rows.Next() {
		var (
			jobID     uuid.UUID
			status    string
			raw       []byte
			succeeded []string
		)
		if err := rows.Scan(&jobID, &status, &raw, &succeeded); err != nil {
			return nil, fmt.Errorf("scan segment claim: %w", err)
		}
		var segments []models.Segment
		if err := json.Unmarshal(raw, &segments); err != nil {
			return nil, fmt.Errorf("decode claimed segments: %w", err)
		}
		ok := make(map[string]bool, len(succeeded))
		for _, id := range succeeded {
			ok[id] = true
		}
		for _, seg := range segments {
			if finished(status) && !ok[seg.ID] {
				continue
			}
			claims = append(claims, SegmentClaim{JobID: jobID, JobStatus: status, Segment: seg})
		}
	}
	return claims, rows.Err()
}

// FailStaleJobs marks every pending or processing job failed with msg,
// along with its unfinished segment results, and returns the ids of the
// jobs it changed.
func (s *PostgresStore) FailStaleJobs(ctx context.Context, msg string) ([]uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin stale job recovery: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`UPDATE segment_results r SET status = 'failed', error_message = $1, updated_at = NOW()
		 FROM analysis_jobs j
		 WHERE r.job_id = j.id AND j.status IN ('pending', 'processing')
		   AND r.status IN ('pending', 'processing')`, msg)
	if err != nil {
		return nil, fmt.Errorf("fail stale segment results: %w", err)
	}

	rows, err := tx.Query(ctx,
		`UPDATE analysis_jobs
		 SET status = 'failed', error_message = $1, progress = 100, completed_at = NOW(), updated_at = NOW()
		 WHERE status IN ('pending', 'processing')
		 RETURNING id`, msg)
	if err != nil {
		return nil, fmt.Errorf("fail stale jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("collect stale jobs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit stale job recovery: %w", err)
	}
	return ids, nil
}

// --- Segment results ---

func (s *PostgresStore) CreateSegmentResults(ctx context.Context, results []models.SegmentResult) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(
			`INSERT INTO segment_results (job_id, segment_id, segment_index, status, updated_at)
			 VALUES ($1, $2, $3, $4, NOW())`,
			r.JobID, r.SegmentID, r.SegmentIndex, r.Status)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("create segment results: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSegmentResult(ctx context.Context, result *models.SegmentResult) error {
	var current string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM segment_results WHERE job_id = $1 AND segment_id = $2`,
		result.JobID, result.SegmentID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get segment status: %w", err)
	}
	if !CanTransitionSegment(current, result.Status) {
		return fmt.Errorf("%w: segment %s -> %s", ErrInvalidTransition, current, result.Status)
	}

	var errMsg *string
	if result.ErrorMessage != "" {
		errMsg = &result.ErrorMessage
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE segment_results
		 SET status = $3, hands_found = $4, error_message = $5, processing_time = $6, updated_at = NOW()
		 WHERE job_id = $1 AND segment_id = $2`,
		result.JobID, result.SegmentID, result.Status, result.HandsFound, errMsg, result.ProcessingTime)
	if err != nil {
		return fmt.Errorf("update segment result: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSegmentResults(ctx context.Context, jobID uuid.UUID) ([]models.SegmentResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, segment_id, segment_index, status, hands_found, COALESCE(error_message, ''), processing_time, updated_at
		 FROM segment_results WHERE job_id = $1 ORDER BY segment_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list segment results: %w", err)
	}
	defer rows.Close()

	var results []models.SegmentResult
	for rows.Next() {
		var r models.SegmentResult
		if err := rows.Scan(&r.JobID, &r.SegmentID, &r.SegmentIndex, &r.Status, &r.HandsFound,
			&r.ErrorMessage, &r.ProcessingTime, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan segment result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
