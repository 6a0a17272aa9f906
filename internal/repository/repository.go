package repository

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"cloudstash/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

type Repository struct {
	db *sql.DB
}

func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_timeout=5000&_cache_size=2000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) initSchema() error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	_, err = r.db.Exec(string(schemaSQL))
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := r.runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies database migrations for schema changes
func (r *Repository) runMigrations() error {
	// Migration 1: transfers.batch_id was added after the first release
	var hasBatchID bool
	row := r.db.QueryRow("SELECT COUNT(*) FROM pragma_table_info('transfers') WHERE name='batch_id'")
	if err := row.Scan(&hasBatchID); err != nil {
		return fmt.Errorf("failed to check for batch_id column in transfers: %w", err)
	}

	if !hasBatchID {
		slog.Info("migrating database: adding batch_id column to transfers table")
		_, err := r.db.Exec("ALTER TABLE transfers ADD COLUMN batch_id TEXT NOT NULL DEFAULT ''")
		if err != nil {
			return fmt.Errorf("failed to add batch_id column to transfers: %w", err)
		}
		slog.Info("migration complete: batch_id column added to transfers table")
	}

	return nil
}

// Item operations

func (r *Repository) UpsertItem(item *models.ItemAttributes) error {
	query := `
		INSERT INTO items (
			path, name, scope, size_bytes, percent_uploaded, percent_downloaded,
			is_uploaded, downloading_status, upload_error, download_error, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			scope = excluded.scope,
			size_bytes = excluded.size_bytes,
			percent_uploaded = excluded.percent_uploaded,
			percent_downloaded = excluded.percent_downloaded,
			is_uploaded = excluded.is_uploaded,
			downloading_status = excluded.downloading_status,
			upload_error = excluded.upload_error,
			download_error = excluded.download_error,
			updated_at = excluded.updated_at
	`

	item.UpdatedAt = time.Now()
	_, err := r.db.Exec(query,
		item.Path, item.Name, item.Scope, item.SizeBytes, item.PercentUploaded,
		item.PercentDownloaded, item.IsUploaded, item.DownloadingStatus,
		nullString(item.UploadError), nullString(item.DownloadError), item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}

	return nil
}

const itemColumns = `path, name, scope, size_bytes, percent_uploaded, percent_downloaded,
	is_uploaded, downloading_status, upload_error, download_error, updated_at`

func (r *Repository) GetItem(path string) (*models.ItemAttributes, error) {
	query := "SELECT " + itemColumns + " FROM items WHERE path = ?"

	item, err := scanItem(r.db.QueryRow(query, path))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound(path)
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return item, nil
}

func (r *Repository) FindItems(names []string, scopes []models.SearchScope) ([]models.ItemAttributes, error) {
	if len(names) == 0 {
		return nil, nil
	}

	query := "SELECT " + itemColumns + " FROM items"

	var conditions []string
	var args []interface{}

	conditions = append(conditions, fmt.Sprintf("name IN (%s)", placeholders(len(names))))
	for _, name := range names {
		args = append(args, name)
	}

	if len(scopes) > 0 {
		conditions = append(conditions, fmt.Sprintf("scope IN (%s)", placeholders(len(scopes))))
		for _, scope := range scopes {
			args = append(args, scope)
		}
	}

	query += " WHERE " + strings.Join(conditions, " AND ") + " ORDER BY path ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []models.ItemAttributes
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

// DeleteItem removes path and every item below it. The prefix is compared
// exactly; LIKE would treat '_' and '%' in names as wildcards.
func (r *Repository) DeleteItem(path string) error {
	prefix := path + "/"
	_, err := r.db.Exec("DELETE FROM items WHERE path = ? OR substr(path, 1, ?) = ?",
		path, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.ItemAttributes, error) {
	var item models.ItemAttributes
	var uploadError, downloadError sql.NullString

	err := row.Scan(&item.Path, &item.Name, &item.Scope, &item.SizeBytes,
		&item.PercentUploaded, &item.PercentDownloaded, &item.IsUploaded,
		&item.DownloadingStatus, &uploadError, &downloadError, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if uploadError.Valid {
		item.UploadError = uploadError.String
	}
	if downloadError.Valid {
		item.DownloadError = downloadError.String
	}

	return &item, nil
}

// Transfer operations

func (r *Repository) CreateTransfer(job *models.TransferJob) error {
	query := `
		INSERT INTO transfers (
			id, batch_id, direction, local_path, cloud_path, size_bytes, status,
			last_fraction, error_message, created_at, updated_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := r.db.Exec(query,
		job.ID, job.BatchID, job.Direction, job.LocalPath, job.CloudPath, job.SizeBytes,
		job.Status, job.LastFraction, nullString(job.ErrorMessage), job.CreatedAt,
		job.UpdatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}

	return nil
}

func (r *Repository) UpdateTransfer(job *models.TransferJob) error {
	query := `
		UPDATE transfers SET
			local_path = ?, cloud_path = ?, size_bytes = ?, status = ?, last_fraction = ?,
			error_message = ?, updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`

	job.UpdatedAt = time.Now()
	_, err := r.db.Exec(query,
		job.LocalPath, job.CloudPath, job.SizeBytes, job.Status, job.LastFraction,
		nullString(job.ErrorMessage), job.UpdatedAt, job.StartedAt, job.CompletedAt, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}

	return nil
}

const transferColumns = `id, batch_id, direction, local_path, cloud_path, size_bytes, status,
	last_fraction, error_message, created_at, updated_at, started_at, completed_at`

func (r *Repository) GetTransfer(id string) (*models.TransferJob, error) {
	query := "SELECT " + transferColumns + " FROM transfers WHERE id = ?"

	job, err := scanTransfer(r.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, models.NewError(models.CodeNotFound, fmt.Sprintf("transfer %s not found", id))
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}

	return job, nil
}

func (r *Repository) GetTransfers(filter models.TransferFilter) ([]*models.TransferJob, error) {
	query := "SELECT " + transferColumns + " FROM transfers"

	var conditions []string
	var args []interface{}

	if filter.BatchID != "" {
		conditions = append(conditions, "batch_id = ?")
		args = append(args, filter.BatchID)
	}

	if filter.Direction != "" {
		conditions = append(conditions, "direction = ?")
		args = append(args, filter.Direction)
	}

	if len(filter.Status) > 0 {
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", placeholders(len(filter.Status))))
		for _, status := range filter.Status {
			args = append(args, status)
		}
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC, id ASC"

	// Pagination
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var jobs []*models.TransferJob
	for rows.Next() {
		job, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfers: %w", err)
	}

	return jobs, nil
}

func (r *Repository) GetTransferSummary() (*models.TransferSummary, error) {
	query := `
		SELECT
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) as pending,
			COALESCE(SUM(CASE WHEN status = 'in_flight' THEN 1 ELSE 0 END), 0) as in_flight,
			COALESCE(SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END), 0) as succeeded,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) as failed
		FROM transfers
	`

	var summary models.TransferSummary
	err := r.db.QueryRow(query).Scan(
		&summary.TotalTransfers, &summary.PendingTransfers, &summary.InFlightTransfers,
		&summary.SucceededTransfers, &summary.FailedTransfers)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer summary: %w", err)
	}

	return &summary, nil
}

// CleanupOldTransfers removes terminal transfers last updated before the cutoff.
func (r *Repository) CleanupOldTransfers(before time.Time) (int, error) {
	result, err := r.db.Exec(`
		DELETE FROM transfers
		WHERE status IN ('succeeded', 'failed') AND updated_at < ?
	`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup transfers: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(affected), nil
}

// FailInterruptedTransfers marks transfers left pending or in flight by a
// previous process as failed.
func (r *Repository) FailInterruptedTransfers(reason string) (int, error) {
	now := time.Now()
	result, err := r.db.Exec(`
		UPDATE transfers
		SET status = 'failed', error_message = ?, updated_at = ?, completed_at = ?
		WHERE status IN ('pending', 'in_flight')
	`, reason, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted transfers: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(affected), nil
}

func scanTransfer(row rowScanner) (*models.TransferJob, error) {
	var job models.TransferJob
	var errorMessage sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&job.ID, &job.BatchID, &job.Direction, &job.LocalPath, &job.CloudPath,
		&job.SizeBytes, &job.Status, &job.LastFraction, &errorMessage, &job.CreatedAt,
		&job.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if errorMessage.Valid {
		job.ErrorMessage = errorMessage.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}

func placeholders(n int) string {
	p := strings.Repeat("?,", n)
	return p[:len(p)-1]
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
