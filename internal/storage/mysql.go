package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3"
	"github.com/saas-innova/file-provider/internal/models"
	"github.com/saas-innova/file-provider/internal/storage/migrations"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MySQLClient wraps file-metadata persistence with tracing
type MySQLClient struct {
	db *sql.DB
}

// NewMySQLClient initializes a new MySQL client
func NewMySQLClient(dsn string) (*MySQLClient, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &MySQLClient{db: db}, nil
}

// Close closes the database connection
func (mc *MySQLClient) Close() error {
	return mc.db.Close()
}

// RunMigrations installs the files schema through the embedded goose
// migrations.
func (mc *MySQLClient) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("mysql"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, mc.db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateFile inserts a pending metadata row and returns its assigned id.
// The stored path stays empty until the storage write succeeds.
func (mc *MySQLClient) CreateFile(ctx context.Context, name string) (int64, error) {
	ctx, span := tracer.Start(ctx, "mysql.create_file",
		trace.WithAttributes(
			attribute.String("file_name", name),
		),
	)
	defer span.End()

	query := `INSERT INTO files (name, stored_path) VALUES (?, '')`

	result, err := mc.db.ExecContext(ctx, query, name)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to insert file: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("file_id", id),
		attribute.Bool("insert_success", true),
	)
	return id, nil
}

// FinalizeFile records the stored path, size, and content type after a
// successful storage write. The name is refreshed too since image
// recompression may have re-suffixed it.
func (mc *MySQLClient) FinalizeFile(ctx context.Context, fileID int64, name, storedPath string, size int64, contentType string) error {
	ctx, span := tracer.Start(ctx, "mysql.finalize_file",
		trace.WithAttributes(
			attribute.Int64("file_id", fileID),
			attribute.String("stored_path", storedPath),
			attribute.Int64("file_size", size),
		),
	)
	defer span.End()

	query := `UPDATE files SET name = ?, stored_path = ?, size = ?, content_type = ? WHERE id = ?`

	_, err := mc.db.ExecContext(ctx, query, name, storedPath, size, contentType, fileID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to finalize file: %w", err)
	}

	span.SetAttributes(attribute.Bool("update_success", true))
	return nil
}

// GetFile retrieves file metadata by id. A missing row reports (nil, nil);
// not found is data here, not an error.
func (mc *MySQLClient) GetFile(ctx context.Context, fileID int64) (*models.File, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_file",
		trace.WithAttributes(
			attribute.Int64("file_id", fileID),
		),
	)
	defer span.End()

	query := `SELECT id, name, stored_path, size, content_type, created_at, updated_at
			  FROM files WHERE id = ?`

	var file models.File
	err := mc.db.QueryRowContext(ctx, query, fileID).Scan(
		&file.ID,
		&file.Name,
		&file.StoredPath,
		&file.Size,
		&file.ContentType,
		&file.CreatedAt,
		&file.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query file: %w", err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return &file, nil
}

// ListFiles retrieves all file metadata rows ordered by id
func (mc *MySQLClient) ListFiles(ctx context.Context) ([]*models.File, error) {
	ctx, span := tracer.Start(ctx, "mysql.list_files")
	defer span.End()

	query := `SELECT id, name, stored_path, size, content_type, created_at, updated_at
			  FROM files
			  ORDER BY id ASC`

	rows, err := mc.db.QueryContext(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		var file models.File
		err := rows.Scan(
			&file.ID,
			&file.Name,
			&file.StoredPath,
			&file.Size,
			&file.ContentType,
			&file.CreatedAt,
			&file.UpdatedAt,
		)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, &file)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	span.SetAttributes(
		attribute.Int("file_count", len(files)),
		attribute.Bool("query_success", true),
	)
	return files, nil
}

// DeleteFile removes a metadata row by id
func (mc *MySQLClient) DeleteFile(ctx context.Context, fileID int64) error {
	ctx, span := tracer.Start(ctx, "mysql.delete_file",
		trace.WithAttributes(
			attribute.Int64("file_id", fileID),
		),
	)
	defer span.End()

	query := `DELETE FROM files WHERE id = ?`

	_, err := mc.db.ExecContext(ctx, query, fileID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete file: %w", err)
	}

	span.SetAttributes(attribute.Bool("delete_success", true))
	return nil
}
