package repository

import (
	"database/sql"
	"fmt"
	"time"

	"ChunkFM/db"
	"ChunkFM/model"
)

// LibraryRepository defines the interface for acquisition bookkeeping.
type LibraryRepository interface {
	UpsertEntry(entry *model.LibraryEntry) error
	GetEntry(trackID string) (*model.LibraryEntry, error)
	DeleteEntry(trackID string) error
	ListEntries() ([]*model.LibraryEntry, error)
}

// mysqlLibraryRepository implements LibraryRepository for MySQL.
type mysqlLibraryRepository struct {
	DB *sql.DB
}

// NewMySQLLibraryRepository creates a new instance of mysqlLibraryRepository.
func NewMySQLLibraryRepository() LibraryRepository {
	return &mysqlLibraryRepository{DB: db.DB}
}

// UpsertEntry creates or overwrites the bookkeeping row for a track.
func (r *mysqlLibraryRepository) UpsertEntry(entry *model.LibraryEntry) error {
	query := `INSERT INTO library_entries (track_id, source_kind, chunk_count, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?)
	          ON DUPLICATE KEY UPDATE source_kind = VALUES(source_kind), chunk_count = VALUES(chunk_count), updated_at = VALUES(updated_at)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for UpsertEntry: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	if _, err := stmt.Exec(entry.TrackID, entry.SourceKind, entry.ChunkCount, now, now); err != nil {
		return fmt.Errorf("failed to execute UpsertEntry: %w", err)
	}
	return nil
}

// GetEntry fetches the bookkeeping row for a track. Returns (nil, nil) when absent.
func (r *mysqlLibraryRepository) GetEntry(trackID string) (*model.LibraryEntry, error) {
	query := `SELECT track_id, source_kind, chunk_count, created_at, updated_at
	          FROM library_entries WHERE track_id = ?`

	entry := &model.LibraryEntry{}
	err := r.DB.QueryRow(query, trackID).Scan(
		&entry.TrackID, &entry.SourceKind, &entry.ChunkCount, &entry.CreatedAt, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query library entry %s: %w", trackID, err)
	}
	return entry, nil
}

// DeleteEntry removes the bookkeeping row, used to roll back a speculative
// entry after a failed acquisition.
func (r *mysqlLibraryRepository) DeleteEntry(trackID string) error {
	if _, err := r.DB.Exec(`DELETE FROM library_entries WHERE track_id = ?`, trackID); err != nil {
		return fmt.Errorf("failed to delete library entry %s: %w", trackID, err)
	}
	return nil
}

// ListEntries returns all bookkeeping rows, newest first.
func (r *mysqlLibraryRepository) ListEntries() ([]*model.LibraryEntry, error) {
	query := `SELECT track_id, source_kind, chunk_count, created_at, updated_at
	          FROM library_entries ORDER BY updated_at DESC`

	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list library entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.LibraryEntry
	for rows.Next() {
		entry := &model.LibraryEntry{}
		if err := rows.Scan(&entry.TrackID, &entry.SourceKind, &entry.ChunkCount, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan library entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
