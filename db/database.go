package db

import (
	"database/sql"
	"fmt"
	"log"

	"ChunkFM/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB initializes the database schema, creating tables if they don't exist.
func InitDB() error {
	if err := createLibraryEntriesTable(); err != nil {
		return err
	}
	log.Println("Database schema initialized.")
	return nil
}

func createLibraryEntriesTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS library_entries (
		track_id VARCHAR(64) PRIMARY KEY,
		source_kind VARCHAR(32) NOT NULL,
		chunk_count INT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create library_entries table: %w", err)
	}
	return nil
}
