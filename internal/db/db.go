package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the Postgres database at dsn and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// Migrations are idempotent and applied in order on every start.
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS chat_rooms (
            id BIGSERIAL PRIMARY KEY,
            student_id BIGINT NOT NULL,
            student_name TEXT NOT NULL DEFAULT '',
            staff_id BIGINT NOT NULL DEFAULT 0,
            staff_name TEXT NOT NULL DEFAULT '',
            staff_role TEXT NOT NULL CHECK (staff_role IN ('admin', 'faculty', 'principal')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            last_message_at TIMESTAMPTZ,
            UNIQUE(student_id, staff_role)
        );`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
            id BIGSERIAL PRIMARY KEY,
            room_id BIGINT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
            sender_id BIGINT NOT NULL,
            sender_role TEXT NOT NULL,
            sender_name TEXT NOT NULL DEFAULT '',
            content TEXT NOT NULL,
            client_id TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            read_at TIMESTAMPTZ,
            deleted_at TIMESTAMPTZ,
            UNIQUE(room_id, client_id)
        );`,
	`CREATE INDEX IF NOT EXISTS chat_messages_room_created_idx ON chat_messages (room_id, created_at DESC, id DESC);`,
}

func runMigrations(db *sqlx.DB) error {
	for _, m := range Migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
