package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver for goose
	"github.com/pressly/goose/v3"

	"github.com/phonechecker/phonechecker/migrations"
)

// Migrate applies every pending migration embedded in the migrations package.
func Migrate(ctx context.Context, databaseURL string) error {
	db, err := openMigrationDB(databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// ResetSchema rolls every migration back and re-applies it. Tests only.
func ResetSchema(ctx context.Context, databaseURL string) error {
	db, err := openMigrationDB(databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.ResetContext(ctx, db, "."); err != nil {
		return fmt.Errorf("reset migrations: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func openMigrationDB(databaseURL string) (*sql.DB, error) {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open migration connection: %w", err)
	}
	return db, nil
}
