package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_init.sql
var initSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, initSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
				DROP TABLE IF EXISTS answers;
				DROP TABLE IF EXISTS question_stats;
				DROP TABLE IF EXISTS sessions;
				DROP TABLE IF EXISTS questions;
				DROP TABLE IF EXISTS users;`)
			return err
		},
	)
}
