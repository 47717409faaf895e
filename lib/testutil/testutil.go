package testutil

import (
	"database/sql"
	"testing"

	"billfetch/internal/components/telemetry"
	"billfetch/pkg/migrations"
)

type ServiceParams struct {
	Name string
	// if unspecified, it will skip setting up a db
	DbSchema string
	// if unspecified, it will use `:memory:`
	DbPath string
}

type ServiceResult struct {
	DB  *sql.DB
	Tel *telemetry.Recorder
}

// SetupService opens (and migrates) the database a service under test needs, everything
// is released when the test ends.
func SetupService(t testing.TB, params ServiceParams) ServiceResult {
	t.Helper()

	result := ServiceResult{Tel: &telemetry.Recorder{}}
	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("telemetry reported by %s:\n%s", params.Name, result.Tel.String())
		}
	})
	if params.DbSchema == "" {
		return result
	}

	dbpath := ":memory:"
	if params.DbPath != "" {
		dbpath = params.DbPath
	}
	db, err := migrations.OpenDB(dbpath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	err = migrations.Migrate(db, params.DbSchema)
	if err != nil {
		t.Fatal(err)
	}
	result.DB = db
	return result
}
