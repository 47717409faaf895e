package migrations

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Database selects either a local sqlite file or a remote libsql database. Url takes
// precedence when both are set.
type Database struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

func (d Database) OpenDB() (*sql.DB, error) {
	if d.Url != "" {
		return openRemote(d.Url, d.AuthToken)
	}
	if d.File == "" {
		return nil, wrapOpenDB(fmt.Errorf("neither a file nor a url was specified"))
	}
	return OpenDB(d.File)
}

func openRemote(rawUrl, authToken string) (*sql.DB, error) {
	dbUrl, err := url.Parse(rawUrl)
	if err != nil {
		return nil, wrapOpenDB(err)
	}
	if authToken != "" {
		query := dbUrl.Query()
		query.Set("authToken", authToken)
		dbUrl.RawQuery = query.Encode()
	}

	db, err := sql.Open("libsql", dbUrl.String())
	if err != nil {
		return nil, wrapOpenDB(err)
	}
	return db, nil
}

// OpenDB opens a local sqlite database, creating its parent directory if needed.
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0755)
		if err != nil {
			return nil, wrapOpenDB(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapOpenDB(err)
	}

	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, wrapOpenDB(err)
		}
	}

	return db, nil
}

func wrapMigrate(err error) error {
	return fmt.Errorf("migrate db: %w", err)
}

// Migrate applies a schema made only of idempotent statements (`create ... if not exists`).
func Migrate(db *sql.DB, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.Exec(stmt)
		if err != nil {
			return wrapMigrate(err)
		}
	}
	return nil
}

func (d Database) OpenAndMigrateDB(schema string) (*sql.DB, error) {
	db, err := d.OpenDB()
	if err != nil {
		return nil, err
	}
	err = Migrate(db, schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
