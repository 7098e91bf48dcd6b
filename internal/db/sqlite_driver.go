package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
	"github.com/tidwall/gjson"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver with custom SQL functions.
	SQLiteDriverName = "sqlite3_note_organizer"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("json_has_tag", jsonHasTag, true); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "already exists") {
					return nil
				}
				return fmt.Errorf("register json_has_tag SQL function: %w", err)
			}
			return nil
		},
	})
	sqlx.BindDriver(SQLiteDriverName, sqlx.QUESTION)
}

// jsonHasTag reports whether the JSON array in tags contains tag as an exact
// string element. NULL, malformed JSON and non-array values never match.
func jsonHasTag(tags any, tag any) bool {
	blob, ok := sqliteText(tags)
	if !ok {
		return false
	}
	want, ok := sqliteText(tag)
	if !ok {
		return false
	}
	if !gjson.Valid(blob) {
		return false
	}
	parsed := gjson.Parse(blob)
	if !parsed.IsArray() {
		return false
	}
	found := false
	parsed.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String && v.Str == want {
			found = true
			return false
		}
		return true
	})
	return found
}

func sqliteText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	default:
		return "", false
	}
}
