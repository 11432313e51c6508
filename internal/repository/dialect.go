package repository

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	mysqlDuplicateEntry = 1062
	pgUniqueViolation   = "23505"
)

// 计票原子累加：不存在则插入 count=1，否则 count+1
const (
	tallyUpsertMySQL      = `INSERT INTO results (id, voting_id, participant_id, count) VALUES (?, ?, ?, 1) ON DUPLICATE KEY UPDATE count = count + 1`
	tallyUpsertOnConflict = `INSERT INTO results (id, voting_id, participant_id, count) VALUES (?, ?, ?, 1) ON CONFLICT (voting_id, participant_id) DO UPDATE SET count = results.count + 1`
)

// dialect 封装各数据库之间的差异
type dialect struct {
	name string
	// database/sql 注册的驱动名
	driver            string
	dollarBinds       bool
	tallyUpsert       string
	isUniqueViolation func(err error) bool
}

func dialectFor(name string) (*dialect, error) {
	switch name {
	case DriverMySQL:
		return &dialect{
			name:              DriverMySQL,
			driver:            "mysql",
			tallyUpsert:       tallyUpsertMySQL,
			isUniqueViolation: isMySQLUniqueViolation,
		}, nil
	case DriverPostgres:
		return &dialect{
			name:              DriverPostgres,
			driver:            "pgx",
			dollarBinds:       true,
			tallyUpsert:       tallyUpsertOnConflict,
			isUniqueViolation: isPostgresUniqueViolation,
		}, nil
	case DriverSQLite:
		return &dialect{
			name:              DriverSQLite,
			driver:            "sqlite",
			tallyUpsert:       tallyUpsertOnConflict,
			isUniqueViolation: isSQLiteUniqueViolation,
		}, nil
	default:
		return nil, errors.New("不支持的数据库驱动: " + name)
	}
}

// rebind 将 ? 占位符转换为目标数据库的格式
func (d *dialect) rebind(query string) string {
	if !d.dollarBinds {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isMySQLUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
