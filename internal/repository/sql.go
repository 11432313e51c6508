package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/lvdashuaibi/roundvote/config"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("记录不存在")
	// ErrDuplicate 违反唯一约束
	ErrDuplicate = errors.New("违反唯一约束")
)

// SQLRepository 关系型存储，写操作走主库，非关键读走从库
type SQLRepository struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
	dialect  *dialect
	log      logrus.FieldLogger
}

func NewSQLRepository(cfg config.DatabaseConfig, log logrus.FieldLogger) (*SQLRepository, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	masterDB, err := openDB(d, cfg, cfg.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}
	if err = masterDB.Ping(); err != nil {
		masterDB.Close()
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	slaveDB := masterDB
	if cfg.Slave != "" && cfg.Slave != cfg.Master {
		slaveDB, err = openDB(d, cfg, cfg.Slave)
		if err != nil {
			masterDB.Close()
			return nil, fmt.Errorf("连接从数据库失败: %w", err)
		}
		if err = slaveDB.Ping(); err != nil {
			log.WithError(err).Warn("从数据库连接测试失败，将使用主数据库代替")
			slaveDB.Close()
			slaveDB = masterDB
		}
	}

	return &SQLRepository{
		masterDB: masterDB,
		slaveDB:  slaveDB,
		dialect:  d,
		log:      log,
	}, nil
}

func openDB(d *dialect, cfg config.DatabaseConfig, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	db.SetConnMaxLifetime(lifetime)
	return db, nil
}

// Driver 当前使用的数据库类型
func (r *SQLRepository) Driver() string {
	return r.dialect.name
}

// Migrate 执行内嵌的建表语句，语句均为幂等
func (r *SQLRepository) Migrate(ctx context.Context) error {
	data, err := migrationFS.ReadFile("migrations/" + r.dialect.name + ".sql")
	if err != nil {
		return fmt.Errorf("读取建表语句失败: %w", err)
	}

	for _, stmt := range strings.Split(string(data), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := r.masterDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行建表语句失败: %w", err)
		}
	}
	r.log.WithField("driver", r.dialect.name).Info("数据库表结构已就绪")
	return nil
}

// InTx 在单个事务中执行 fn，fn 返回错误或 panic 时回滚
func (r *SQLRepository) InTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := r.masterDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()

	if err = fn(&Tx{tx: sqlTx, dialect: r.dialect}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.log.WithError(rbErr).Warn("回滚事务失败")
		}
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

func (r *SQLRepository) q(query string) string {
	return r.dialect.rebind(query)
}

// Close 关闭数据库连接
func (r *SQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
}
