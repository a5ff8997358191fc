package testenv

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
)

// initMySQL creates the service and Authorizer databases and the service user. The
// entity tables are created by the service's migrations.
func initMySQL(ctx context.Context, host, port string) error {
	dsn := mysql.NewConfig()
	dsn.User = "root"
	dsn.Passwd = os.Getenv("DB_ROOT_PASSWORD")
	dsn.Net = "tcp"
	dsn.Addr = host + ":" + port

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return fmt.Errorf("connect for setup: %w", err)
	}
	defer db.Close()

	// Wait for connection to be really ready
	for i := 0; i < 30; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		return fmt.Errorf("not ready after 30 seconds: %w", err)
	}

	statements := []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", os.Getenv("DB_DATABASE")),
		fmt.Sprintf("CREATE USER IF NOT EXISTS '%s'@'%%' IDENTIFIED BY '%s'", os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD")),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'%%'", os.Getenv("DB_DATABASE"), os.Getenv("DB_USER")),
	}
	if authzDB := os.Getenv("AUTHZ_DATABASE"); authzDB != "" {
		statements = append(statements,
			fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", authzDB),
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s`.authorizer_users (id CHAR(36) NOT NULL PRIMARY KEY)", authzDB),
		)
	}
	statements = append(statements, "FLUSH PRIVILEGES")

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: when executing > %s", err, stmt)
		}
	}
	return nil
}
