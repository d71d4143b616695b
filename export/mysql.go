package export

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

var MySQL = Dialect{
	Name: "mysql",
	CreateTable: "CREATE TABLE IF NOT EXISTS snapshots (" +
		"`ID` BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT," +
		"`RunID` VARCHAR(64) NOT NULL," +
		"`Cycle` BIGINT," +
		"`Taken` BIGINT," +
		"`Score` DOUBLE," +
		"`Packets` INTEGER," +
		"`TotalPackets` BIGINT," +
		"`Max` DOUBLE," +
		"`Mean` DOUBLE," +
		"`ActiveCells` INTEGER," +
		"`GridRows` INTEGER," +
		"`GridCols` INTEGER," +
		"`Grid` MEDIUMTEXT," +
		"INDEX (`RunID`, `Taken`)" +
		");",
}

// MySQLConfig builds the driver configuration. The password is read from
// passwordFile, which may be empty for password-less users.
func MySQLConfig(server, user, passwordFile, dbName string) (*mysql.Config, error) {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Net = "tcp"
	cfg.Addr = server
	cfg.DBName = dbName
	if passwordFile != "" {
		pass, err := os.ReadFile(passwordFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read MySQL password file %q: %w", passwordFile, err)
		}
		cfg.Passwd = strings.TrimSpace(string(pass))
	}
	return cfg, nil
}

func OpenMySQL(cfg *mysql.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open MySQL DB %q: %w", cfg.Addr, err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	return db, nil
}
