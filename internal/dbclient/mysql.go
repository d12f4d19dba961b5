package dbclient

import (
	"strings"

	"github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	quote:       func(ident string) string { return "`" + strings.ReplaceAll(ident, "`", "``") + "`" },
	placeholder: questionMark,
	textType:    "LONGTEXT",
	intType:     "BIGINT",
}

// buildMySQLDSN forces utf8mb4 on a user supplied DSN
// (user:password@tcp(host:port)/dbname). Unparseable DSNs are passed through
// so the driver reports the error.
func buildMySQLDSN(dsn string) string {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return dsn
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	return cfg.FormatDSN()
}
