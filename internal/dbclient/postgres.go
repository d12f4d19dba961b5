package dbclient

import (
	"strconv"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	quote:       doubleQuote,
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	textType:    "TEXT",
	intType:     "BIGINT",
}
