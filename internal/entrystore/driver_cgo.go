//go:build cgo_sqlite

package entrystore

// Registers mattn/go-sqlite3's cgo driver under the "sqlite3" name.
// Building with -tags cgo_sqlite trades the no-cgo guarantee for
// sqlite-vec ANN support (see internal/vectorindex/sqlitevec_cgo.go).
import _ "github.com/mattn/go-sqlite3"

const driverName = "sqlite3"
const vecCapable = true
