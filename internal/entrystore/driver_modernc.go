//go:build !cgo_sqlite

package entrystore

// Registers the pure-Go "sqlite" driver. This is the default build:
// no cgo required. Pass -tags cgo_sqlite to switch to mattn's
// cgo-accelerated driver and gain sqlite-vec ANN support.
import _ "modernc.org/sqlite"

const driverName = "sqlite"
const vecCapable = false

