package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes a function inside a database transaction,
// passing the underlying handle through the `tx` argument.
//
// Use-case interfaces stay clean (no driver types leak out); repository
// methods accept `tx Tx` and detect a live transaction implementation-side
// so they can run tx-bound Exec/Query. Repositories MUST gracefully accept
// a nil tx (non-transactional path). The concrete type of `tx` is
// infra-defined (pgx.Tx for Postgres).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
