package store

import (
	"context"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/punchamoorthee/quorumvault/internal/domain"
	"github.com/punchamoorthee/quorumvault/internal/vault"
)

const schema = `
CREATE TABLE IF NOT EXISTS asset_balances (
	asset      TEXT PRIMARY KEY,
	balance    BIGINT NOT NULL CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS role_members (
	role       TEXT NOT NULL,
	principal  TEXT NOT NULL,
	seq        BIGSERIAL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (role, principal)
);
`

// pgNumericOutOfRange is raised when a balance would leave BIGINT range.
const pgNumericOutOfRange = "22003"

var (
	_ vault.AssetLedger    = (*PostgresLedger)(nil)
	_ vault.AccessRegistry = (*PostgresRegistry)(nil)
)

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse database config")
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create connection pool")
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "unable to ping database")
	}

	return &Store{Db: pool}, nil
}

// Migrate creates the tables the ledger and registry need.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Db.Exec(ctx, schema)
	return errors.Wrap(err, "migrate schema")
}

func (s *Store) Close() {
	s.Db.Close()
}

func (s *Store) Ledger() *PostgresLedger {
	return &PostgresLedger{db: s.Db}
}

func (s *Store) Registry() *PostgresRegistry {
	return &PostgresRegistry{db: s.Db}
}

// PostgresLedger keeps one balance row per asset.
type PostgresLedger struct {
	db *pgxpool.Pool
}

func (l *PostgresLedger) Balance(ctx context.Context, asset domain.Asset) (uint64, error) {
	var balance int64
	err := l.db.QueryRow(ctx, "SELECT balance FROM asset_balances WHERE asset = $1", string(asset)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "query balance of %s", asset)
	}
	return uint64(balance), nil
}

func (l *PostgresLedger) Credit(ctx context.Context, asset domain.Asset, amount uint64) (uint64, error) {
	if amount > math.MaxInt64 {
		return 0, errors.Wrapf(vault.ErrLedgerTransferFailed, "credit %s: amount out of range", asset)
	}

	var balance int64
	err := l.db.QueryRow(ctx,
		`INSERT INTO asset_balances (asset, balance) VALUES ($1, $2)
		 ON CONFLICT (asset) DO UPDATE SET balance = asset_balances.balance + EXCLUDED.balance, updated_at = now()
		 RETURNING balance`,
		string(asset), int64(amount),
	).Scan(&balance)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgNumericOutOfRange {
			return 0, errors.Wrapf(vault.ErrLedgerTransferFailed, "credit %s: balance overflow", asset)
		}
		return 0, errors.Wrapf(vault.ErrLedgerTransferFailed, "credit %s: %v", asset, err)
	}
	return uint64(balance), nil
}

// Debit locks the asset row, checks the balance and subtracts amount in one
// transaction.
func (l *PostgresLedger) Debit(ctx context.Context, asset domain.Asset, amount uint64) (uint64, error) {
	if amount > math.MaxInt64 {
		return 0, errors.Wrapf(vault.ErrInsufficientBalance, "debit %s: amount out of range", asset)
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, errors.Wrapf(vault.ErrLedgerTransferFailed, "debit %s: tx begin failed: %v", asset, err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, "SELECT balance FROM asset_balances WHERE asset = $1 FOR UPDATE", string(asset)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		balance = 0
	} else if err != nil {
		return 0, errors.Wrapf(vault.ErrLedgerTransferFailed, "debit %s: lock acquisition failed: %v", asset, err)
	}

	if uint64(balance) < amount {
		return 0, errors.Wrapf(vault.ErrInsufficientBalance, "debit %d %s from %d", amount, asset, balance)
	}
	if amount == 0 {
		return uint64(balance), nil
	}

	err = tx.QueryRow(ctx,
		"UPDATE asset_balances SET balance = balance - $1, updated_at = now() WHERE asset = $2 RETURNING balance",
		int64(amount), string(asset),
	).Scan(&balance)
	if err != nil {
		return 0, errors.Wrapf(vault.ErrLedgerTransferFailed, "debit %s: update failed: %v", asset, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrapf(vault.ErrLedgerTransferFailed, "debit %s: tx commit failed: %v", asset, err)
	}
	return uint64(balance), nil
}

// PostgresRegistry keeps role membership in role_members.
type PostgresRegistry struct {
	db *pgxpool.Pool
}

func (r *PostgresRegistry) HasRole(ctx context.Context, p domain.Principal, role domain.Role) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM role_members WHERE role = $1 AND principal = $2)",
		string(role), string(p),
	).Scan(&exists)
	return exists, errors.Wrap(err, "query role")
}

func (r *PostgresRegistry) Grant(ctx context.Context, p domain.Principal, role domain.Role) (bool, error) {
	tag, err := r.db.Exec(ctx,
		"INSERT INTO role_members (role, principal) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		string(role), string(p),
	)
	if err != nil {
		return false, errors.Wrap(err, "grant role")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRegistry) Revoke(ctx context.Context, p domain.Principal, role domain.Role) (bool, error) {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM role_members WHERE role = $1 AND principal = $2",
		string(role), string(p),
	)
	if err != nil {
		return false, errors.Wrap(err, "revoke role")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRegistry) MemberCount(ctx context.Context, role domain.Role) (uint64, error) {
	var count int64
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM role_members WHERE role = $1", string(role)).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "count role members")
	}
	return uint64(count), nil
}

func (r *PostgresRegistry) Members(ctx context.Context, role domain.Role) ([]domain.Principal, error) {
	rows, err := r.db.Query(ctx, "SELECT principal FROM role_members WHERE role = $1 ORDER BY seq", string(role))
	if err != nil {
		return nil, errors.Wrap(err, "query role members")
	}

	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Principal, error) {
		var p string
		err := row.Scan(&p)
		return domain.Principal(p), err
	})
	return members, errors.Wrap(err, "scan role members")
}
