package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"counterchain/core/host"
	"counterchain/native/counter"
	"counterchain/observability/logging"
)

var (
	// ErrNotFound is returned for unknown transaction identifiers.
	ErrNotFound = errors.New("indexer: not found")
	// ErrUnsupportedDriver rejects drivers other than sqlite and postgres.
	ErrUnsupportedDriver = errors.New("indexer: unsupported driver")
)

const defaultRecentLimit = 50

// Indexer persists completed transactions, their receipts and counter
// actions for off-ledger queries.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Indexer, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	idx, err := New(db, log)
	if err != nil {
		return nil, err
	}
	idx.logger.Info("indexer ready", slog.String("driver", driver), logging.DSN(dsn))
	return idx, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: db required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{db: db, logger: log}, nil
}

// Close releases the underlying connection pool.
func (i *Indexer) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Hook returns a host.ResultHook that indexes every completed transaction.
// Indexing failures are logged and never affect execution.
func (i *Indexer) Hook(timeout time.Duration) host.ResultHook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(res *host.Result) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := i.IndexResult(ctx, res); err != nil {
			i.logger.Error("index transaction", "tx", res.TxID, "error", err)
		}
	}
}

// IndexResult stores res atomically. Re-indexing the same transaction is a
// no-op.
func (i *Indexer) IndexResult(ctx context.Context, res *host.Result) error {
	if res == nil {
		return errors.New("indexer: nil result")
	}
	outcomes := res.Outcomes()
	tx := Transaction{
		ID:        res.TxID,
		Signer:    string(res.Transaction.Signer),
		Receiver:  string(res.Transaction.Receiver),
		Method:    res.Transaction.Method,
		Deposit:   res.Transaction.AttachedDeposit().Dec(),
		Succeeded: res.Succeeded(),
	}
	if failure, ok := res.FirstFailure(); ok {
		tx.Failure = failure.Failure
	}
	var receipts []Receipt
	var actions []Action
	for seq, out := range outcomes {
		logs, err := json.Marshal(out.Logs)
		if err != nil {
			return err
		}
		receipts = append(receipts, Receipt{
			ID:          out.ReceiptID,
			TxID:        res.TxID,
			Seq:         seq,
			ParentID:    out.ParentID,
			Executor:    string(out.Executor),
			Predecessor: string(out.Predecessor),
			Signer:      string(out.Signer),
			Method:      out.Method,
			Status:      out.Status.String(),
			Failure:     out.Failure,
			Return:      string(out.Return),
			Logs:        string(logs),
			GasBurnt:    uint64(out.GasBurnt),
			BlockHeight: out.BlockHeight,
			TimestampMs: out.TimestampMs,
		})
		for _, evt := range out.Events {
			if evt == nil || evt.Type != counter.EventTypePerformAction {
				continue
			}
			actions = append(actions, Action{
				TxID:        res.TxID,
				ReceiptID:   out.ReceiptID,
				Actor:       evt.Attributes["user"],
				Requested:   evt.Attributes["requested"],
				Resolved:    evt.Attributes["action"],
				Value:       evt.Attributes["value"],
				BlockHeight: out.BlockHeight,
				TimestampMs: out.TimestampMs,
			})
		}
	}

	return i.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var existing int64
		if err := db.Model(&Transaction{}).Where("id = ?", tx.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		if err := db.Create(&tx).Error; err != nil {
			return err
		}
		if len(receipts) > 0 {
			if err := db.Create(&receipts).Error; err != nil {
				return err
			}
		}
		if len(actions) > 0 {
			if err := db.Create(&actions).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Transaction loads a transaction with its receipts in execution order.
func (i *Indexer) Transaction(ctx context.Context, id string) (*Transaction, error) {
	var tx Transaction
	err := i.db.WithContext(ctx).
		Preload("Receipts", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&tx, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Receipts returns the receipts of a transaction in execution order.
func (i *Indexer) Receipts(ctx context.Context, txID string) ([]Receipt, error) {
	tx, err := i.Transaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	return tx.Receipts, nil
}

// RecentActions returns the newest counter actions first.
func (i *Indexer) RecentActions(ctx context.Context, limit int) ([]Action, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	var actions []Action
	err := i.db.WithContext(ctx).Order("block_height DESC").Order("id DESC").Limit(limit).Find(&actions).Error
	if err != nil {
		return nil, err
	}
	return actions, nil
}

// ActionsByActor returns the newest actions of actor first.
func (i *Indexer) ActionsByActor(ctx context.Context, actor string, limit int) ([]Action, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	var actions []Action
	err := i.db.WithContext(ctx).Where("actor = ?", actor).Order("block_height DESC").Limit(limit).Find(&actions).Error
	if err != nil {
		return nil, err
	}
	return actions, nil
}
