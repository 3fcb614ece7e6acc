package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"limit_go/internal/domain"
	"limit_go/internal/engine"
	"limit_go/internal/event"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	keySnapshotSeq = "snapshot_seq"
	keySnapshotTs  = "snapshot_ts"
)

var (
	_ engine.EventLog      = (*Storage)(nil)
	_ engine.FillLog       = (*Storage)(nil)
	_ engine.SnapshotStore = (*Storage)(nil)
)

// Storage persists the command log, fills and ledger snapshots in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at path.
func NewStorage(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&domain.PoolRecord{},
		&domain.CellRecord{},
		&domain.PositionRecord{},
		&domain.ShareRecord{},
		&domain.CustodyRecord{},
		&domain.FillRecord{},
		&domain.EventRecord{},
		&domain.AppConfig{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Snapshots
// ======================================================================================

// SaveSnapshot replaces the stored ledger state with snap in one transaction.
func (s *Storage) SaveSnapshot(ctx context.Context, snap *domain.LedgerSnapshot) error {
	recs := toRecords(snap)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		for _, model := range []any{
			&domain.PoolRecord{},
			&domain.CellRecord{},
			&domain.PositionRecord{},
			&domain.ShareRecord{},
			&domain.CustodyRecord{},
		} {
			if err := all.Delete(model).Error; err != nil {
				return err
			}
		}

		if err := createAll(tx, recs.pools); err != nil {
			return err
		}
		if err := createAll(tx, recs.cells); err != nil {
			return err
		}
		if err := createAll(tx, recs.positions); err != nil {
			return err
		}
		if err := createAll(tx, recs.shares); err != nil {
			return err
		}
		if err := createAll(tx, recs.custody); err != nil {
			return err
		}

		now := time.Now()
		meta := []domain.AppConfig{
			{Key: keySnapshotSeq, Value: strconv.FormatUint(snap.Seq, 10), UpdatedAt: now},
			{Key: keySnapshotTs, Value: strconv.FormatInt(snap.TsUnix, 10), UpdatedAt: now},
		}
		return tx.Save(&meta).Error
	})
}

func createAll[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(&rows, 500).Error
}

// LoadSnapshot returns the last saved snapshot, or nil if none was saved.
func (s *Storage) LoadSnapshot(ctx context.Context) (*domain.LedgerSnapshot, error) {
	db := s.db.WithContext(ctx)

	meta, err := s.loadConfigMap(db)
	if err != nil {
		return nil, err
	}
	seqText, ok := meta[keySnapshotSeq]
	if !ok {
		return nil, nil // No snapshot is not an error
	}

	var recs records
	if err := db.Order("pool_id").Find(&recs.pools).Error; err != nil {
		return nil, err
	}
	if err := db.Order("pool_id, bucket, direction").Find(&recs.cells).Error; err != nil {
		return nil, err
	}
	if err := db.Order("position_id").Find(&recs.positions).Error; err != nil {
		return nil, err
	}
	if err := db.Order("position_id, holder").Find(&recs.shares).Error; err != nil {
		return nil, err
	}
	if err := db.Order("asset").Find(&recs.custody).Error; err != nil {
		return nil, err
	}

	snap, err := recs.snapshot()
	if err != nil {
		return nil, fmt.Errorf("corrupt snapshot: %w", err)
	}
	if snap.Seq, err = strconv.ParseUint(seqText, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt snapshot seq: %w", err)
	}
	if ts, ok := meta[keySnapshotTs]; ok {
		snap.TsUnix, _ = strconv.ParseInt(ts, 10, 64)
	}
	return snap, nil
}

func (s *Storage) loadConfigMap(db *gorm.DB) (map[string]string, error) {
	var configs []domain.AppConfig
	if err := db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string, len(configs))
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}

// ======================================================================================
// Command log
// ======================================================================================

// AppendEvent writes a stamped command ahead of its processing.
func (s *Storage) AppendEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event %d: %w", ev.GetSeq(), err)
	}
	rec := domain.EventRecord{
		Seq:     ev.GetSeq(),
		Type:    uint16(ev.GetType()),
		Ts:      int64(ev.GetTs()),
		Payload: payload,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// LoadEvents returns the logged commands with seq > after, in order.
func (s *Storage) LoadEvents(ctx context.Context, after uint64) ([]event.Event, error) {
	var recs []domain.EventRecord
	if err := s.db.WithContext(ctx).Where("seq > ?", after).Order("seq").Find(&recs).Error; err != nil {
		return nil, err
	}

	events := make([]event.Event, 0, len(recs))
	for _, rec := range recs {
		ev, err := event.Decode(event.Type(rec.Type), rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", rec.Seq, err)
		}
		if ev.GetSeq() != rec.Seq {
			return nil, fmt.Errorf("event %d: payload carries seq %d", rec.Seq, ev.GetSeq())
		}
		events = append(events, ev)
	}
	return events, nil
}

// LastSeq returns the highest logged sequence number, 0 when the log is empty.
func (s *Storage) LastSeq(ctx context.Context) (uint64, error) {
	var rec domain.EventRecord
	err := s.db.WithContext(ctx).Order("seq desc").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return rec.Seq, err
}

// ======================================================================================
// Fills
// ======================================================================================

// AppendFills records the fills produced by command seq.
func (s *Storage) AppendFills(ctx context.Context, seq uint64, fills []engine.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	recs := make([]domain.FillRecord, 0, len(fills))
	for _, f := range fills {
		recs = append(recs, domain.FillRecord{
			Seq:        seq,
			PoolID:     f.Pool.String(),
			PositionID: f.Position.String(),
			Bucket:     int64(f.Bucket),
			Direction:  bool(f.Direction),
			Input:      f.Input,
			Owed:       f.Owed,
			Received:   f.Received,
		})
	}
	return s.db.WithContext(ctx).Create(&recs).Error
}

// ListFills returns the fills of one pool in execution order.
func (s *Storage) ListFills(ctx context.Context, pool domain.PoolID) ([]domain.FillRecord, error) {
	var recs []domain.FillRecord
	err := s.db.WithContext(ctx).Where("pool_id = ?", pool.String()).Order("id").Find(&recs).Error
	return recs, err
}
