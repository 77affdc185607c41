package repository

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"Evergreen.telemetry/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ReadingRecord is the table row behind a StoredReading. Seq is the
// autoincrement key and doubles as the insertion order.
type ReadingRecord struct {
	Seq        int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	ID         string `gorm:"column:id;size:36;uniqueIndex;not null"`
	BasinID    string `gorm:"column:basin_id;index:idx_readings_basin_ts,priority:1;not null"`
	Timestamp  int64  `gorm:"column:ts;index:idx_readings_basin_ts,priority:2;not null"`
	Fields     string `gorm:"column:fields;type:text;not null"`
	ReceivedAt int64  `gorm:"column:received_at;not null"`
}

func (ReadingRecord) TableName() string { return "readings" }

type SQLiteRepository struct {
	db       *gorm.DB
	timeout  time.Duration
	pageSize int
}

// OpenSQLite opens (or creates) the database file and migrates the schema.
func OpenSQLite(filename string, timeout time.Duration) (*SQLiteRepository, error) {
	db, err := gorm.Open(sqlite.Open(filename), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "sql db")
	}
	// A single connection serialises writers; sqlite would otherwise answer
	// concurrent appends with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&ReadingRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate readings")
	}

	return NewSQLiteRepository(db, timeout, DefaultPageSize), nil
}

func NewSQLiteRepository(db *gorm.DB, timeout time.Duration, pageSize int) *SQLiteRepository {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &SQLiteRepository{db: db, timeout: timeout, pageSize: pageSize}
}

func (s *SQLiteRepository) GetORM() *gorm.DB {
	return s.db
}

func (s *SQLiteRepository) Append(ctx context.Context, reading models.Reading) (models.StoredReading, error) {
	if reading.Fields == nil {
		reading.Fields = models.Fields{}
	}
	fields, err := json.Marshal(reading.Fields)
	if err != nil {
		return models.StoredReading{}, errors.Wrap(err, "marshal fields")
	}

	rec := ReadingRecord{
		ID:         uuid.NewString(),
		BasinID:    reading.BasinID,
		Timestamp:  reading.Timestamp.UTC().UnixNano(),
		Fields:     string(fields),
		ReceivedAt: time.Now().UTC().UnixNano(),
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if tx := s.db.WithContext(ctx).Create(&rec); tx.Error != nil {
		return models.StoredReading{}, unavailable(ctx, "insert reading", tx.Error)
	}

	return recordToReading(rec)
}

func (s *SQLiteRepository) QueryByBasin(ctx context.Context, q Query) iter.Seq2[models.StoredReading, error] {
	ascending := q.Range != nil
	return func(yield func(models.StoredReading, error) bool) {
		var (
			cursor  *ReadingRecord
			emitted int
		)
		for {
			size := s.pageSize
			if q.Limit > 0 && q.Limit-emitted < size {
				size = q.Limit - emitted
			}
			if size <= 0 {
				return
			}

			rows, err := s.page(ctx, q, ascending, cursor, size)
			if err != nil {
				yield(models.StoredReading{}, err)
				return
			}

			for i := range rows {
				r, err := recordToReading(rows[i])
				if !yield(r, err) || err != nil {
					return
				}
				emitted++
			}
			if len(rows) < size {
				return
			}
			cursor = &rows[len(rows)-1]
		}
	}
}

// page loads the next slice of rows after cursor using keyset pagination on (ts, seq).
func (s *SQLiteRepository) page(ctx context.Context, q Query, ascending bool, cursor *ReadingRecord, size int) ([]ReadingRecord, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tx := s.db.WithContext(ctx).Where("basin_id = ?", q.BasinID)
	if q.Range != nil {
		tx = tx.Where("ts >= ? AND ts <= ?", unixNano(q.Range.From), unixNano(q.Range.To))
	}

	order := "ts desc, seq desc"
	if ascending {
		order = "ts asc, seq asc"
		if cursor != nil {
			tx = tx.Where("(ts > ? OR (ts = ? AND seq > ?))", cursor.Timestamp, cursor.Timestamp, cursor.Seq)
		}
	} else if cursor != nil {
		tx = tx.Where("(ts < ? OR (ts = ? AND seq < ?))", cursor.Timestamp, cursor.Timestamp, cursor.Seq)
	}

	var rows []ReadingRecord
	if err := tx.Order(order).Limit(size).Find(&rows).Error; err != nil {
		return nil, unavailable(ctx, "find readings", err)
	}
	return rows, nil
}

func (s *SQLiteRepository) Latest(ctx context.Context, basinID string) (models.StoredReading, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var rows []ReadingRecord
	tx := s.db.WithContext(ctx).
		Where("basin_id = ?", basinID).
		Order("ts desc, seq desc").
		Limit(1).
		Find(&rows)
	if tx.Error != nil {
		return models.StoredReading{}, false, unavailable(ctx, "latest reading", tx.Error)
	}
	if len(rows) == 0 {
		return models.StoredReading{}, false, nil
	}
	r, err := recordToReading(rows[0])
	return r, err == nil, err
}

func (s *SQLiteRepository) BasinIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var result []string
	tx := s.db.WithContext(ctx).Model(&ReadingRecord{}).Distinct("basin_id").Order("basin_id").Pluck("basin_id", &result)
	if tx.Error != nil {
		return nil, unavailable(ctx, "get distinct basin ids", tx.Error)
	}
	return result, nil
}

func (s *SQLiteRepository) Count(ctx context.Context, basinID string) (int, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var n int64
	tx := s.db.WithContext(ctx).Model(&ReadingRecord{}).Where("basin_id = ?", basinID).Count(&n)
	if tx.Error != nil {
		return 0, unavailable(ctx, "count readings", tx.Error)
	}
	return int(n), nil
}

func (s *SQLiteRepository) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "sql db")
	}
	return sqlDB.Close()
}

func recordToReading(rec ReadingRecord) (models.StoredReading, error) {
	fields := models.Fields{}
	if err := json.Unmarshal([]byte(rec.Fields), &fields); err != nil {
		return models.StoredReading{}, errors.Wrapf(err, "decode fields of reading %s", rec.ID)
	}
	return models.StoredReading{
		ID:        rec.ID,
		Seq:       rec.Seq,
		BasinID:   rec.BasinID,
		Timestamp: time.Unix(0, rec.Timestamp).UTC(),
		Fields:    fields,
	}, nil
}

var _ Repository = (*SQLiteRepository)(nil)
