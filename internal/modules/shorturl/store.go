package shorturl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mx-space/shortener/internal/models"
	"gorm.io/gorm"
)

// UniqueViolation reports which unique constraint an insert collided with.
type UniqueViolation struct {
	Field string // "code" or "normalized"
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("unique violation on %s", e.Field)
}

// StatusFilter narrows listing by expiry state.
type StatusFilter string

const (
	StatusAll     StatusFilter = "all"
	StatusActive  StatusFilter = "active"
	StatusExpired StatusFilter = "expired"
)

// ListFilter describes a paginated listing request.
type ListFilter struct {
	Search string
	Status StatusFilter
	Sort   string // createdAt|updatedAt|hitCount|original|code
	Order  string // ASC|DESC
	Offset int
	Limit  int
}

// Store is the primary record store adapter. Insert enforces the unique
// constraints on code and normalized in the store itself.
type Store interface {
	Insert(ctx context.Context, record *models.UrlModel) error
	Update(ctx context.Context, record *models.UrlModel) error
	FindByCode(ctx context.Context, code string) (*models.UrlModel, error)
	FindByNormalized(ctx context.Context, normalized string) (*models.UrlModel, error)
	Delete(ctx context.Context, code string) (bool, error)
	IncrementHitCount(ctx context.Context, code string, delta int64) error
	CodeExists(ctx context.Context, code string) (bool, error)
	List(ctx context.Context, f ListFilter) ([]models.UrlModel, int64, error)
	Stats(ctx context.Context) (total, active, expired int64, err error)
}

// gormStore is the MySQL-backed Store.
type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store { return &gormStore{db: db} }

const mysqlDuplicateEntry = 1062

func (s *gormStore) Insert(ctx context.Context, record *models.UrlModel) error {
	err := s.db.WithContext(ctx).Create(record).Error
	if err == nil {
		return nil
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		field := "code"
		if strings.Contains(me.Message, "normalized") {
			field = "normalized"
		}
		return &UniqueViolation{Field: field}
	}
	return err
}

func (s *gormStore) Update(ctx context.Context, record *models.UrlModel) error {
	return s.db.WithContext(ctx).Save(record).Error
}

func (s *gormStore) FindByCode(ctx context.Context, code string) (*models.UrlModel, error) {
	var u models.UrlModel
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *gormStore) FindByNormalized(ctx context.Context, normalized string) (*models.UrlModel, error) {
	var u models.UrlModel
	err := s.db.WithContext(ctx).Where("normalized = ?", normalized).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *gormStore) Delete(ctx context.Context, code string) (bool, error) {
	res := s.db.WithContext(ctx).Where("code = ?", code).Delete(&models.UrlModel{})
	return res.RowsAffected > 0, res.Error
}

func (s *gormStore) IncrementHitCount(ctx context.Context, code string, delta int64) error {
	return s.db.WithContext(ctx).Model(&models.UrlModel{}).
		Where("code = ?", code).
		Update("hit_count", gorm.Expr("hit_count + ?", delta)).Error
}

func (s *gormStore) CodeExists(ctx context.Context, code string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.UrlModel{}).
		Where("code = ?", code).Count(&n).Error
	return n > 0, err
}

// sortColumns whitelists client-supplied sort keys.
var sortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"hitCount":  "hit_count",
	"original":  "original",
	"code":      "code",
}

func (s *gormStore) List(ctx context.Context, f ListFilter) ([]models.UrlModel, int64, error) {
	tx := s.db.WithContext(ctx).Model(&models.UrlModel{})

	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + q + "%"
		tx = tx.Where("original LIKE ? OR code LIKE ?", like, like)
	}

	now := time.Now()
	switch f.Status {
	case StatusActive:
		tx = tx.Where("expires_at IS NULL OR expires_at > ?", now)
	case StatusExpired:
		tx = tx.Where("expires_at IS NOT NULL AND expires_at <= ?", now)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := sortColumns[f.Sort]
	if !ok {
		column = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(f.Order, "ASC") {
		order = "ASC"
	}

	var items []models.UrlModel
	err := tx.Order(column + " " + order).
		Offset(f.Offset).Limit(f.Limit).
		Find(&items).Error
	return items, total, err
}

// Stats counts records by expiry state. Expired means expires_at is set and
// has passed; active is everything else.
func (s *gormStore) Stats(ctx context.Context) (total, active, expired int64, err error) {
	tx := s.db.WithContext(ctx).Model(&models.UrlModel{})
	if err = tx.Count(&total).Error; err != nil {
		return
	}
	err = s.db.WithContext(ctx).Model(&models.UrlModel{}).
		Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now()).
		Count(&expired).Error
	active = total - expired
	return
}
