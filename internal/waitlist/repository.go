package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Repository stores survey answers. Upserts refresh updated_at on conflict.
type Repository interface {
	UpsertEmail(ctx context.Context, email string) ([]UserEmail, error)
	UpsertLinkedin(ctx context.Context, linkedin, email string) ([]UserLinkedin, error)
	Ping(ctx context.Context) error
}

type GormRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to Postgres and migrates the survey tables.
func Open(dsn string, log *zap.Logger) (*GormRepository, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	log.Info("database connection established")

	if err := db.AutoMigrate(&UserEmail{}, &UserLinkedin{}); err != nil {
		return nil, fmt.Errorf("migrating survey tables: %w", err)
	}

	return NewGormRepository(db), nil
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db, now: time.Now}
}

func (r *GormRepository) UpsertEmail(ctx context.Context, email string) ([]UserEmail, error) {
	row := UserEmail{Email: email, UpdatedAt: r.now().UTC()}

	err := r.db.WithContext(ctx).
		Clauses(
			clause.OnConflict{
				Columns:   []clause.Column{{Name: "email"}},
				DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
			},
			clause.Returning{},
		).
		Create(&row).Error
	if err != nil {
		return nil, err
	}

	return []UserEmail{row}, nil
}

func (r *GormRepository) UpsertLinkedin(ctx context.Context, linkedin, email string) ([]UserLinkedin, error) {
	row := UserLinkedin{Linkedin: linkedin, Email: email, UpdatedAt: r.now().UTC()}

	updates := []string{"updated_at"}
	if email != "" {
		updates = append(updates, "email")
	}

	err := r.db.WithContext(ctx).
		Clauses(
			clause.OnConflict{
				Columns:   []clause.Column{{Name: "linkedin"}},
				DoUpdates: clause.AssignmentColumns(updates),
			},
			clause.Returning{},
		).
		Create(&row).Error
	if err != nil {
		return nil, err
	}

	return []UserLinkedin{row}, nil
}

func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
