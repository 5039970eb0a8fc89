package directory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/tyemirov/oidcidp/internal/authkit"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("directory.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("directory.empty_database_url")
	errSQLiteEmptyPath     = errors.New("directory.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("directory.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("directory.unsupported_no_scheme")
)

// DatabaseDirectory reads accounts from a GORM-managed table.
type DatabaseDirectory struct {
	db          *gorm.DB
	driverLabel string
}

type userRecord struct {
	UserID       string `gorm:"column:user_id;primaryKey"`
	Email        string `gorm:"column:email;uniqueIndex;not null"`
	PasswordHash string `gorm:"column:password_hash;not null"`
	SubjectID    string `gorm:"column:subject_id;not null"`
	Profile      string `gorm:"column:profile;type:text;not null"`
	UpdatedUnix  int64  `gorm:"column:updated_unix;not null"`
}

func (userRecord) TableName() string {
	return "directory_users"
}

func (record userRecord) user() authkit.User {
	return authkit.User{
		ID:           record.UserID,
		Email:        record.Email,
		PasswordHash: record.PasswordHash,
		SubjectID:    record.SubjectID,
		Profile:      []byte(record.Profile),
	}
}

// NewDatabaseDirectory opens databaseURL (postgres:// or sqlite://) and migrates the users table.
func NewDatabaseDirectory(ctx context.Context, databaseURL string) (*DatabaseDirectory, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("directory.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("directory.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("directory.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseDirectory{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Driver exposes the selected database driver label.
func (directory *DatabaseDirectory) Driver() string {
	return directory.driverLabel
}

// Seed upserts entries keyed by user id.
func (directory *DatabaseDirectory) Seed(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC().Unix()
	records := make([]userRecord, 0, len(entries))
	for _, entry := range entries {
		user, err := entry.User()
		if err != nil {
			return err
		}
		records = append(records, userRecord{
			UserID:       user.ID,
			Email:        normalizeEmail(user.Email),
			PasswordHash: user.PasswordHash,
			SubjectID:    user.SubjectID,
			Profile:      string(user.Profile),
			UpdatedUnix:  now,
		})
	}
	err := directory.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "subject_id", "profile", "updated_unix"}),
	}).Create(&records).Error
	if err != nil {
		return fmt.Errorf("directory.seed.%s: %w", directory.driverLabel, err)
	}
	return nil
}

func (directory *DatabaseDirectory) FindUserByEmail(ctx context.Context, email string) (authkit.User, error) {
	return directory.find(ctx, "email = ?", normalizeEmail(email))
}

func (directory *DatabaseDirectory) FindUserByID(ctx context.Context, userID string) (authkit.User, error) {
	return directory.find(ctx, "user_id = ?", userID)
}

func (directory *DatabaseDirectory) find(ctx context.Context, condition string, value string) (authkit.User, error) {
	var record userRecord
	err := directory.db.WithContext(ctx).Where(condition, value).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return authkit.User{}, authkit.ErrUserNotFound
		}
		return authkit.User{}, fmt.Errorf("directory.find.%s: %w", directory.driverLabel, err)
	}
	return record.user(), nil
}

// Close releases the underlying connection pool.
func (directory *DatabaseDirectory) Close() error {
	sqlDB, err := directory.db.DB()
	if err != nil {
		return fmt.Errorf("directory.close.%s: %w", directory.driverLabel, err)
	}
	return sqlDB.Close()
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("directory.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("directory.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("directory.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("directory.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
