package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sueda-gl/bookspire-backend-public/internal/domain"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/envutil"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// New opens the backing store. DB_MODE=memory selects an in-process sqlite
// database, which is also what the repo tests run on; anything else connects
// to Postgres using the POSTGRES_* variables.
func New(log *logger.Logger) (*Service, error) {
	serviceLog := log.With("service", "DBService")

	if strings.EqualFold(envutil.Get("DB_MODE", "postgres"), "memory") {
		gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		serviceLog.Info("Using in-memory sqlite store")
		return &Service{db: gdb, log: serviceLog}, nil
	}

	host := envutil.Get("POSTGRES_HOST", "localhost")
	port := envutil.Get("POSTGRES_PORT", "5432")
	user := envutil.Get("POSTGRES_USER", "postgres")
	password := envutil.Get("POSTGRES_PASSWORD", "")
	name := envutil.Get("POSTGRES_NAME", "bookspire")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	serviceLog.Info("Connecting to Postgres...", "host", host, "db", name)
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &Service{db: gdb, log: serviceLog}, nil
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	return s.db.AutoMigrate(
		&domain.PracticeSession{},
		&domain.Turn{},
		&domain.TurnResponse{},
		&domain.TurnAnalysis{},
		&domain.SessionQuestion{},
	)
}
