package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Ayash-Bera/arena/internal/database"
	"github.com/sirupsen/logrus"
)

// SchemaMigration records an applied SQL file so each runs once.
type SchemaMigration struct {
	Version   string    `gorm:"primaryKey"`
	AppliedAt time.Time `gorm:"not null"`
}

func (SchemaMigration) TableName() string { return "schema_migrations" }

type Runner struct {
	dbManager *database.Manager
	logger    *logrus.Logger
}

func NewRunner(dbManager *database.Manager, logger *logrus.Logger) *Runner {
	return &Runner{
		dbManager: dbManager,
		logger:    logger,
	}
}

// RunMigrations executes all pending migrations
func (r *Runner) RunMigrations(migrationsPath string) error {
	r.logger.Info("Starting database migrations...")

	// First run GORM auto-migrations
	if err := r.dbManager.Migrate(); err != nil {
		return fmt.Errorf("GORM auto-migration failed: %w", err)
	}
	if err := r.dbManager.DB.AutoMigrate(&SchemaMigration{}); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	// Then run SQL migrations
	if err := r.runSQLMigrations(migrationsPath); err != nil {
		return fmt.Errorf("SQL migrations failed: %w", err)
	}

	r.logger.Info("Database migrations completed successfully")
	return nil
}

// Pending lists the SQL files in migrationsPath that apply to the current
// dialect and have not run yet. A file named NNN_name.<dialect>.sql only
// applies to that dialect.
func (r *Runner) Pending(migrationsPath string) ([]string, error) {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var applied []SchemaMigration
	if err := r.dbManager.DB.Find(&applied).Error; err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, m := range applied {
		done[m.Version] = true
	}

	dialect := r.dbManager.DB.Dialector.Name()
	var sqlFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || done[name] {
			continue
		}
		if target := dialectOf(name); target != "" && target != dialect {
			continue
		}
		sqlFiles = append(sqlFiles, name)
	}

	sort.Strings(sqlFiles) // Ensure migrations run in order
	return sqlFiles, nil
}

func dialectOf(fileName string) string {
	parts := strings.Split(strings.TrimSuffix(fileName, ".sql"), ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-1]
}

func (r *Runner) runSQLMigrations(migrationsPath string) error {
	sqlFiles, err := r.Pending(migrationsPath)
	if err != nil {
		return err
	}

	for _, fileName := range sqlFiles {
		if err := r.runSQLFile(filepath.Join(migrationsPath, fileName)); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", fileName, err)
		}
		if err := r.dbManager.DB.Create(&SchemaMigration{Version: fileName, AppliedAt: time.Now()}).Error; err != nil {
			return fmt.Errorf("failed to record migration %s: %w", fileName, err)
		}
		r.logger.WithField("file", fileName).Info("Migration executed successfully")
	}

	return nil
}

func (r *Runner) runSQLFile(filePath string) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	sqlContent := string(content)

	// Dollar-quoted bodies contain semicolons, so such files run as one
	// statement.
	if strings.Contains(sqlContent, "$") {
		r.logger.WithField("file", filepath.Base(filePath)).Debug("Executing SQL file with dollar-quoted functions")

		cleanedSQL := r.removeComments(sqlContent)

		if err := r.dbManager.DB.Exec(cleanedSQL).Error; err != nil {
			return fmt.Errorf("failed to execute %s: %w", filepath.Base(filePath), err)
		}
		return nil
	}

	statements := r.splitSQLStatements(sqlContent)

	for i, stmt := range statements {
		r.logger.WithFields(logrus.Fields{
			"file":      filepath.Base(filePath),
			"statement": i + 1,
		}).Debug("Executing SQL statement")

		if err := r.dbManager.DB.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to execute statement %d in %s: %w", i+1, filepath.Base(filePath), err)
		}
	}

	return nil
}

// removeComments removes SQL comments while preserving structure
func (r *Runner) removeComments(sql string) string {
	lines := strings.Split(sql, "\n")
	var result []string

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		result = append(result, line)
	}

	return strings.Join(result, "\n")
}

// splitSQLStatements splits SQL content into individual statements
func (r *Runner) splitSQLStatements(sql string) []string {
	var statements []string
	for _, stmt := range strings.Split(r.removeComments(sql), ";") {
		stmt = strings.Join(strings.Fields(stmt), " ")
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
