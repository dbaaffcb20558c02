package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RecoveryOutcome indicates how a recovery attempt ended.
type RecoveryOutcome string

const (
	RecoveryHealthy     RecoveryOutcome = "healthy"
	RecoveryWALReplayed RecoveryOutcome = "wal_replayed"
	RecoveryRestored    RecoveryOutcome = "restored_from_backup"
	RecoveryFailed      RecoveryOutcome = "failed"
)

// RecoveryReport describes a recovery attempt step by step.
type RecoveryReport struct {
	Outcome      RecoveryOutcome
	DatabasePath string
	BackupUsed   string
	Steps        []RecoveryStep
}

// RecoveryStep is one attempted action in a recovery.
type RecoveryStep struct {
	Name     string
	OK       bool
	Detail   string
	Duration time.Duration
}

// Recover checks dbPath and, when the file is damaged, tries a WAL replay
// and then the newest intact backup in backupDir. The damaged file is kept
// next to the original with a ".corrupted" suffix.
func Recover(ctx context.Context, dbPath, backupDir string, log logrus.FieldLogger) (*RecoveryReport, error) {
	log = log.WithFields(logrus.Fields{"component": "recovery", "path": dbPath})
	report := &RecoveryReport{DatabasePath: dbPath}

	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		report.Outcome = RecoveryHealthy
		report.addStep("check_exists", func() (string, error) { return "no database yet", nil })
		return report, nil
	}

	if report.addStep("integrity_check", func() (string, error) { return checkFile(ctx, dbPath) }) {
		report.Outcome = RecoveryHealthy
		return report, nil
	}
	log.Warn("database failed integrity check")

	if _, err := os.Stat(dbPath + "-wal"); err == nil {
		replayed := report.addStep("wal_replay", func() (string, error) { return replayWAL(ctx, dbPath) })
		if replayed && report.addStep("post_replay_check", func() (string, error) { return checkFile(ctx, dbPath) }) {
			report.Outcome = RecoveryWALReplayed
			log.Info("database recovered by WAL replay")
			return report, nil
		}
	}

	if backupDir != "" {
		var used string
		restored := report.addStep("restore_backup", func() (string, error) {
			var err error
			used, err = restoreNewestBackup(ctx, dbPath, backupDir, log)
			return used, err
		})
		if restored {
			report.Outcome = RecoveryRestored
			report.BackupUsed = used
			log.WithField("backup", used).Info("database restored from backup")
			return report, nil
		}
	}

	report.Outcome = RecoveryFailed
	log.WithField("steps", len(report.Steps)).Error("database recovery failed")
	return report, errors.New("all recovery attempts failed")
}

func (r *RecoveryReport) addStep(name string, fn func() (string, error)) bool {
	start := time.Now()
	detail, err := fn()
	step := RecoveryStep{Name: name, OK: err == nil, Detail: detail, Duration: time.Since(start)}
	if err != nil {
		step.Detail = err.Error()
	}
	r.Steps = append(r.Steps, step)
	return step.OK
}

func checkFile(ctx context.Context, path string) (string, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return "", fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := integrityCheck(ctx, db); err != nil {
		return "", err
	}
	return "ok", nil
}

func replayWAL(ctx context.Context, path string) (string, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_txlock=immediate", path))
	if err != nil {
		return "", fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(RESTART)"); err != nil {
		return "", fmt.Errorf("WAL checkpoint: %w", err)
	}
	return "WAL checkpoint complete", nil
}

func restoreNewestBackup(ctx context.Context, dbPath, backupDir string, log logrus.FieldLogger) (string, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return "", fmt.Errorf("reading backup directory: %w", err)
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{filepath.Join(backupDir, entry.Name()), info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", errors.New("no backup files found")
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})

	for _, c := range candidates {
		if _, err := checkFile(ctx, c.path); err != nil {
			log.WithError(err).WithField("backup", c.path).Debug("skipping damaged backup")
			continue
		}

		preserved := dbPath + ".corrupted." + time.Now().Format("20060102-150405")
		if err := os.Rename(dbPath, preserved); err != nil {
			log.WithError(err).Warn("could not preserve damaged database")
		}
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")

		if err := copyFile(c.path, dbPath); err != nil {
			return "", fmt.Errorf("copying backup: %w", err)
		}
		return c.path, nil
	}

	return "", errors.New("no intact backup found")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return out.Sync()
}
