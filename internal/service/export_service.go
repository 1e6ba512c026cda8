package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dueb-project/dueb-api/internal/models"
	"github.com/dueb-project/dueb-api/pkg/export"
	appErrors "github.com/dueb-project/dueb-api/pkg/errors"
	"github.com/dueb-project/dueb-api/pkg/jobs"
	"github.com/dueb-project/dueb-api/pkg/storage"
)

type rosterSnapshotter interface {
	Snapshot(ctx context.Context, scenarioID string) ([]models.AssignmentSnapshot, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type exportObserver interface {
	ObserveExportJob(status string)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	Workers         int
	Retries         int
}

// ExportService renders the assigned roster to CSV in the background and
// hands out signed, expiring download links. Job state lives in memory:
// exports are cheap to regenerate and do not outlive the process on purpose.
type ExportService struct {
	roster  rosterSnapshotter
	storage fileStorage
	csv     csvRenderer
	signer  *storage.SignedURLSigner
	metrics exportObserver
	logger  *zap.Logger
	cfg     ExportConfig

	queue *jobs.Queue

	cleanupStop chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once

	mu      sync.RWMutex
	byID    map[string]*models.ExportJob
	started bool
}

// NewExportService constructs an ExportService.
func NewExportService(roster rosterSnapshotter, store fileStorage, signer *storage.SignedURLSigner, metrics exportObserver, cfg ExportConfig, logger *zap.Logger, csv csvRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	s := &ExportService{
		roster:      roster,
		storage:     store,
		csv:         csv,
		signer:      signer,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		cleanupStop: make(chan struct{}),
		cleanupDone: make(chan struct{}),
		byID:        make(map[string]*models.ExportJob),
	}
	s.queue = jobs.NewQueue("roster-export", s.process, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		Logger:     logger,
	})
	return s
}

// Start launches the export workers and the cleanup loop.
func (s *ExportService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.queue.Start(ctx)
	go s.cleanupLoop()
}

// Stop halts the cleanup loop and drains the export workers.
func (s *ExportService) Stop() {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return
	}
	s.stopOnce.Do(func() {
		close(s.cleanupStop)
		<-s.cleanupDone
		s.queue.Stop()
	})
}

func (s *ExportService) cleanupLoop() {
	defer close(s.cleanupDone)
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			removed, err := s.Cleanup(0)
			if err != nil {
				s.logger.Warn("export cleanup failed", zap.Error(err))
				continue
			}
			if len(removed) > 0 {
				s.logger.Info("expired export files removed", zap.Int("count", len(removed)))
			}
		}
	}
}

// Enqueue registers a new export job for the scenario and schedules it.
func (s *ExportService) Enqueue(ctx context.Context, scenarioID string) (*models.ExportJob, error) {
	if scenarioID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "scenario id is required")
	}
	job := &models.ExportJob{
		ID:         uuid.NewString(),
		ScenarioID: scenarioID,
		Status:     models.ExportStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	s.mu.Lock()
	s.byID[job.ID] = job
	s.mu.Unlock()

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "roster_csv", Payload: scenarioID}); err != nil {
		s.fail(job.ID, fmt.Sprintf("enqueue: %v", err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule export")
	}
	return s.Get(job.ID)
}

// Get returns a copy of the job's current state.
func (s *ExportService) Get(jobID string) (*models.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.byID[jobID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	snapshot := *job
	return &snapshot, nil
}

// Open validates a download token and returns a handle to the stored file.
func (s *ExportService) Open(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	return file, nil
}

// Cleanup removes stored files older than ttl (the configured ResultTTL when
// ttl <= 0) and forgets the jobs that produced them.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	removed, err := s.storage.CleanupOlderThan(ttl)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.mu.Lock()
		for id, job := range s.byID {
			for _, path := range removed {
				if job.FilePath == path {
					delete(s.byID, id)
				}
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

func (s *ExportService) process(ctx context.Context, job jobs.Job) error {
	scenarioID, _ := job.Payload.(string)
	s.setStatus(job.ID, models.ExportStatusRunning)

	snapshots, err := s.roster.Snapshot(ctx, scenarioID)
	if err != nil {
		s.fail(job.ID, err.Error())
		return err
	}

	payload, err := s.csv.Render(rosterDataset(snapshots))
	if err != nil {
		s.fail(job.ID, err.Error())
		return err
	}

	filename := fmt.Sprintf("roster_%s_%s.csv", scenarioID, time.Now().UTC().Format("20060102_150405"))
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		s.fail(job.ID, err.Error())
		return err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		s.fail(job.ID, err.Error())
		return err
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	now := time.Now().UTC()
	s.mu.Lock()
	if stored, ok := s.byID[job.ID]; ok {
		stored.Status = models.ExportStatusCompleted
		stored.FilePath = relPath
		stored.DownloadURL = fmt.Sprintf("%s/exports/download/%s", prefix, token)
		stored.ExpiresAt = &expiresAt
		stored.CompletedAt = &now
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveExportJob(models.ExportStatusCompleted)
	}
	s.logger.Info("roster export completed",
		zap.String("job_id", job.ID),
		zap.String("scenario_id", scenarioID),
		zap.Int("rows", len(snapshots)))
	return nil
}

func (s *ExportService) setStatus(jobID, status string) {
	s.mu.Lock()
	if job, ok := s.byID[jobID]; ok {
		job.Status = status
	}
	s.mu.Unlock()
}

func (s *ExportService) fail(jobID, message string) {
	now := time.Now().UTC()
	s.mu.Lock()
	if job, ok := s.byID[jobID]; ok {
		job.Status = models.ExportStatusFailed
		job.Error = message
		job.CompletedAt = &now
	}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ObserveExportJob(models.ExportStatusFailed)
	}
}

func rosterDataset(snapshots []models.AssignmentSnapshot) export.Dataset {
	headers := []string{"Button Number", "Sequential Number", "Organization", "Short Code", "Profile Number", "Category"}
	rows := make([]map[string]string, 0, len(snapshots))
	for _, snap := range snapshots {
		rows = append(rows, map[string]string{
			"Button Number":     snap.ButtonNumber,
			"Sequential Number": fmt.Sprintf("%d", snap.SequentialNumber),
			"Organization":      snap.OrganizationName,
			"Short Code":        snap.ShortCode,
			"Profile Number":    snap.ProfileNumber,
			"Category":          snap.ProfileCategory,
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
