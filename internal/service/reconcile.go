// reconcile.go — сверка реестра слотов с файловым хранилищем.
//
// Reconciliation сравнивает:
//   - Директории слотов на диске с записями реестра
//   - Записи реестра с наличием и размером payload
//
// Обнаруживает проблемы:
//   - orphaned_directory: директория слота без записи в реестре
//   - missing_directory: слот ожидает загрузки, но директории нет
//   - tombstone_payload: payload удалённого слота остался на диске
//   - size_mismatch: размер payload не совпадает с заявленным
//   - unreadable_record: запись реестра не читается
//
// Запускается оператором (upload-backend reconcile), фонового режима нет.
package service

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/upload-backend/internal/domain/model"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/filestore"
	"github.com/bigkaa/goartstore/upload-backend/internal/storage/registry"
)

// Prometheus метрики Reconciliation
var (
	// reconcileRunsTotal — количество запусков reconciliation.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upload_reconcile_runs_total",
		Help: "Общее количество запусков reconciliation",
	})

	// reconcileIssuesTotal — количество обнаруженных проблем по типу.
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных reconciliation",
	}, []string{"type"})
)

// IssueType — тип расхождения между реестром и хранилищем.
type IssueType string

const (
	IssueOrphanedDirectory IssueType = "orphaned_directory"
	IssueMissingDirectory  IssueType = "missing_directory"
	IssueTombstonePayload  IssueType = "tombstone_payload"
	IssueSizeMismatch      IssueType = "size_mismatch"
	IssueUnreadableRecord  IssueType = "unreadable_record"
)

// ReconcileIssue — найденное расхождение.
type ReconcileIssue struct {
	Type        IssueType
	SlotID      string
	Description string
	// Fixed — расхождение исправлено в этом запуске
	Fixed bool
}

// ReconcileReport — результат одного запуска.
type ReconcileReport struct {
	StartedAt    time.Time
	CompletedAt  time.Time
	SlotsChecked int
	Issues       []ReconcileIssue
}

// Fixed возвращает число исправленных расхождений.
func (r *ReconcileReport) Fixed() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Fixed {
			n++
		}
	}
	return n
}

// ReconcileService — сервис сверки реестра и хранилища.
type ReconcileService struct {
	registry *registry.Registry
	store    *filestore.FileStore
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
}

// NewReconcileService создаёт сервис reconciliation.
func NewReconcileService(
	reg *registry.Registry,
	store *filestore.FileStore,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		registry: reg,
		store:    store,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// RunOnce выполняет один цикл reconciliation.
// fix — исправлять безопасные расхождения. size_mismatch и
// unreadable_record только сообщаются: данные не удаляются без оператора.
// Если reconciliation уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(fix bool) (*ReconcileReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Reconciliation уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	report := &ReconcileReport{StartedAt: time.Now().UTC()}
	rs.logger.Info("Reconciliation начата", slog.Bool("fix", fix))

	rs.reconcile(report, fix)

	report.CompletedAt = time.Now().UTC()
	reconcileRunsTotal.Inc()
	for _, issue := range report.Issues {
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}

	rs.logger.Info("Reconciliation завершена",
		slog.Int("slots_checked", report.SlotsChecked),
		slog.Int("issues", len(report.Issues)),
		slog.Int("fixed", report.Fixed()),
		slog.Duration("duration", report.CompletedAt.Sub(report.StartedAt)),
	)
	return report, false
}

// reconcile выполняет сверку и дополняет report.
func (rs *ReconcileService) reconcile(report *ReconcileReport, fix bool) {
	known := make(map[string]bool)

	// 1. Записи реестра: состояние слота против содержимого директории
	for id, err := range rs.registry.Enumerate() {
		if err != nil {
			rs.logger.Error("Ошибка обхода реестра слотов", slog.String("error", err.Error()))
			return
		}
		known[id] = true
		report.SlotsChecked++

		slot, err := rs.registry.Load(id)
		if err != nil {
			if errors.Is(err, registry.ErrSlotNotFound) {
				// Запись удалена между обходом и чтением
				delete(known, id)
				report.SlotsChecked--
				continue
			}
			report.Issues = append(report.Issues, ReconcileIssue{
				Type:        IssueUnreadableRecord,
				SlotID:      id,
				Description: err.Error(),
			})
			continue
		}

		if issue, ok := rs.checkSlot(id, slot, fix); ok {
			report.Issues = append(report.Issues, issue)
		}
	}

	// 2. Директории без записи реестра
	ids, err := rs.store.SlotIDs()
	if err != nil {
		rs.logger.Error("Ошибка чтения директории хранения", slog.String("error", err.Error()))
		return
	}
	for _, id := range ids {
		if known[id] || rs.registry.Exists(id) {
			continue
		}
		issue := ReconcileIssue{
			Type:        IssueOrphanedDirectory,
			SlotID:      id,
			Description: "Директория слота без записи в реестре",
		}
		if fix {
			issue.Fixed = rs.apply(id, issue.Type, rs.store.Purge(id))
		}
		report.Issues = append(report.Issues, issue)
	}
}

// checkSlot сверяет один слот с хранилищем.
func (rs *ReconcileService) checkSlot(id string, slot *model.Slot, fix bool) (ReconcileIssue, bool) {
	exists := rs.store.Exists(id, slot.Filename)

	switch slot.State(exists) {
	case model.StateDeleted:
		if !exists {
			return ReconcileIssue{}, false
		}
		issue := ReconcileIssue{
			Type:        IssueTombstonePayload,
			SlotID:      id,
			Description: "Payload удалённого слота остался на диске",
		}
		if fix {
			err := rs.store.Delete(id, slot.Filename)
			if errors.Is(err, filestore.ErrPayloadNotFound) {
				err = nil
			}
			issue.Fixed = rs.apply(id, issue.Type, err)
		}
		return issue, true

	case model.StateCreated:
		if rs.store.HasDirectory(id) {
			return ReconcileIssue{}, false
		}
		issue := ReconcileIssue{
			Type:        IssueMissingDirectory,
			SlotID:      id,
			Description: "Директория слота, ожидающего загрузки, отсутствует",
		}
		if fix {
			issue.Fixed = rs.apply(id, issue.Type, rs.store.ReserveDirectory(id))
		}
		return issue, true

	default:
		size, err := rs.store.Size(id, slot.Filename)
		if err != nil || size == slot.Size {
			return ReconcileIssue{}, false
		}
		return ReconcileIssue{
			Type:        IssueSizeMismatch,
			SlotID:      id,
			Description: "Размер payload на диске не совпадает с заявленным",
		}, true
	}
}

// apply логирует результат исправления.
func (rs *ReconcileService) apply(id string, issueType IssueType, err error) bool {
	if err != nil {
		rs.logger.Error("Ошибка исправления расхождения",
			slog.String("slot_id", id),
			slog.String("type", string(issueType)),
			slog.String("error", err.Error()),
		)
		return false
	}
	rs.logger.Info("Расхождение исправлено",
		slog.String("slot_id", id),
		slog.String("type", string(issueType)),
	)
	return true
}
