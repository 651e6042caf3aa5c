package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recoverly/recoverly/internal/platform/apperr"
	"github.com/recoverly/recoverly/internal/platform/realtime"
)

// maxTimelineTasks caps the full-plan load; recovery plans run to a few
// dozen tasks in practice.
const maxTimelineTasks = 500

// RecoveryDays resolves a patient's current recovery day. Implemented by the
// patient service.
type RecoveryDays interface {
	CurrentRecoveryDay(ctx context.Context, patientID uuid.UUID) (int, error)
}

// Notifier posts a synthetic system message into the patient's conversation.
// Implemented by the conversation service.
type Notifier interface {
	AppendSystem(ctx context.Context, patientID uuid.UUID, content string) error
}

// Board is a patient's task view for one recovery day.
type Board struct {
	PatientID   uuid.UUID      `json:"patient_id"`
	RecoveryDay int            `json:"recovery_day"`
	Tasks       []*PatientTask `json:"tasks"`
}

type Service struct {
	templates TemplateRepository
	tasks     PatientTaskRepository
	recovery  RecoveryDays
	notifier  Notifier
	publisher realtime.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(templates TemplateRepository, tasks PatientTaskRepository,
	recovery RecoveryDays, notifier Notifier, publisher realtime.Publisher,
	logger zerolog.Logger) *Service {
	return &Service{
		templates: templates,
		tasks:     tasks,
		recovery:  recovery,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateTemplate registers a reusable task template for a surgery type.
func (s *Service) CreateTemplate(ctx context.Context, t *TaskTemplate) error {
	if t.SurgeryType == "" {
		return apperr.Validation("surgery_type is required")
	}
	if t.Title == "" {
		return apperr.Validation("title is required")
	}
	if !validCategory(t.Category) {
		return apperr.Validation("invalid category %q", t.Category)
	}
	return s.templates.Create(ctx, t)
}

func (s *Service) ListTemplates(ctx context.Context, surgeryType string) ([]*TaskTemplate, error) {
	if surgeryType == "" {
		return nil, apperr.Validation("surgery_type is required")
	}
	return s.templates.ListBySurgeryType(ctx, surgeryType)
}

func (s *Service) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	return s.templates.Delete(ctx, id)
}

// InstantiateForPatient stamps out patient tasks from the surgery type's
// templates. Called when a patient is enrolled.
func (s *Service) InstantiateForPatient(ctx context.Context, patientID uuid.UUID, surgeryType string) ([]*PatientTask, error) {
	templates, err := s.templates.ListBySurgeryType(ctx, surgeryType)
	if err != nil {
		return nil, err
	}
	tasks := make([]*PatientTask, 0, len(templates))
	for _, tmpl := range templates {
		id := tmpl.ID
		tasks = append(tasks, &PatientTask{
			PatientID:    patientID,
			TemplateID:   &id,
			Title:        tmpl.Title,
			Description:  tmpl.Description,
			Category:     tmpl.Category,
			ScheduledDay: tmpl.DayOffset,
			Status:       StatusPending,
		})
	}
	if err := s.tasks.CreateBatch(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateAdHoc adds a one-off task outside the template plan.
func (s *Service) CreateAdHoc(ctx context.Context, t *PatientTask) error {
	if t.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	if t.Title == "" {
		return apperr.Validation("title is required")
	}
	if !validCategory(t.Category) {
		return apperr.Validation("invalid category %q", t.Category)
	}
	if t.ScheduledDay < 0 {
		return apperr.Validation("scheduled_day must not be negative")
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		return err
	}
	s.publishUpdate(ctx, t)
	return nil
}

// BoardForToday returns the patient's board for their current recovery day.
// Tasks from earlier days that were never touched are swept to overdue on
// the way through, so the board is consistent even between sweeper runs.
func (s *Service) BoardForToday(ctx context.Context, patientID uuid.UUID) (*Board, error) {
	day, err := s.recovery.CurrentRecoveryDay(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return s.BoardForDay(ctx, patientID, day)
}

func (s *Service) BoardForDay(ctx context.Context, patientID uuid.UUID, day int) (*Board, error) {
	if day < 0 {
		return nil, apperr.Validation("recovery day must not be negative")
	}

	swept, err := s.tasks.MarkOverdue(ctx, patientID, day)
	if err != nil {
		return nil, err
	}
	for _, t := range swept {
		s.publishUpdate(ctx, t)
	}

	tasks, err := s.tasks.ListForDay(ctx, patientID, day)
	if err != nil {
		return nil, err
	}
	return &Board{PatientID: patientID, RecoveryDay: day, Tasks: tasks}, nil
}

// TimelineDay is one recovery day's slice of the full plan.
type TimelineDay struct {
	Day   int            `json:"day"`
	Tasks []*PatientTask `json:"tasks"`
}

// Timeline is the whole recovery plan for a patient, grouped by scheduled
// day, with the current day marked so clients can anchor their view.
type Timeline struct {
	PatientID  uuid.UUID     `json:"patient_id"`
	CurrentDay int           `json:"current_day"`
	Days       []TimelineDay `json:"days"`
}

// RecoveryTimeline returns every task for the patient grouped by scheduled
// recovery day, in day order.
func (s *Service) RecoveryTimeline(ctx context.Context, patientID uuid.UUID) (*Timeline, error) {
	day, err := s.recovery.CurrentRecoveryDay(ctx, patientID)
	if err != nil {
		return nil, err
	}
	tasks, _, err := s.tasks.ListByPatient(ctx, patientID, "", maxTimelineTasks, 0)
	if err != nil {
		return nil, err
	}

	tl := &Timeline{PatientID: patientID, CurrentDay: day}
	byDay := map[int]int{}
	for _, t := range tasks {
		idx, ok := byDay[t.ScheduledDay]
		if !ok {
			tl.Days = append(tl.Days, TimelineDay{Day: t.ScheduledDay})
			idx = len(tl.Days) - 1
			byDay[t.ScheduledDay] = idx
		}
		tl.Days[idx].Tasks = append(tl.Days[idx].Tasks, t)
	}
	sort.Slice(tl.Days, func(i, j int) bool { return tl.Days[i].Day < tl.Days[j].Day })
	return tl, nil
}

func (s *Service) List(ctx context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*PatientTask, int, error) {
	if status != "" && !validStatus(status) {
		return nil, 0, apperr.Validation("invalid status %q", status)
	}
	return s.tasks.ListByPatient(ctx, patientID, status, limit, offset)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*PatientTask, error) {
	return s.tasks.GetByID(ctx, id)
}

// Start moves a pending task to in_progress.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*PatientTask, error) {
	return s.transition(ctx, id, StatusInProgress, s.now().UTC())
}

// Complete finishes a task. Completing an already-completed task is a no-op
// that returns the task unchanged.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*PatientTask, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusCompleted {
		return t, nil
	}
	if !CanTransition(t.Status, StatusCompleted) {
		return nil, apperr.Validation("cannot complete a %s task", t.Status)
	}

	updated, err := s.tasks.SetStatus(ctx, id, StatusCompleted, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.publishUpdate(ctx, updated)

	if s.notifier != nil {
		msg := fmt.Sprintf("Task completed: %s", updated.Title)
		if err := s.notifier.AppendSystem(ctx, updated.PatientID, msg); err != nil {
			s.logger.Warn().Err(err).
				Str("task_id", id.String()).
				Msg("completion chat message failed")
		}
	}
	return updated, nil
}

// Skip marks a task as skipped.
func (s *Service) Skip(ctx context.Context, id uuid.UUID) (*PatientTask, error) {
	return s.transition(ctx, id, StatusSkipped, s.now().UTC())
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to string, at time.Time) (*PatientTask, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, to) {
		return nil, apperr.Validation("cannot move a %s task to %s", t.Status, to)
	}
	updated, err := s.tasks.SetStatus(ctx, id, to, at)
	if err != nil {
		return nil, err
	}
	s.publishUpdate(ctx, updated)
	return updated, nil
}

// ReconcileUpdate is one client-side status change replayed after the client
// was offline.
type ReconcileUpdate struct {
	TaskID    uuid.UUID `json:"task_id"`
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

// Reconcile applies offline client updates with last-write-wins semantics:
// an update older than the stored status_changed_at is discarded and the
// stored row wins. The returned tasks reflect the post-merge state.
func (s *Service) Reconcile(ctx context.Context, patientID uuid.UUID, updates []ReconcileUpdate) ([]*PatientTask, error) {
	results := make([]*PatientTask, 0, len(updates))
	for _, u := range updates {
		if !validStatus(u.Status) {
			return nil, apperr.Validation("invalid status %q for task %s", u.Status, u.TaskID)
		}
		if u.ChangedAt.IsZero() {
			return nil, apperr.Validation("changed_at is required for task %s", u.TaskID)
		}

		current, err := s.tasks.GetByID(ctx, u.TaskID)
		if err != nil {
			return nil, err
		}
		if current.PatientID != patientID {
			return nil, apperr.Validation("task %s does not belong to patient", u.TaskID)
		}
		if current.Status == u.Status || !CanTransition(current.Status, u.Status) {
			results = append(results, current)
			continue
		}

		merged, err := s.tasks.SetStatus(ctx, u.TaskID, u.Status, u.ChangedAt.UTC())
		if err != nil {
			return nil, err
		}
		if merged.Status == u.Status && merged.StatusChangedAt.Equal(u.ChangedAt.UTC()) {
			s.publishUpdate(ctx, merged)
		}
		results = append(results, merged)
	}
	return results, nil
}

// SweepOverdue marks every open task scheduled before the patient's current
// recovery day as overdue. Returns how many tasks were flipped.
func (s *Service) SweepOverdue(ctx context.Context) (int, error) {
	ids, err := s.tasks.PatientsWithOpenTasks(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, patientID := range ids {
		day, err := s.recovery.CurrentRecoveryDay(ctx, patientID)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("patient_id", patientID.String()).
				Msg("skipping overdue sweep for patient")
			continue
		}
		swept, err := s.tasks.MarkOverdue(ctx, patientID, day)
		if err != nil {
			return count, err
		}
		for _, t := range swept {
			s.publishUpdate(ctx, t)
		}
		count += len(swept)
	}
	return count, nil
}

func (s *Service) publishUpdate(ctx context.Context, t *PatientTask) {
	if s.publisher == nil {
		return
	}
	data, _ := json.Marshal(t)
	evt := realtime.Event{
		ID:        t.ID.String() + ":" + t.Status,
		Type:      realtime.EventTaskUpdated,
		Topic:     realtime.TaskTopic(t.PatientID),
		Timestamp: t.StatusChangedAt,
		Data:      data,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Error().Err(err).Str("topic", evt.Topic).Msg("publish failed")
	}
}
