package task

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recoverly/recoverly/internal/platform/apperr"
)

// ---------- Fakes ----------

type fakeTemplateRepo struct {
	byID map[uuid.UUID]*TaskTemplate
}

func newFakeTemplateRepo() *fakeTemplateRepo {
	return &fakeTemplateRepo{byID: make(map[uuid.UUID]*TaskTemplate)}
}

func (r *fakeTemplateRepo) Create(_ context.Context, t *TaskTemplate) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now().UTC()
	r.byID[t.ID] = t
	return nil
}

func (r *fakeTemplateRepo) GetByID(_ context.Context, id uuid.UUID) (*TaskTemplate, error) {
	t, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("task template", id.String())
	}
	return t, nil
}

func (r *fakeTemplateRepo) ListBySurgeryType(_ context.Context, surgeryType string) ([]*TaskTemplate, error) {
	var items []*TaskTemplate
	for _, t := range r.byID {
		if t.SurgeryType == surgeryType {
			items = append(items, t)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].DayOffset < items[j].DayOffset })
	return items, nil
}

func (r *fakeTemplateRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.byID[id]; !ok {
		return apperr.NotFound("task template", id.String())
	}
	delete(r.byID, id)
	return nil
}

type fakeTaskRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*PatientTask
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{byID: make(map[uuid.UUID]*PatientTask)}
}

func (r *fakeTaskRepo) Create(_ context.Context, t *PatientTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = uuid.New()
	if t.Status == "" {
		t.Status = StatusPending
	}
	now := time.Now().UTC()
	t.StatusChangedAt = now
	t.CreatedAt = now
	r.byID[t.ID] = t
	return nil
}

func (r *fakeTaskRepo) CreateBatch(ctx context.Context, tasks []*PatientTask) error {
	for _, t := range tasks {
		if err := r.Create(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeTaskRepo) GetByID(_ context.Context, id uuid.UUID) (*PatientTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("task", id.String())
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTaskRepo) ListForDay(_ context.Context, patientID uuid.UUID, day int) ([]*PatientTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*PatientTask
	for _, t := range r.byID {
		if t.PatientID != patientID {
			continue
		}
		open := t.Status == StatusPending || t.Status == StatusInProgress || t.Status == StatusOverdue
		if t.ScheduledDay == day || (t.ScheduledDay < day && open) {
			cp := *t
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ScheduledDay < items[j].ScheduledDay })
	return items, nil
}

func (r *fakeTaskRepo) ListByPatient(_ context.Context, patientID uuid.UUID, status string, limit, offset int) ([]*PatientTask, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []*PatientTask
	for _, t := range r.byID {
		if t.PatientID == patientID && (status == "" || t.Status == status) {
			cp := *t
			items = append(items, &cp)
		}
	}
	return items, len(items), nil
}

func (r *fakeTaskRepo) SetStatus(_ context.Context, id uuid.UUID, status string, changedAt time.Time) (*PatientTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("task", id.String())
	}
	if !t.StatusChangedAt.Before(changedAt) {
		cp := *t
		return &cp, nil // stale write loses
	}
	t.Status = status
	t.StatusChangedAt = changedAt
	if status == StatusCompleted {
		t.CompletedAt = &changedAt
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTaskRepo) MarkOverdue(_ context.Context, patientID uuid.UUID, beforeDay int) ([]*PatientTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var swept []*PatientTask
	for _, t := range r.byID {
		if t.PatientID != patientID || t.ScheduledDay >= beforeDay {
			continue
		}
		if t.Status == StatusPending || t.Status == StatusInProgress {
			t.Status = StatusOverdue
			t.StatusChangedAt = time.Now().UTC()
			cp := *t
			swept = append(swept, &cp)
		}
	}
	return swept, nil
}

func (r *fakeTaskRepo) PatientsWithOpenTasks(_ context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, t := range r.byID {
		if (t.Status == StatusPending || t.Status == StatusInProgress) && !seen[t.PatientID] {
			seen[t.PatientID] = true
			ids = append(ids, t.PatientID)
		}
	}
	return ids, nil
}

type fakeRecovery struct {
	days map[uuid.UUID]int
}

func (f *fakeRecovery) CurrentRecoveryDay(_ context.Context, patientID uuid.UUID) (int, error) {
	day, ok := f.days[patientID]
	if !ok {
		return 0, apperr.NotFound("patient", patientID.String())
	}
	return day, nil
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) AppendSystem(_ context.Context, _ uuid.UUID, content string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, content)
	return nil
}

func newTestService(recovery *fakeRecovery, notifier *fakeNotifier) (*Service, *fakeTaskRepo, *fakeTemplateRepo) {
	templates := newFakeTemplateRepo()
	tasks := newFakeTaskRepo()
	svc := NewService(templates, tasks, recovery, notifier, nil, zerolog.Nop())
	return svc, tasks, templates
}

// ---------- State Machine Tests ----------

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to string }{
		{StatusPending, StatusInProgress},
		{StatusPending, StatusCompleted},
		{StatusPending, StatusSkipped},
		{StatusPending, StatusOverdue},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusSkipped},
		{StatusInProgress, StatusOverdue},
		{StatusOverdue, StatusCompleted},
		{StatusOverdue, StatusSkipped},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to string }{
		{StatusCompleted, StatusPending},
		{StatusCompleted, StatusInProgress},
		{StatusSkipped, StatusCompleted},
		{StatusOverdue, StatusInProgress},
		{StatusInProgress, StatusPending},
		{StatusPending, StatusPending},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

// ---------- Service Tests ----------

func TestService_InstantiateForPatient(t *testing.T) {
	svc, _, templates := newTestService(&fakeRecovery{}, &fakeNotifier{})
	ctx := context.Background()

	for day, title := range map[int]string{0: "Rest and ice", 1: "Short walk", 3: "Physio exercises"} {
		if err := templates.Create(ctx, &TaskTemplate{
			SurgeryType: "knee_replacement", Title: title, Category: CategoryExercise, DayOffset: day,
		}); err != nil {
			t.Fatalf("template create failed: %v", err)
		}
	}

	patientID := uuid.New()
	tasks, err := svc.InstantiateForPatient(ctx, patientID, "knee_replacement")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.Status != StatusPending {
			t.Errorf("new task should be pending, got %s", task.Status)
		}
		if task.TemplateID == nil {
			t.Error("instantiated task should reference its template")
		}
	}
}

func TestService_Complete_Idempotent(t *testing.T) {
	notifier := &fakeNotifier{}
	svc, repo, _ := newTestService(&fakeRecovery{}, notifier)
	ctx := context.Background()

	task := &PatientTask{PatientID: uuid.New(), Title: "Fill out symptom check-in", Category: CategoryForm, ScheduledDay: 1}
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first, err := svc.Complete(ctx, task.ID)
	if err != nil {
		t.Fatalf("first complete failed: %v", err)
	}
	if first.Status != StatusCompleted || first.CompletedAt == nil {
		t.Fatal("task should be completed with a completion timestamp")
	}

	second, err := svc.Complete(ctx, task.ID)
	if err != nil {
		t.Fatalf("second complete should be a no-op, got %v", err)
	}
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Error("re-completing must not move the completion timestamp")
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("expected exactly one chat notification, got %d", len(notifier.messages))
	}
	if !strings.Contains(notifier.messages[0], "Fill out symptom check-in") {
		t.Errorf("notification should name the task, got %q", notifier.messages[0])
	}
}

func TestService_Complete_NotifierFailureDoesNotFailCompletion(t *testing.T) {
	notifier := &fakeNotifier{err: apperr.ErrTransient}
	svc, repo, _ := newTestService(&fakeRecovery{}, notifier)
	ctx := context.Background()

	task := &PatientTask{PatientID: uuid.New(), Title: "Walk", Category: CategoryExercise, ScheduledDay: 0}
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	got, err := svc.Complete(ctx, task.ID)
	if err != nil {
		t.Fatalf("completion must succeed even when the chat message fails: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestService_TerminalTransitionsRejected(t *testing.T) {
	svc, repo, _ := newTestService(&fakeRecovery{}, &fakeNotifier{})
	ctx := context.Background()

	task := &PatientTask{PatientID: uuid.New(), Title: "Watch wound care video", Category: CategoryVideo, ScheduledDay: 0}
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Skip(ctx, task.ID); err != nil {
		t.Fatalf("skip failed: %v", err)
	}
	if _, err := svc.Start(ctx, task.ID); !apperr.IsValidation(err) {
		t.Errorf("starting a skipped task should fail validation, got %v", err)
	}
	if _, err := svc.Complete(ctx, task.ID); !apperr.IsValidation(err) {
		t.Errorf("completing a skipped task should fail validation, got %v", err)
	}
}

func TestService_Reconcile_LastWriteWins(t *testing.T) {
	svc, repo, _ := newTestService(&fakeRecovery{}, &fakeNotifier{})
	ctx := context.Background()
	patientID := uuid.New()

	task := &PatientTask{PatientID: patientID, Title: "Stretch", Category: CategoryExercise, ScheduledDay: 1}
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// A fresher offline update wins.
	newer := time.Now().UTC().Add(time.Minute)
	merged, err := svc.Reconcile(ctx, patientID, []ReconcileUpdate{
		{TaskID: task.ID, Status: StatusCompleted, ChangedAt: newer},
	})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if merged[0].Status != StatusCompleted {
		t.Fatalf("expected the newer client write to win, got %s", merged[0].Status)
	}

	// A stale update against the now-newer row is discarded.
	stale := newer.Add(-time.Hour)
	current, _ := repo.GetByID(ctx, task.ID)
	merged, err = svc.Reconcile(ctx, patientID, []ReconcileUpdate{
		{TaskID: task.ID, Status: StatusSkipped, ChangedAt: stale},
	})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if merged[0].Status != current.Status {
		t.Errorf("stale write should be discarded; got %s, want %s", merged[0].Status, current.Status)
	}
}

func TestService_Reconcile_RejectsForeignTask(t *testing.T) {
	svc, repo, _ := newTestService(&fakeRecovery{}, &fakeNotifier{})
	ctx := context.Background()

	task := &PatientTask{PatientID: uuid.New(), Title: "Stretch", Category: CategoryExercise, ScheduledDay: 1}
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, err := svc.Reconcile(ctx, uuid.New(), []ReconcileUpdate{
		{TaskID: task.ID, Status: StatusCompleted, ChangedAt: time.Now().UTC()},
	})
	if !apperr.IsValidation(err) {
		t.Errorf("expected validation error for another patient's task, got %v", err)
	}
}

func TestService_BoardForToday_SweepsOverdue(t *testing.T) {
	patientID := uuid.New()
	recovery := &fakeRecovery{days: map[uuid.UUID]int{patientID: 3}}
	svc, repo, _ := newTestService(recovery, &fakeNotifier{})
	ctx := context.Background()

	seed := []*PatientTask{
		{PatientID: patientID, Title: "Day 1 walk", Category: CategoryExercise, ScheduledDay: 1},
		{PatientID: patientID, Title: "Day 3 physio", Category: CategoryExercise, ScheduledDay: 3},
		{PatientID: patientID, Title: "Day 5 review", Category: CategoryCheckIn, ScheduledDay: 5},
	}
	for _, task := range seed {
		if err := repo.Create(ctx, task); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	board, err := svc.BoardForToday(ctx, patientID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if board.RecoveryDay != 3 {
		t.Errorf("expected recovery day 3, got %d", board.RecoveryDay)
	}
	// Day 1 task is carried forward as overdue; day 5 is not shown yet.
	if len(board.Tasks) != 2 {
		t.Fatalf("expected 2 tasks on the board, got %d", len(board.Tasks))
	}
	if board.Tasks[0].Status != StatusOverdue {
		t.Errorf("expected day 1 task overdue, got %s", board.Tasks[0].Status)
	}
	if board.Tasks[1].Status != StatusPending {
		t.Errorf("expected day 3 task pending, got %s", board.Tasks[1].Status)
	}
}

func TestService_SweepOverdue(t *testing.T) {
	p1, p2 := uuid.New(), uuid.New()
	recovery := &fakeRecovery{days: map[uuid.UUID]int{p1: 4, p2: 1}}
	svc, repo, _ := newTestService(recovery, &fakeNotifier{})
	ctx := context.Background()

	tasks := []*PatientTask{
		{PatientID: p1, Title: "a", Category: CategoryExercise, ScheduledDay: 1},
		{PatientID: p1, Title: "b", Category: CategoryExercise, ScheduledDay: 4},
		{PatientID: p2, Title: "c", Category: CategoryExercise, ScheduledDay: 0},
	}
	for _, task := range tasks {
		if err := repo.Create(ctx, task); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	count, err := svc.SweepOverdue(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	// p1's day-1 task and p2's day-0 task are past due; p1's day-4 task is current.
	if count != 2 {
		t.Errorf("expected 2 tasks swept, got %d", count)
	}

	// An overdue task can still be completed.
	swept, _ := repo.GetByID(ctx, tasks[0].ID)
	if swept.Status != StatusOverdue {
		t.Fatalf("expected overdue, got %s", swept.Status)
	}
	done, err := svc.Complete(ctx, swept.ID)
	if err != nil {
		t.Fatalf("completing an overdue task failed: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
}
