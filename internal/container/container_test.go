package container

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/automata-container/internal/domain"
	"github.com/shaiso/automata-container/internal/mq"
	"github.com/shaiso/automata-container/internal/resource"
)

// --- Fakes ---

type fakeExecutions struct {
	mu       sync.Mutex
	flow     *domain.ExecutableFlow
	fetchErr error
	statuses []domain.FlowStatus
	startAt  *time.Time
	endAt    *time.Time
}

func (f *fakeExecutions) FetchExecutableFlow(ctx context.Context, execID int64) (*domain.ExecutableFlow, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.flow, nil
}

func (f *fakeExecutions) UpdateStatus(ctx context.Context, execID int64, status domain.FlowStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeExecutions) SetStartTime(ctx context.Context, execID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startAt = &at
	return nil
}

func (f *fakeExecutions) SetEndTime(ctx context.Context, execID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endAt = &at
	return nil
}

func (f *fakeExecutions) recorded() []domain.FlowStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.FlowStatus, len(f.statuses))
	copy(out, f.statuses)
	return out
}

type fakeProjects struct {
	meta *domain.ProjectMeta
	err  error
}

func (f *fakeProjects) FetchProjectMetadata(ctx context.Context, projectID int64, version int) (*domain.ProjectMeta, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}

// fakeArtifacts вместо скачивания кладёт определение flow в рабочую
// директорию.
type fakeArtifacts struct {
	flowName string
	err      error
}

func (f *fakeArtifacts) Download(ctx context.Context, meta *domain.ProjectMeta, dir string) error {
	if f.err != nil {
		return f.err
	}
	def := "nodes:\n  - name: start\n    type: command\n"
	return os.WriteFile(filepath.Join(dir, f.flowName+".flow"), []byte(def), 0o644)
}

type recordingSink struct {
	mu  sync.Mutex
	cpu []float64
	mem []int64
}

func (s *recordingSink) SetCPUUtilization(cores float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpu = append(s.cpu, cores)
}

func (s *recordingSink) SetMemoryUtilization(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem = append(s.mem, bytes)
}

func (s *recordingSink) calls() ([]float64, []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpu := make([]float64, len(s.cpu))
	copy(cpu, s.cpu)
	mem := make([]int64, len(s.mem))
	copy(mem, s.mem)
	return cpu, mem
}

type fakeRunner struct {
	sink *recordingSink
	run  func(ctx context.Context) error
}

func (r *fakeRunner) Run(ctx context.Context) error {
	if r.run == nil {
		return nil
	}
	return r.run(ctx)
}

func (r *fakeRunner) ResourceSink() ResourceSink {
	if r.sink == nil {
		return nil
	}
	return r.sink
}

type fakeEventPublisher struct {
	mu         sync.Mutex
	flowEvents []mq.FlowEventPayload
	jobEvents  []mq.JobEventPayload
}

func (f *fakeEventPublisher) PublishFlowEvent(ctx context.Context, payload mq.FlowEventPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flowEvents = append(f.flowEvents, payload)
	return nil
}

func (f *fakeEventPublisher) PublishJobEvent(ctx context.Context, payload mq.JobEventPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobEvents = append(f.jobEvents, payload)
	return nil
}

func (f *fakeEventPublisher) flows() []mq.FlowEventPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mq.FlowEventPayload, len(f.flowEvents))
	copy(out, f.flowEvents)
	return out
}

// --- Helpers ---

const testExecID = int64(1001)

func testFlow() *domain.ExecutableFlow {
	return &domain.ExecutableFlow{
		ExecID:         testExecID,
		FlowName:       "demo",
		ProjectID:      7,
		ProjectVersion: 2,
		Status:         domain.FlowStatusReady,
		SubmitUser:     "operator",
	}
}

func testMeta() *domain.ProjectMeta {
	return &domain.ProjectMeta{
		ProjectID: 7,
		Version:   2,
		FileType:  "zip",
		FileName:  "demo.zip",
	}
}

func baseConfig(runner FlowRunner, environ resource.MapEnviron) Config {
	if environ == nil {
		environ = resource.MapEnviron{}
	}
	return Config{
		ExecID:     testExecID,
		Executions: &fakeExecutions{flow: testFlow()},
		Projects:   &fakeProjects{meta: testMeta()},
		Artifacts:  &fakeArtifacts{flowName: "demo"},
		NewRunner: func(*domain.ExecutableFlow, *slog.Logger) (FlowRunner, error) {
			return runner, nil
		},
		Environ: environ,
	}
}

func mustContainerWith(t *testing.T, overrides Config, runner FlowRunner, environ resource.MapEnviron) *Container {
	t.Helper()

	cfg := baseConfig(runner, environ)
	cfg.WorkDir = overrides.WorkDir
	cfg.EventReportingEnabled = overrides.EventReportingEnabled
	cfg.JobCallbackEnabled = overrides.JobCallbackEnabled
	if overrides.Executions != nil {
		cfg.Executions = overrides.Executions
	}
	if overrides.Publisher != nil {
		cfg.Publisher = overrides.Publisher
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func mustContainer(t *testing.T, overrides Config, environ resource.MapEnviron) *Container {
	t.Helper()
	return mustContainerWith(t, overrides, &fakeRunner{sink: &recordingSink{}}, environ)
}

func waitDone(t *testing.T, c *Container) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("container did not finish in time")
	}
}

// --- Tests ---

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, ErrNoExecutionLoader) {
		t.Fatalf("expected ErrNoExecutionLoader, got %v", err)
	}
}

func TestNewBadReportSchedule(t *testing.T) {
	cfg := baseConfig(&fakeRunner{}, nil)
	cfg.ReportSchedule = "not a schedule"

	if _, err := New(cfg); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestSetResourceUtilizationEmptyEnvironment(t *testing.T) {
	sink := &recordingSink{}
	c := mustContainer(t, Config{}, resource.MapEnviron{})
	c.runner = &fakeRunner{sink: sink}

	c.SetResourceUtilization()

	cpu, mem := sink.calls()
	if len(cpu) != 0 || len(mem) != 0 {
		t.Fatalf("expected no sink calls, got cpu=%v mem=%v", cpu, mem)
	}
}

func TestSetResourceUtilizationCumulative(t *testing.T) {
	environ := resource.MapEnviron{
		resource.EnvCPURequest:    "500m",
		resource.EnvMemoryRequest: "500Mi",
	}
	sink := &recordingSink{}
	c := mustContainer(t, Config{}, environ)
	c.runner = &fakeRunner{sink: sink}

	c.SetResourceUtilization()
	c.SetResourceUtilization()

	cpu, mem := sink.calls()
	if len(cpu) != 2 || len(mem) != 2 {
		t.Fatalf("expected 2 pushes per dimension, got cpu=%d mem=%d", len(cpu), len(mem))
	}
	if cpu[0] != 0.5 || cpu[1] != 0.5 {
		t.Fatalf("unexpected cpu values: %v", cpu)
	}
	if mem[0] != 500*1024*1024 || mem[1] != 500*1024*1024 {
		t.Fatalf("unexpected memory values: %v", mem)
	}

	// Окружение изменилось: следующий вызов читает его заново.
	environ[resource.EnvCPURequest] = "2"
	c.SetResourceUtilization()

	cpu, _ = sink.calls()
	if cpu[len(cpu)-1] != 2.0 {
		t.Fatalf("expected re-read cpu value 2.0, got %v", cpu[len(cpu)-1])
	}
}

func TestSetResourceUtilizationSkipsBadDimension(t *testing.T) {
	environ := resource.MapEnviron{
		resource.EnvCPURequest:    "garbage",
		resource.EnvMemoryRequest: "1Gi",
	}
	sink := &recordingSink{}
	c := mustContainer(t, Config{}, environ)
	c.runner = &fakeRunner{sink: sink}

	c.SetResourceUtilization()

	cpu, mem := sink.calls()
	if len(cpu) != 0 {
		t.Fatalf("malformed cpu must be skipped, got %v", cpu)
	}
	if len(mem) != 1 || mem[0] != 1<<30 {
		t.Fatalf("memory dimension must be pushed independently, got %v", mem)
	}

	alloc := c.Allocation()
	if alloc.HasCPU {
		t.Fatal("cpu allocation must stay unset after parse failure")
	}
	if !alloc.HasMemory || alloc.MemoryBytes != 1<<30 {
		t.Fatalf("unexpected memory allocation: %+v", alloc)
	}
}

func TestSetResourceUtilizationWithoutRunner(t *testing.T) {
	c := mustContainer(t, Config{}, resource.MapEnviron{resource.EnvCPURequest: "1"})
	// runner ещё не создан: вызов не должен паниковать.
	c.SetResourceUtilization()
}

func TestCallbackGateDisabled(t *testing.T) {
	c := mustContainer(t, Config{Publisher: &fakeEventPublisher{}}, nil)

	c.initCallback(testFlow())

	if c.CallbackInitialized() {
		t.Fatal("callback must stay uninitialized when disabled")
	}
	if _, err := c.Callback(); !errors.Is(err, ErrCallbackNotInitialized) {
		t.Fatalf("expected ErrCallbackNotInitialized, got %v", err)
	}
}

func TestCallbackGateEnabledOnce(t *testing.T) {
	c := mustContainer(t, Config{
		JobCallbackEnabled: true,
		Publisher:          &fakeEventPublisher{},
	}, nil)

	c.initCallback(testFlow())

	if !c.CallbackInitialized() {
		t.Fatal("callback must be initialized when enabled")
	}
	first, err := c.Callback()
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}

	// Повторная инициализация не создаёт второй экземпляр.
	c.initCallback(testFlow())
	second, _ := c.Callback()
	if first != second {
		t.Fatal("callback subsystem must be initialized at most once")
	}
}

func TestCallbackGateEnabledWithoutPublisher(t *testing.T) {
	c := mustContainer(t, Config{JobCallbackEnabled: true}, nil)

	c.initCallback(testFlow())

	if c.CallbackInitialized() {
		t.Fatal("callback must stay uninitialized without a publisher")
	}
}

func TestCloseWithoutStart(t *testing.T) {
	c := mustContainer(t, Config{}, nil)

	c.Close()
	if got := c.State(); got != StateClosed {
		t.Fatalf("expected %s, got %s", StateClosed, got)
	}

	// Повторный вызов безопасен.
	c.Close()
}

func TestStartHappyPath(t *testing.T) {
	execs := &fakeExecutions{flow: testFlow()}
	runner := &fakeRunner{sink: &recordingSink{}}
	publisher := &fakeEventPublisher{}

	c := mustContainerWith(t, Config{
		WorkDir:               t.TempDir(),
		EventReportingEnabled: true,
		Executions:            execs,
		Publisher:             publisher,
	}, runner, resource.MapEnviron{resource.EnvCPURequest: "250m"})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, c)

	if got := c.State(); got != StateCompleted {
		t.Fatalf("expected %s, got %s", StateCompleted, got)
	}

	statuses := execs.recorded()
	want := []domain.FlowStatus{
		domain.FlowStatusPreparing,
		domain.FlowStatusRunning,
		domain.FlowStatusSucceeded,
	}
	if len(statuses) != len(want) {
		t.Fatalf("expected statuses %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("expected statuses %v, got %v", want, statuses)
		}
	}

	if execs.startAt == nil || execs.endAt == nil {
		t.Fatal("start and end time must be persisted")
	}

	// Стартовый push бюджета прошёл до reporting loop.
	cpu, _ := runner.sink.calls()
	if len(cpu) == 0 || cpu[0] != 0.25 {
		t.Fatalf("expected initial cpu push 0.25, got %v", cpu)
	}

	events := publisher.flows()
	if len(events) != 2 {
		t.Fatalf("expected RUNNING and SUCCEEDED events, got %v", events)
	}
	if events[0].Status != string(domain.FlowStatusRunning) || events[1].Status != string(domain.FlowStatusSucceeded) {
		t.Fatalf("unexpected event statuses: %v", events)
	}

	c.Close()
}

func TestStartFetchFailure(t *testing.T) {
	wantErr := errors.New("placement record missing")
	c := mustContainerWith(t, Config{
		Executions: &fakeExecutions{fetchErr: wantErr},
	}, &fakeRunner{}, nil)

	err := c.Start(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}
	if got := c.State(); got != StateFailed {
		t.Fatalf("expected %s, got %s", StateFailed, got)
	}

	// Teardown после частичного старта безопасен.
	c.Close()
}

func TestStartTwice(t *testing.T) {
	c := mustContainerWith(t, Config{WorkDir: t.TempDir()}, &fakeRunner{sink: &recordingSink{}}, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}

	c.Close()
}

func TestCloseKillsRunningFlow(t *testing.T) {
	execs := &fakeExecutions{flow: testFlow()}
	runner := &fakeRunner{
		sink: &recordingSink{},
		run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	c := mustContainerWith(t, Config{
		WorkDir:    t.TempDir(),
		Executions: execs,
	}, runner, nil)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.Close()
	waitDone(t, c)

	statuses := execs.recorded()
	if len(statuses) == 0 || statuses[len(statuses)-1] != domain.FlowStatusKilled {
		t.Fatalf("expected final status KILLED, got %v", statuses)
	}
	if got := c.State(); got != StateClosed {
		t.Fatalf("expected %s, got %s", StateClosed, got)
	}
}

func TestCloseReclaimsWorkDir(t *testing.T) {
	workDir := t.TempDir()
	target := filepath.Join(workDir, "payload.dat")
	link := filepath.Join(workDir, "payload.link")
	if err := os.WriteFile(target, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	c := mustContainerWith(t, Config{WorkDir: workDir}, &fakeRunner{}, nil)
	c.Close()

	// Reclaim убирает и содержимое, и саму директорию.
	if _, err := os.Lstat(workDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected working directory to be removed, got %v", err)
	}
}

func TestCloseDuringStart(t *testing.T) {
	factoryEntered := make(chan struct{})
	factoryRelease := make(chan struct{})
	runner := &fakeRunner{sink: &recordingSink{}}

	cfg := baseConfig(runner, nil)
	cfg.WorkDir = t.TempDir()
	cfg.NewRunner = func(flow *domain.ExecutableFlow, logger *slog.Logger) (FlowRunner, error) {
		close(factoryEntered)
		<-factoryRelease
		return runner, nil
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Start(context.Background())
	}()

	<-factoryEntered
	c.Close()
	close(factoryRelease)

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}

	if got := c.State(); got != StateClosed {
		t.Fatalf("expected %s, got %s", StateClosed, got)
	}
}

func TestHandleResizeValidatesMessage(t *testing.T) {
	environ := resource.MapEnviron{resource.EnvCPURequest: "750m"}
	sink := &recordingSink{}
	c := mustContainer(t, Config{}, environ)
	c.runner = &fakeRunner{sink: sink}

	// Чужой тип сообщения подтверждается без эффекта.
	wrongType := &mq.Delivery{Message: mq.Message{Type: mq.MessageTypeFlowEvent}}
	if err := c.handleResize(context.Background(), wrongType); err != nil {
		t.Fatalf("foreign message type must be ignored, got %v", err)
	}

	// Уведомление про другое выполнение игнорируется.
	foreign, _ := json.Marshal(mq.ResizePayload{ExecID: testExecID + 1})
	foreignMsg := &mq.Delivery{Message: mq.Message{
		Type:    mq.MessageTypeContainerResize,
		Payload: foreign,
	}}
	if err := c.handleResize(context.Background(), foreignMsg); err != nil {
		t.Fatalf("foreign exec id must be ignored, got %v", err)
	}

	if cpu, _ := sink.calls(); len(cpu) != 0 {
		t.Fatalf("invalid notifications must not trigger pushes, got %v", cpu)
	}

	// Нечитаемый payload — ошибка обработки (nack).
	garbled := &mq.Delivery{Message: mq.Message{
		Type:    mq.MessageTypeContainerResize,
		Payload: json.RawMessage("{"),
	}}
	if err := c.handleResize(context.Background(), garbled); err == nil {
		t.Fatal("expected unmarshal error")
	}

	// Своё уведомление триггерит перечитывание окружения.
	own, _ := json.Marshal(mq.ResizePayload{ExecID: testExecID})
	ownMsg := &mq.Delivery{Message: mq.Message{
		Type:    mq.MessageTypeContainerResize,
		Payload: own,
	}}
	if err := c.handleResize(context.Background(), ownMsg); err != nil {
		t.Fatalf("handleResize: %v", err)
	}

	cpu, _ := sink.calls()
	if len(cpu) != 1 || cpu[0] != 0.75 {
		t.Fatalf("expected one push of 0.75, got %v", cpu)
	}
}

func TestStartRejectsFinishedExecution(t *testing.T) {
	flow := testFlow()
	flow.Status = domain.FlowStatusSucceeded
	execs := &fakeExecutions{flow: flow}

	c := mustContainerWith(t, Config{Executions: execs}, &fakeRunner{}, nil)

	err := c.Start(context.Background())
	if !errors.Is(err, ErrExecutionFinished) {
		t.Fatalf("expected ErrExecutionFinished, got %v", err)
	}
	if got := c.State(); got != StateFailed {
		t.Fatalf("expected %s, got %s", StateFailed, got)
	}

	// Терминальный статус не перезаписывается.
	if statuses := execs.recorded(); len(statuses) != 0 {
		t.Fatalf("expected no status writes, got %v", statuses)
	}
}

func TestHealthzWithoutBroker(t *testing.T) {
	c := mustContainer(t, Config{}, nil)

	rec := httptest.NewRecorder()
	c.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}
