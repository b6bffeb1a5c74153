package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/agentkb/internal/index"
	"github.com/cloo-solutions/agentkb/internal/telemetry"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockIndexRefresher is a mock implementation of IndexRefresher
type MockIndexRefresher struct {
	mock.Mock
}

func (m *MockIndexRefresher) RefreshIndex(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type fakeCache struct{ expired int }

func (f *fakeCache) Sweep() int { return f.expired }

// MockSessionSweeper is a mock implementation of SessionSweeper
type MockSessionSweeper struct {
	mock.Mock
}

func (m *MockSessionSweeper) Sweep(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockSessionSweeper) Len() int {
	return m.Called().Int(0)
}

func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker("test", mockProcessor, 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(200 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(errors.New("boom"))

	worker := NewWorker("test", mockProcessor, 50*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(150 * time.Millisecond)

	cancel()
	wg.Wait()

	// errors are logged, not fatal
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func TestRefreshJob(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"already running", index.ErrRefreshInProgress, false},
		{"failure", errors.New("corpus unreachable"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refresher := new(MockIndexRefresher)
			refresher.On("RefreshIndex", mock.Anything).Return(tt.err)

			err := NewRefreshJob(refresher, nil).ProcessJobs(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			refresher.AssertNumberOfCalls(t, "RefreshIndex", 1)
		})
	}
}

func TestSweepJob_ReportsSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	sessions := new(MockSessionSweeper)
	sessions.On("Sweep", mock.Anything).Return(2, nil)
	sessions.On("Len").Return(5)

	job := NewSweepJob(&fakeCache{expired: 3}, sessions, metrics, nil)
	require.NoError(t, job.ProcessJobs(context.Background()))

	sessions.AssertExpectations(t)
	expected := `
# HELP agentkb_conversation_sessions Live conversation sessions held in memory.
# TYPE agentkb_conversation_sessions gauge
agentkb_conversation_sessions 5
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "agentkb_conversation_sessions"))
}

func TestSweepJob_SessionError(t *testing.T) {
	sessions := new(MockSessionSweeper)
	sessions.On("Sweep", mock.Anything).Return(0, errors.New("locked"))

	err := NewSweepJob(&fakeCache{}, sessions, nil, nil).ProcessJobs(context.Background())

	assert.Error(t, err)
	sessions.AssertNotCalled(t, "Len")
}

func TestSweepJob_CacheOnly(t *testing.T) {
	job := NewSweepJob(&fakeCache{expired: 1}, nil, nil, nil)
	assert.NoError(t, job.ProcessJobs(context.Background()))
}
