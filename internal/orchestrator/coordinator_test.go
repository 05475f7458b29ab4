package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codealloy/alloy-api/internal/models"
)

// stubTransformer resolves every file as a success, optionally through a
// hook that observes or blocks the call.
type stubTransformer struct {
	mu    sync.Mutex
	seen  []string
	hook  func(file models.TargetFile)
	fixed models.FileOutcome
}

func (s *stubTransformer) Transform(ctx context.Context, job *models.TransformationJob, copyPath string, file models.TargetFile) models.FileTransformationResult {
	s.mu.Lock()
	s.seen = append(s.seen, file.Path)
	s.mu.Unlock()
	if s.hook != nil {
		s.hook(file)
	}
	status := s.fixed
	if status == "" {
		status = models.FileSuccess
	}
	return models.FileTransformationResult{FilePath: file.Path, Language: file.Language, Status: status}
}

func (s *stubTransformer) attempted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

// stubSizer returns per-path sizes, defaulting to 1 byte.
type stubSizer struct {
	sizes map[string]int64
}

func (s *stubSizer) FileSize(copyPath, relPath string) (int64, error) {
	if size, ok := s.sizes[relPath]; ok {
		return size, nil
	}
	return 1, nil
}

func coordinatorJob(batchSize int, paths ...string) *models.TransformationJob {
	files := make([]models.TargetFile, len(paths))
	for i, p := range paths {
		files[i] = models.TargetFile{Path: p, Language: "python"}
	}
	return &models.TransformationJob{
		ID:            "job-1",
		Type:          models.TransformRefactor,
		BatchSize:     batchSize,
		MaxFileSizeKB: 50,
		TargetFiles:   files,
		TotalFiles:    len(files),
	}
}

func never() bool { return false }

func collectResults() (func(models.FileTransformationResult), func() []models.FileTransformationResult) {
	var mu sync.Mutex
	var results []models.FileTransformationResult
	record := func(res models.FileTransformationResult) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}
	snapshot := func() []models.FileTransformationResult {
		mu.Lock()
		defer mu.Unlock()
		return append([]models.FileTransformationResult(nil), results...)
	}
	return record, snapshot
}

func TestCoordinator_ProcessesAllFilesInBatches(t *testing.T) {
	tr := &stubTransformer{}
	c := NewCoordinator(tr, &stubSizer{}, zerolog.Nop())
	job := coordinatorJob(2, "a.py", "b.py", "c.py", "d.py", "e.py")

	record, snapshot := collectResults()
	var batches []int
	c.Process(context.Background(), job, "/wc", never, record, func(index, size int) {
		batches = append(batches, size)
	})

	assert.Len(t, snapshot(), 5)
	assert.ElementsMatch(t, []string{"a.py", "b.py", "c.py", "d.py", "e.py"}, tr.attempted())
	assert.Equal(t, []int{2, 2, 1}, batches)
}

func TestCoordinator_OversizedFileIsSkippedWithoutAttempt(t *testing.T) {
	tr := &stubTransformer{}
	sizes := &stubSizer{sizes: map[string]int64{"big.py": 51 * 1024}}
	c := NewCoordinator(tr, sizes, zerolog.Nop())
	job := coordinatorJob(10, "big.py", "small.py")

	record, snapshot := collectResults()
	c.Process(context.Background(), job, "/wc", never, record, nil)

	results := snapshot()
	require.Len(t, results, 2)
	byPath := map[string]models.FileTransformationResult{}
	for _, r := range results {
		byPath[r.FilePath] = r
	}
	assert.Equal(t, models.FileSkipped, byPath["big.py"].Status)
	require.NotNil(t, byPath["big.py"].Error)
	assert.Contains(t, *byPath["big.py"].Error, "size_limit")
	assert.Equal(t, models.FileSuccess, byPath["small.py"].Status)
	assert.Equal(t, []string{"small.py"}, tr.attempted(), "oversized file must not reach the model")
}

func TestCoordinator_CancellationStopsFurtherBatches(t *testing.T) {
	var cancelled bool
	var mu sync.Mutex

	tr := &stubTransformer{}
	tr.hook = func(models.TargetFile) {
		mu.Lock()
		cancelled = true
		mu.Unlock()
	}
	c := NewCoordinator(tr, &stubSizer{}, zerolog.Nop())
	job := coordinatorJob(1, "a.py", "b.py", "c.py")

	record, snapshot := collectResults()
	c.Process(context.Background(), job, "/wc",
		func() bool {
			mu.Lock()
			defer mu.Unlock()
			return cancelled
		},
		record, nil)

	// The first file flips the flag while in flight: its result is still
	// recorded, the remaining batches never start.
	assert.Len(t, snapshot(), 1)
	assert.Equal(t, []string{"a.py"}, tr.attempted())
}

func TestCoordinator_FilesWithinBatchRunConcurrently(t *testing.T) {
	const batchSize = 3
	barrier := make(chan struct{})
	var arrivals sync.WaitGroup
	arrivals.Add(batchSize)

	release := sync.OnceFunc(func() {
		arrivals.Wait()
		close(barrier)
	})

	tr := &stubTransformer{}
	tr.hook = func(models.TargetFile) {
		arrivals.Done()
		go release()
		<-barrier // blocks until all files of the batch arrived
	}
	c := NewCoordinator(tr, &stubSizer{}, zerolog.Nop())
	job := coordinatorJob(batchSize, "a.py", "b.py", "c.py")

	record, snapshot := collectResults()
	c.Process(context.Background(), job, "/wc", never, record, nil)

	assert.Len(t, snapshot(), batchSize)
}
