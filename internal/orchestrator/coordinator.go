package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/codealloy/alloy-api/internal/metrics"
	"github.com/codealloy/alloy-api/internal/models"
	"github.com/codealloy/alloy-api/internal/workspace"
)

// fileTransformer resolves one file to a result.
type fileTransformer interface {
	Transform(ctx context.Context, job *models.TransformationJob, copyPath string, file models.TargetFile) models.FileTransformationResult
}

// sizer reports a file's size in a working copy.
type sizer interface {
	FileSize(copyPath, relPath string) (int64, error)
}

var _ sizer = (workspace.Manager)(nil)

// Coordinator partitions a job's target set into batches and dispatches file
// attempts. Files within a batch run concurrently; batches run sequentially
// to bound peak load on the inference backend. Exactly one result per file
// flows to the onResult callback as the file resolves; the callback must be
// safe for concurrent use.
type Coordinator struct {
	attempter fileTransformer
	sizes     sizer
	logger    zerolog.Logger
}

func NewCoordinator(attempter fileTransformer, sizes sizer, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		attempter: attempter,
		sizes:     sizes,
		logger:    logger.With().Str("component", "coordinator").Logger(),
	}
}

// Process runs every batch of the job. cancelled is polled before each batch;
// once it reports true, no further batch is dispatched but in-flight attempts
// finish and their results are still delivered. onBatch fires after each
// fully resolved batch.
func (c *Coordinator) Process(
	ctx context.Context,
	job *models.TransformationJob,
	copyPath string,
	cancelled func() bool,
	onResult func(models.FileTransformationResult),
	onBatch func(index, size int),
) {
	batchSize := job.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	for start, index := 0, 0; start < len(job.TargetFiles); start, index = start+batchSize, index+1 {
		if cancelled() {
			c.logger.Info().Str("job_id", job.ID).Int("batch", index).Msg("Cancellation requested; remaining batches dropped")
			return
		}

		end := start + batchSize
		if end > len(job.TargetFiles) {
			end = len(job.TargetFiles)
		}
		batch := job.TargetFiles[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, file := range batch {
			g.Go(func() error {
				onResult(c.resolve(gctx, job, copyPath, file))
				return nil
			})
		}
		g.Wait()

		if onBatch != nil {
			onBatch(index, len(batch))
		}
	}
}

// resolve applies the size pre-filter, then hands the file to the attempter.
// Oversized files are recorded as skipped without any model attempt.
func (c *Coordinator) resolve(ctx context.Context, job *models.TransformationJob, copyPath string, file models.TargetFile) models.FileTransformationResult {
	size, err := c.sizes.FileSize(copyPath, file.Path)
	if err != nil {
		metrics.RecordError(string(KindIO))
		msg := fmt.Sprintf("%s: stat file: %v", KindIO, err)
		return models.FileTransformationResult{
			FilePath: file.Path,
			Language: file.Language,
			Status:   models.FileFailed,
			Error:    &msg,
		}
	}
	if limit := int64(job.MaxFileSizeKB) * 1024; size > limit {
		metrics.RecordError(string(KindSizeLimit))
		msg := fmt.Sprintf("%s: file is %d bytes, limit is %d KB", KindSizeLimit, size, job.MaxFileSizeKB)
		return models.FileTransformationResult{
			FilePath: file.Path,
			Language: file.Language,
			Status:   models.FileSkipped,
			Error:    &msg,
		}
	}
	return c.attempter.Transform(ctx, job, copyPath, file)
}
