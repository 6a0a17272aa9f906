package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"cloudstash/internal/container"
	"cloudstash/internal/models"
	"cloudstash/internal/transfer"
)

// UploadOne uploads localPath to destPath and returns the absolute cloud
// path. The parent of destPath must already exist in the container.
func (e *Engine) UploadOne(ctx context.Context, destPath, localPath string) (string, error) {
	if err := e.requireAvailable(); err != nil {
		return "", err
	}
	dest, err := e.container.Resolve(destPath)
	if err != nil {
		return "", err
	}

	local := container.LocalPath(localPath)
	var size int64
	if info, err := e.local.Stat(local); err == nil {
		size = info.Size()
	}

	job := e.newJob("", models.DirectionUpload, local, e.container.Abs(dest), size)
	agg := transfer.NewAggregator([]int64{size}, e.emitTo(models.StreamUpload))
	agg.Start()

	cloudPath, err := e.runner.Upload(ctx, job, dest, e.observe(job, agg, 0))
	e.finishJob(job, cloudPath, err)
	if err != nil {
		return "", err
	}

	agg.Complete(0)
	return cloudPath, nil
}

// UploadMany uploads every local path into destDir. Results follow the
// input order. A missing destDir fails the whole batch before any transfer
// starts.
func (e *Engine) UploadMany(ctx context.Context, destDir string, localPaths []string) ([]models.TransferResult, error) {
	if err := e.requireAvailable(); err != nil {
		return nil, err
	}
	dir, err := e.container.Resolve(destDir)
	if err != nil {
		return nil, err
	}
	ok, err := e.container.Exists(dir, true)
	if err != nil {
		return nil, models.WrapError(models.CodeIOFailure, err, "failed to check %s", destDir)
	}
	if !ok {
		return nil, models.ErrParentMissing(e.container.Abs(dir))
	}

	locals := make([]string, len(localPaths))
	for i, p := range localPaths {
		locals[i] = container.LocalPath(p)
	}

	sizes, err := transfer.LocalSizes(ctx, e.local, locals, e.config.GetTransfers().SizeProbeWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to measure upload batch: %w", err)
	}

	emit := e.emitTo(models.StreamUpload)
	agg := transfer.NewAggregator(sizes, emit)
	if agg.TotalBytes() == 0 {
		emit(100)
		return []models.TransferResult{}, nil
	}

	batchID := uuid.NewString()
	slog.Info("upload batch started", "batch_id", batchID, "files", len(locals), "size", humanize.IBytes(uint64(agg.TotalBytes())))

	jobs := make([]*models.TransferJob, len(locals))
	for i, local := range locals {
		dest := path.Join(dir, container.DisplayName(local))
		jobs[i] = e.newJob(batchID, models.DirectionUpload, local, e.container.Abs(dest), sizes[i])
	}

	agg.Start()
	results := e.runBatch(jobs, agg, func(i int, job *models.TransferJob) (string, error) {
		dest := path.Join(dir, container.DisplayName(locals[i]))
		return e.runner.Upload(ctx, job, dest, e.observe(job, agg, i))
	})

	slog.Info("upload batch finished", "batch_id", batchID, "succeeded", countSucceeded(results), "files", len(results))
	return results, nil
}

// DownloadOne materializes cloudPath and copies it into destDir, returning
// the local path. A missing source fails before anything is started.
func (e *Engine) DownloadOne(ctx context.Context, cloudPath, destDir string) (string, error) {
	if err := e.requireAvailable(); err != nil {
		return "", err
	}
	src, err := e.container.Resolve(cloudPath)
	if err != nil {
		return "", err
	}
	dir := container.LocalPath(destDir)

	agg := transfer.NewAggregator([]int64{0}, e.emitTo(models.StreamDownload))
	agg.Start()

	found, err := transfer.RemoteItems(ctx, e.platform, []string{src})
	if err != nil {
		return "", models.WrapError(models.CodeIOFailure, err, "failed to look up %s", cloudPath)
	}
	item, ok := found[src]
	if !ok {
		return "", models.ErrNotFound(cloudPath)
	}

	job := e.newJob("", models.DirectionDownload, path.Join(dir, item.Name), e.container.Abs(src), item.SizeBytes)
	localPath, err := e.runner.Download(ctx, job, src, dir, e.observe(job, agg, 0))
	e.finishJob(job, localPath, err)
	if err != nil {
		return "", err
	}

	agg.Complete(0)
	return localPath, nil
}

// DownloadMany downloads every existing cloud path into destDir. Missing
// items and repeated destinations are skipped; results cover the attempted
// items in input order. The batch fails only when none of the requested
// items exist.
func (e *Engine) DownloadMany(ctx context.Context, cloudPaths []string, destDir string) ([]models.TransferResult, error) {
	if err := e.requireAvailable(); err != nil {
		return nil, err
	}
	dir := container.LocalPath(destDir)

	rels := make([]string, 0, len(cloudPaths))
	missing := mapset.NewSet[string]()
	for _, p := range cloudPaths {
		rel, err := e.container.Resolve(p)
		if err != nil {
			missing.Add(p)
			continue
		}
		rels = append(rels, rel)
	}

	found, err := transfer.RemoteItems(ctx, e.platform, rels)
	if err != nil {
		return nil, models.WrapError(models.CodeIOFailure, err, "failed to look up download batch")
	}

	// Each local destination is written by at most one job; repeats of a
	// path, or items sharing a display name, keep their first occurrence.
	var attempted []models.ItemAttributes
	destinations := mapset.NewSet[string]()
	for _, rel := range rels {
		item, ok := found[rel]
		if !ok {
			missing.Add(rel)
			continue
		}
		if !destinations.Add(item.Name) {
			slog.Warn("skipping duplicate download destination", "path", rel, "destination", path.Join(dir, item.Name))
			continue
		}
		attempted = append(attempted, item)
	}

	if missing.Cardinality() > 0 {
		slog.Warn("skipping missing cloud items", "paths", missing.ToSlice())
	}
	if len(cloudPaths) > 0 && len(attempted) == 0 {
		return nil, models.ErrNotFound(strings.Join(cloudPaths, ", "))
	}

	sizes := make([]int64, len(attempted))
	for i, item := range attempted {
		sizes[i] = item.SizeBytes
	}

	emit := e.emitTo(models.StreamDownload)
	agg := transfer.NewAggregator(sizes, emit)

	if e.gate != nil {
		if decision := e.gate.CanStartDownload(dir, agg.TotalBytes()); !decision.Allowed {
			return nil, models.NewError(models.CodePreconditionFailed, "download blocked: "+decision.Reason)
		}
	}

	if agg.TotalBytes() == 0 {
		emit(100)
		return []models.TransferResult{}, nil
	}

	batchID := uuid.NewString()
	slog.Info("download batch started", "batch_id", batchID, "files", len(attempted), "skipped", missing.Cardinality(), "size", humanize.IBytes(uint64(agg.TotalBytes())))

	jobs := make([]*models.TransferJob, len(attempted))
	for i, item := range attempted {
		jobs[i] = e.newJob(batchID, models.DirectionDownload, path.Join(dir, item.Name), item.AbsPath, item.SizeBytes)
	}

	agg.Start()
	results := e.runBatch(jobs, agg, func(i int, job *models.TransferJob) (string, error) {
		return e.runner.Download(ctx, job, attempted[i].Path, dir, e.observe(job, agg, i))
	})

	slog.Info("download batch finished", "batch_id", batchID, "succeeded", countSucceeded(results), "files", len(results))
	return results, nil
}

// runBatch runs every job concurrently and collects their results in job
// order. Each job counts toward the aggregate once terminal.
func (e *Engine) runBatch(jobs []*models.TransferJob, agg *transfer.Aggregator, run func(int, *models.TransferJob) (string, error)) []models.TransferResult {
	results := make([]models.TransferResult, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		i, job := i, job
		wg.Add(1)
		go func() {
			defer wg.Done()

			p, err := run(i, job)
			e.finishJob(job, p, err)
			if err != nil {
				results[i] = models.FailedResult(err)
			} else {
				results[i] = models.SucceededResult(p)
			}
			agg.Complete(i)
		}()
	}
	wg.Wait()

	return results
}

// observe returns the snapshot callback for job i.
func (e *Engine) observe(job *models.TransferJob, agg *transfer.Aggregator, i int) func(models.Snapshot) {
	return func(s models.Snapshot) {
		if !s.Usable() {
			return
		}
		if job.UpdateFraction(s.Fraction) {
			agg.Update(i, s.Fraction)
		}
	}
}

func (e *Engine) emitTo(stream models.ProgressStream) func(float64) {
	return func(value float64) {
		e.emitter.Emit(stream, value)
	}
}

func (e *Engine) newJob(batchID string, direction models.Direction, localPath, cloudPath string, size int64) *models.TransferJob {
	job := &models.TransferJob{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		Direction: direction,
		LocalPath: localPath,
		CloudPath: cloudPath,
		SizeBytes: size,
		Status:    models.TransferStatusPending,
	}

	if e.repo != nil {
		if err := e.repo.CreateTransfer(job); err != nil {
			slog.Error("failed to record transfer", "job_id", job.ID, "error", err)
		}
	}

	job.MarkStarted()
	e.saveJob(job)
	return job
}

func (e *Engine) finishJob(job *models.TransferJob, p string, err error) {
	if err != nil {
		job.MarkFailed(err.Error())
		slog.Warn("transfer failed", "job_id", job.ID, "direction", job.Direction, "code", models.CodeOf(err), "error", err)
	} else {
		job.MarkSucceeded(p)
		slog.Info("transfer succeeded", "job_id", job.ID, "direction", job.Direction, "path", p, "size", humanize.IBytes(uint64(job.SizeBytes)))
	}
	e.saveJob(job)
}

func (e *Engine) saveJob(job *models.TransferJob) {
	if e.repo == nil {
		return
	}
	if err := e.repo.UpdateTransfer(job); err != nil {
		slog.Error("failed to update transfer", "job_id", job.ID, "error", err)
	}
}

func countSucceeded(results []models.TransferResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
