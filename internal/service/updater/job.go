package updater

import (
	"context"
	"sync"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
)

// Job downloads and stages a release in the background.
type Job struct {
	progress chan Progress
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once

	staged *Staged
	err    error
}

// StartJob begins downloading and staging m. The installation is not
// modified; call Apply with the staged result once the user confirms.
func (u *Updater) StartJob(ctx context.Context, m *release.Manifest) *Job {
	ctx, cancel := context.WithCancel(ctx)

	j := &Job{
		progress: make(chan Progress, progressBuffer),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(j.done)
		defer close(j.progress)
		defer cancel()

		j.staged, j.err = u.downloadAndStage(ctx, m, j.report)
		if j.err != nil {
			logger.WarnKV(ctx, "Update job failed", "error", j.err)
		}
	}()

	return j
}

func (u *Updater) downloadAndStage(ctx context.Context, m *release.Manifest, onProgress func(Progress)) (*Staged, error) {
	d, err := u.Download(ctx, m, onProgress)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = d.Remove()
	}()

	return u.Stage(ctx, d)
}

// report publishes progress without ever blocking the download. Updates are
// dropped while the consumer lags behind.
func (j *Job) report(p Progress) {
	select {
	case j.progress <- p:
	default:
	}
}

// Progress returns the progress channel. It is closed when the job ends.
func (j *Job) Progress() <-chan Progress {
	return j.progress
}

// Cancel stops the job. It is safe to call at any time and more than once.
func (j *Job) Cancel() {
	j.once.Do(j.cancel)
}

// Done is closed when the job ends.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job ends and returns the staged release.
func (j *Job) Wait() (*Staged, error) {
	<-j.done

	return j.staged, j.err
}
