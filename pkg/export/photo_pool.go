package export

import (
	"context"

	"github.com/noah-isme/checkup-export-api/internal/models"
)

const maxPhotoWorkers = 4

// PhotoJob is one photo queued for processing.
type PhotoJob struct {
	Key string
	Ref models.PhotoRef
}

// PhotoOutcome is the tagged result of processing one photo: either Photo or
// Err is set, never both.
type PhotoOutcome struct {
	Key   string
	Ref   models.PhotoRef
	Photo *models.ProcessedPhoto
	Err   error
}

// OK reports whether the photo was processed successfully.
func (o PhotoOutcome) OK() bool {
	return o.Err == nil && o.Photo != nil
}

// PhotoPool processes photos on a fixed number of workers and yields results
// in submission order. At most `workers` photos are decoded at once and at
// most `workers` finished results wait for the consumer.
type PhotoPool struct {
	processor *PhotoProcessor
	policy    models.CompressionPolicy
	workers   int
}

// NewPhotoPool builds a pool; workers is clamped to 1..4.
func NewPhotoPool(processor *PhotoProcessor, policy models.CompressionPolicy, workers int) *PhotoPool {
	if processor == nil {
		processor = NewPhotoProcessor()
	}
	if workers < 1 {
		workers = 1
	}
	if workers > maxPhotoWorkers {
		workers = maxPhotoWorkers
	}
	return &PhotoPool{processor: processor, policy: policy, workers: workers}
}

// Workers returns the effective concurrency.
func (p *PhotoPool) Workers() int {
	return p.workers
}

// Stream starts processing jobs and returns a channel delivering one outcome
// per job in order. The channel closes early when ctx is cancelled; the
// consumer must keep reading or cancel ctx.
func (p *PhotoPool) Stream(ctx context.Context, jobs []PhotoJob) <-chan PhotoOutcome {
	out := make(chan PhotoOutcome)
	pending := make(chan chan PhotoOutcome, p.workers)
	slots := make(chan struct{}, p.workers)

	go func() {
		defer close(pending)
		for _, job := range jobs {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			result := make(chan PhotoOutcome, 1)
			select {
			case pending <- result:
			case <-ctx.Done():
				<-slots
				return
			}
			go func(job PhotoJob) {
				defer func() { <-slots }()
				result <- p.run(job)
			}(job)
		}
	}()

	go func() {
		defer close(out)
		for result := range pending {
			var outcome PhotoOutcome
			select {
			case outcome = <-result:
			case <-ctx.Done():
				return
			}
			select {
			case out <- outcome:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (p *PhotoPool) run(job PhotoJob) PhotoOutcome {
	photo, err := p.processor.ProcessRef(job.Ref, p.policy)
	return PhotoOutcome{Key: job.Key, Ref: job.Ref, Photo: photo, Err: err}
}
