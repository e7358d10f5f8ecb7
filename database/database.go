package database

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// Repository defines database operations
type Repository interface {
	Close() error
	CreateFlipbook(ctx context.Context, fb *Flipbook) (*Flipbook, error)
	GetFlipbook(ctx context.Context, id string) (*Flipbook, error)
	UpdateFlipbook(ctx context.Context, id string, update FlipbookUpdate) (*Flipbook, error)
	DeleteFlipbook(ctx context.Context, id string) error
	ListFlipbooks(ctx context.Context, opts ListOptions) ([]Flipbook, error)
	IncrementViews(ctx context.Context, id string) (int, error)
	GetPage(ctx context.Context, id string, index int) (*PageImage, error)
	GetPages(ctx context.Context, id string) ([]PageImage, error)
	// GetPageInfo lists pages in order without their image data
	GetPageInfo(ctx context.Context, id string) ([]PageImage, error)
	GetThumbnail(ctx context.Context, id string) ([]byte, error)
	Stats(ctx context.Context) (*Stats, error)
	// Job tracking methods
	CreateJob(ctx context.Context, jobType JobType, message string) (*Job, error)
	UpdateJobProgress(ctx context.Context, jobID ulid.ULID, progress int, currentStep string) error
	UpdateJobStatus(ctx context.Context, jobID ulid.ULID, status JobStatus, message string) error
	UpdateJobError(ctx context.Context, jobID ulid.ULID, errorMsg string) error
	CompleteJob(ctx context.Context, jobID ulid.ULID, result string) error
	GetJob(ctx context.Context, jobID ulid.ULID) (*Job, error)
	GetRecentJobs(ctx context.Context, limit, offset int) ([]Job, error)
	GetActiveJobs(ctx context.Context) ([]Job, error)
	DeleteOldJobs(ctx context.Context, olderThan time.Duration) (int, error)
}

// CalculateUUID generates a ULID for the given time
func CalculateUUID(time time.Time) (ulid.ULID, error) {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.UnixNano())), 0)
	newULID, err := ulid.New(ulid.Timestamp(time), entropy)
	if err != nil {
		return newULID, err
	}
	return newULID, nil
}

// CalculateHash computes the MD5 of the content read from r
func CalculateHash(r io.Reader) (string, error) {
	hash := md5.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

func parseID(id string) (ulid.ULID, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	return parsed, nil
}
