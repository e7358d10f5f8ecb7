package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/drummonds/flipbook/config"
	"github.com/drummonds/flipbook/overlay"
	"github.com/oklog/ulid/v2"
)

func newTestRepository(t *testing.T) *BunDB {
	t.Helper()
	if Logger == nil {
		Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}))
	}
	db, err := NewRepository(config.ServerConfig{DatabaseType: "sqlite", DatabaseDbname: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to setup sqlite database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleFlipbook(title string, pageCount int) *Flipbook {
	pages := make([]PageImage, pageCount)
	for i := range pages {
		pages[i] = PageImage{
			Index:       i,
			Width:       1224,
			Height:      1584,
			ContentType: "image/jpeg",
			Data:        []byte(fmt.Sprintf("jpeg-%d", i)),
		}
	}
	return &Flipbook{
		Title:       title,
		Pages:       pages,
		PageCount:   pageCount,
		AspectRatio: 1224.0 / 1584.0,
		Thumbnail:   []byte("thumb"),
		SourceName:  title + ".pdf",
		SourceHash:  "abc123",
		SourceSize:  2048,
	}
}

func TestBunSQLiteFlipbooks(t *testing.T) {
	ctx := context.Background()
	db := newTestRepository(t)

	created, err := db.CreateFlipbook(ctx, sampleFlipbook("Annual Report", 3))
	if err != nil {
		t.Fatalf("Failed to create flipbook: %v", err)
	}
	if created.ID == (ulid.ULID{}) {
		t.Fatal("Flipbook ID was not set on create")
	}
	id := created.ID.String()

	t.Run("Get flipbook", func(t *testing.T) {
		fb, err := db.GetFlipbook(ctx, id)
		if err != nil {
			t.Fatalf("Failed to get flipbook: %v", err)
		}
		if fb.Title != "Annual Report" || fb.PageCount != 3 || fb.CoverPage != 0 {
			t.Errorf("Unexpected flipbook %+v", fb)
		}
		if fb.Overlays == nil || len(fb.Overlays) != 0 || fb.TOC == nil {
			t.Errorf("Expected empty non-nil overlays and toc, got %#v %#v", fb.Overlays, fb.TOC)
		}
		if fb.Pages != nil {
			t.Error("GetFlipbook must not load page images")
		}
	})

	t.Run("Pages in order", func(t *testing.T) {
		pages, err := db.GetPages(ctx, id)
		if err != nil {
			t.Fatalf("Failed to get pages: %v", err)
		}
		if len(pages) != 3 {
			t.Fatalf("Expected 3 pages, got %d", len(pages))
		}
		for i, page := range pages {
			if page.Index != i || string(page.Data) != fmt.Sprintf("jpeg-%d", i) {
				t.Errorf("Page %d out of order: %+v", i, page)
			}
		}
		page, err := db.GetPage(ctx, id, 2)
		if err != nil || string(page.Data) != "jpeg-2" {
			t.Errorf("Failed to get single page: %v %+v", err, page)
		}
		if _, err := db.GetPage(ctx, id, 3); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound for missing page, got %v", err)
		}
	})

	t.Run("Page info without image data", func(t *testing.T) {
		pages, err := db.GetPageInfo(ctx, id)
		if err != nil {
			t.Fatalf("Failed to get page info: %v", err)
		}
		if len(pages) != 3 {
			t.Fatalf("Expected 3 pages, got %d", len(pages))
		}
		for i, page := range pages {
			if page.Index != i || page.Width == 0 || page.Height == 0 || page.ContentType == "" {
				t.Errorf("Page %d missing metadata: %+v", i, page)
			}
			if len(page.Data) != 0 {
				t.Errorf("Page %d loaded %d bytes of image data", i, len(page.Data))
			}
		}
		if _, err := db.GetPageInfo(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound for unknown flipbook, got %v", err)
		}
	})

	t.Run("Thumbnail", func(t *testing.T) {
		thumb, err := db.GetThumbnail(ctx, id)
		if err != nil || string(thumb) != "thumb" {
			t.Errorf("Unexpected thumbnail %q: %v", thumb, err)
		}
	})

	t.Run("Update overlays and metadata", func(t *testing.T) {
		title := "Annual Report 2026"
		public := true
		overlays := []overlay.Overlay{{
			ID: "overlay-1", Page: 1, Type: overlay.TypeButton,
			X: 10, Y: 10, Width: overlay.DefaultWidth, Height: overlay.DefaultHeight,
			Config: overlay.DefaultConfig(overlay.TypeButton),
		}}
		toc := []TOCEntry{{Title: "Intro", Page: 1}, {Title: "Numbers", Page: 3}}

		updated, err := db.UpdateFlipbook(ctx, id, FlipbookUpdate{Title: &title, IsPublic: &public, Overlays: &overlays, TOC: &toc})
		if err != nil {
			t.Fatalf("Failed to update flipbook: %v", err)
		}
		if updated.Title != title || !updated.IsPublic {
			t.Errorf("Unexpected update result %+v", updated)
		}

		fb, err := db.GetFlipbook(ctx, id)
		if err != nil {
			t.Fatalf("Failed to reload flipbook: %v", err)
		}
		if len(fb.Overlays) != 1 || fb.Overlays[0] != overlays[0] {
			t.Errorf("Overlays not persisted: %+v", fb.Overlays)
		}
		if len(fb.TOC) != 2 || fb.TOC[1].Page != 3 {
			t.Errorf("TOC not persisted: %+v", fb.TOC)
		}
	})

	t.Run("Update rejects broken invariants", func(t *testing.T) {
		bad := []overlay.Overlay{{
			ID: "overlay-2", Page: 7, Type: overlay.TypeHotspot,
			X: 10, Y: 10, Width: 10, Height: 5, Config: overlay.HotspotConfig{},
		}}
		if _, err := db.UpdateFlipbook(ctx, id, FlipbookUpdate{Overlays: &bad}); !errors.Is(err, ErrInvariant) {
			t.Errorf("Expected ErrInvariant, got %v", err)
		}
		badTOC := []TOCEntry{{Title: "Nowhere", Page: 0}}
		if _, err := db.UpdateFlipbook(ctx, id, FlipbookUpdate{TOC: &badTOC}); !errors.Is(err, ErrInvariant) {
			t.Errorf("Expected ErrInvariant for toc, got %v", err)
		}
		fb, _ := db.GetFlipbook(ctx, id)
		if len(fb.Overlays) != 1 {
			t.Errorf("Rejected update changed stored overlays: %+v", fb.Overlays)
		}
	})

	t.Run("Increment views", func(t *testing.T) {
		for want := 1; want <= 3; want++ {
			views, err := db.IncrementViews(ctx, id)
			if err != nil {
				t.Fatalf("Failed to increment views: %v", err)
			}
			if views != want {
				t.Errorf("Expected %d views, got %d", want, views)
			}
		}
		if _, err := db.IncrementViews(ctx, ulid.Make().String()); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := db.DeleteFlipbook(ctx, id); err != nil {
			t.Fatalf("Failed to delete flipbook: %v", err)
		}
		if _, err := db.GetFlipbook(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		if _, err := db.GetPages(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected pages to be removed, got %v", err)
		}
		if err := db.DeleteFlipbook(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second delete, got %v", err)
		}
	})
}

func TestBunSQLiteCreateRejectsInvalidFlipbook(t *testing.T) {
	ctx := context.Background()
	db := newTestRepository(t)

	tests := []struct {
		name   string
		mutate func(fb *Flipbook)
	}{
		{"no pages", func(fb *Flipbook) { fb.Pages = nil; fb.PageCount = 0 }},
		{"page count mismatch", func(fb *Flipbook) { fb.PageCount = 5 }},
		{"cover not first page", func(fb *Flipbook) { fb.CoverPage = 1 }},
		{"empty page image", func(fb *Flipbook) { fb.Pages[1].Data = nil }},
		{"zero aspect ratio", func(fb *Flipbook) { fb.AspectRatio = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := sampleFlipbook("Broken", 2)
			tt.mutate(fb)
			if _, err := db.CreateFlipbook(ctx, fb); !errors.Is(err, ErrInvariant) {
				t.Errorf("Expected ErrInvariant, got %v", err)
			}
		})
	}

	list, err := db.ListFlipbooks(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("Failed to list flipbooks: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Rejected flipbooks were stored: %d", len(list))
	}
}

func TestBunSQLiteListAndStats(t *testing.T) {
	ctx := context.Background()
	db := newTestRepository(t)

	public := true
	for _, title := range []string{"Spring Catalogue", "Summer Catalogue", "Board Minutes"} {
		fb, err := db.CreateFlipbook(ctx, sampleFlipbook(title, 1))
		if err != nil {
			t.Fatalf("Failed to create %s: %v", title, err)
		}
		if title != "Board Minutes" {
			if _, err := db.UpdateFlipbook(ctx, fb.ID.String(), FlipbookUpdate{IsPublic: &public}); err != nil {
				t.Fatalf("Failed to publish %s: %v", title, err)
			}
		}
		if _, err := db.IncrementViews(ctx, fb.ID.String()); err != nil {
			t.Fatalf("Failed to add view: %v", err)
		}
	}

	tests := []struct {
		name string
		opts ListOptions
		want int
	}{
		{"all", ListOptions{}, 3},
		{"title search is case insensitive", ListOptions{Query: "catalogue"}, 2},
		{"public only", ListOptions{Visibility: VisibilityPublic}, 2},
		{"private only", ListOptions{Visibility: VisibilityPrivate}, 1},
		{"search and filter", ListOptions{Query: "MINUTES", Visibility: VisibilityPublic}, 0},
		{"limit", ListOptions{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := db.ListFlipbooks(ctx, tt.opts)
			if err != nil {
				t.Fatalf("Failed to list flipbooks: %v", err)
			}
			if len(list) != tt.want {
				t.Errorf("Expected %d flipbooks, got %d", tt.want, len(list))
			}
		})
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Flipbooks != 3 || stats.Views != 3 || stats.Public != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestBunSQLiteJobs(t *testing.T) {
	ctx := context.Background()
	db := newTestRepository(t)

	job, err := db.CreateJob(ctx, JobTypeIngestion, "Ingesting report.pdf")
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if job.Status != JobStatusPending {
		t.Errorf("Expected pending job, got %s", job.Status)
	}

	if err := db.UpdateJobStatus(ctx, job.ID, JobStatusRunning, "Rendering"); err != nil {
		t.Fatalf("Failed to update job status: %v", err)
	}
	if err := db.UpdateJobProgress(ctx, job.ID, 60, "Rendering page 2 of 4"); err != nil {
		t.Fatalf("Failed to update job progress: %v", err)
	}
	// a late, lower progress report must not move the job backwards
	if err := db.UpdateJobProgress(ctx, job.ID, 50, "Rendering page 1 of 4"); err != nil {
		t.Fatalf("Failed to update job progress: %v", err)
	}

	got, err := db.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if got.Progress != 60 || got.CurrentStep != "Rendering page 2 of 4" {
		t.Errorf("Expected progress 60, got %d (%s)", got.Progress, got.CurrentStep)
	}
	if got.StartedAt == nil {
		t.Error("Expected started_at to be set")
	}

	active, err := db.GetActiveJobs(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("Expected one active job, got %d: %v", len(active), err)
	}

	if err := db.CompleteJob(ctx, job.ID, `{"flipbookId":"x"}`); err != nil {
		t.Fatalf("Failed to complete job: %v", err)
	}
	got, _ = db.GetJob(ctx, job.ID)
	if got.Status != JobStatusCompleted || got.Progress != 100 || !got.Finished() {
		t.Errorf("Unexpected completed job %+v", got)
	}

	failed, _ := db.CreateJob(ctx, JobTypeIngestion, "Ingesting broken.pdf")
	if err := db.UpdateJobError(ctx, failed.ID, "not a pdf"); err != nil {
		t.Fatalf("Failed to record job error: %v", err)
	}

	recent, err := db.GetRecentJobs(ctx, 10, 0)
	if err != nil || len(recent) != 2 {
		t.Fatalf("Expected two recent jobs, got %d: %v", len(recent), err)
	}

	deleted, err := db.DeleteOldJobs(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("Failed to delete old jobs: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 finished jobs deleted, got %d", deleted)
	}
	if _, err := db.GetJob(ctx, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for deleted job, got %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := newTestRepository(t)
	if err := db.runMigrations(context.Background()); err != nil {
		t.Fatalf("Second migration run failed: %v", err)
	}
	var applied []BunSchemaMigration
	if err := db.db.NewSelect().Model(&applied).Scan(context.Background()); err != nil {
		t.Fatalf("Failed to read migrations: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("Expected %d migrations recorded, got %d", len(migrations), len(applied))
	}
}
