package database

import (
	"time"

	"github.com/drummonds/flipbook/overlay"
	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunFlipbook represents the flipbooks table for Bun ORM
type BunFlipbook struct {
	bun.BaseModel `bun:"table:flipbooks,alias:f"`

	ID          string            `bun:"id,pk"` // ULID as string
	Title       string            `bun:"title,notnull"`
	Description string            `bun:"description,notnull,default:''"`
	IsPublic    bool              `bun:"is_public,notnull,default:false"`
	PageCount   int               `bun:"page_count,notnull"`
	CoverPage   int               `bun:"cover_page,notnull,default:0"`
	AspectRatio float64           `bun:"aspect_ratio,notnull"`
	Overlays    []overlay.Overlay `bun:"overlays,type:json"`
	TOC         []TOCEntry        `bun:"toc,type:json"`
	Views       int               `bun:"views,notnull,default:0"`
	SourceName  string            `bun:"source_name,nullzero"`
	SourceHash  string            `bun:"source_hash,nullzero"`
	SourceSize  int64             `bun:"source_size,nullzero"`
	SourcePath  string            `bun:"source_path,nullzero"`
	Thumbnail   []byte            `bun:"thumbnail"`
	CreatedAt   time.Time         `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time         `bun:"updated_at,notnull,default:current_timestamp"`
}

// ToFlipbook converts BunFlipbook to Flipbook
func (bf *BunFlipbook) ToFlipbook() (*Flipbook, error) {
	parsedULID, err := ulid.Parse(bf.ID)
	if err != nil {
		return nil, err
	}

	fb := &Flipbook{
		ID:          parsedULID,
		Title:       bf.Title,
		Description: bf.Description,
		IsPublic:    bf.IsPublic,
		PageCount:   bf.PageCount,
		CoverPage:   bf.CoverPage,
		AspectRatio: bf.AspectRatio,
		Overlays:    bf.Overlays,
		TOC:         bf.TOC,
		Views:       bf.Views,
		SourceName:  bf.SourceName,
		SourceHash:  bf.SourceHash,
		SourceSize:  bf.SourceSize,
		SourcePath:  bf.SourcePath,
		Thumbnail:   bf.Thumbnail,
		CreatedAt:   bf.CreatedAt,
		UpdatedAt:   bf.UpdatedAt,
	}
	if fb.Overlays == nil {
		fb.Overlays = []overlay.Overlay{}
	}
	if fb.TOC == nil {
		fb.TOC = []TOCEntry{}
	}
	return fb, nil
}

// FromFlipbook converts Flipbook to BunFlipbook. Pages are stored separately.
func FromFlipbook(fb *Flipbook) *BunFlipbook {
	overlays := fb.Overlays
	if overlays == nil {
		overlays = []overlay.Overlay{}
	}
	toc := fb.TOC
	if toc == nil {
		toc = []TOCEntry{}
	}
	return &BunFlipbook{
		ID:          fb.ID.String(),
		Title:       fb.Title,
		Description: fb.Description,
		IsPublic:    fb.IsPublic,
		PageCount:   fb.PageCount,
		CoverPage:   fb.CoverPage,
		AspectRatio: fb.AspectRatio,
		Overlays:    overlays,
		TOC:         toc,
		Views:       fb.Views,
		SourceName:  fb.SourceName,
		SourceHash:  fb.SourceHash,
		SourceSize:  fb.SourceSize,
		SourcePath:  fb.SourcePath,
		Thumbnail:   fb.Thumbnail,
		CreatedAt:   fb.CreatedAt,
		UpdatedAt:   fb.UpdatedAt,
	}
}

// BunPage represents the flipbook_pages table for Bun ORM
type BunPage struct {
	bun.BaseModel `bun:"table:flipbook_pages,alias:p"`

	FlipbookID  string `bun:"flipbook_id,pk"`
	PageIndex   int    `bun:"page_index,pk"`
	Width       int    `bun:"width,notnull"`
	Height      int    `bun:"height,notnull"`
	ContentType string `bun:"content_type,notnull"`
	Data        []byte `bun:"data,notnull"`
}

// ToPageImage converts BunPage to PageImage
func (bp *BunPage) ToPageImage() PageImage {
	return PageImage{
		Index:       bp.PageIndex,
		Width:       bp.Width,
		Height:      bp.Height,
		ContentType: bp.ContentType,
		Data:        bp.Data,
	}
}

// BunJob represents the jobs table for Bun ORM
type BunJob struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID          string     `bun:"id,pk"` // ULID as string
	Type        string     `bun:"type,notnull"`
	Status      string     `bun:"status,default:'pending'"`
	Progress    int        `bun:"progress,default:0"`
	CurrentStep string     `bun:"current_step,default:''"`
	Message     string     `bun:"message,default:''"`
	Error       string     `bun:"error,nullzero"`
	Result      string     `bun:"result,nullzero"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	StartedAt   *time.Time `bun:"started_at,nullzero"`
	CompletedAt *time.Time `bun:"completed_at,nullzero"`
}

// ToJob converts BunJob to Job
func (bj *BunJob) ToJob() (*Job, error) {
	parsedULID, err := ulid.Parse(bj.ID)
	if err != nil {
		return nil, err
	}

	return &Job{
		ID:          parsedULID,
		Type:        JobType(bj.Type),
		Status:      JobStatus(bj.Status),
		Progress:    bj.Progress,
		CurrentStep: bj.CurrentStep,
		Message:     bj.Message,
		Error:       bj.Error,
		Result:      bj.Result,
		CreatedAt:   bj.CreatedAt,
		UpdatedAt:   bj.UpdatedAt,
		StartedAt:   bj.StartedAt,
		CompletedAt: bj.CompletedAt,
	}, nil
}

// FromJob converts Job to BunJob
func FromJob(job *Job) *BunJob {
	return &BunJob{
		ID:          job.ID.String(),
		Type:        string(job.Type),
		Status:      string(job.Status),
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Message:     job.Message,
		Error:       job.Error,
		Result:      job.Result,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

// BunSchemaMigration records applied schema versions
type BunSchemaMigration struct {
	bun.BaseModel `bun:"table:bun_schema_migrations,alias:m"`

	Version   string    `bun:"version,pk"`
	Name      string    `bun:"name,notnull"`
	AppliedAt time.Time `bun:"applied_at,notnull,default:current_timestamp"`
}
