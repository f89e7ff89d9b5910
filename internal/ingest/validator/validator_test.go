package validator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/offsetsdb/offsetsdb/internal/ingest/domain"
	projectrepository "github.com/offsetsdb/offsetsdb/internal/project/repository"
	"go.uber.org/zap"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec(`CREATE TABLE projects (
		project_id TEXT PRIMARY KEY,
		registry TEXT NOT NULL,
		name TEXT,
		proponent TEXT,
		protocol TEXT,
		category TEXT,
		status TEXT,
		country TEXT,
		listed_at TIMESTAMP,
		is_compliance BOOLEAN,
		retired BIGINT NOT NULL DEFAULT 0,
		issued BIGINT NOT NULL DEFAULT 0,
		project_url TEXT,
		recorded_at TIMESTAMP NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create projects table: %v", err)
	}

	return db
}

func newTestValidator(t *testing.T) (*Validator, *gorm.DB) {
	t.Helper()
	db := setupDB(t)
	return New(db, projectrepository.Provide(), zap.NewNop()), db
}

func writeFile(t *testing.T, category domain.FileCategory, content string) domain.LocalFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), string(category)+".csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return domain.LocalFile{
		Entry: domain.Entry{URL: path, Category: category},
		Path:  path,
	}
}

func localManifest(files ...domain.LocalFile) *domain.LocalManifest {
	return &domain.LocalManifest{
		Manifest: domain.Manifest{CreatedAt: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)},
		Files:    files,
	}
}

const validProjects = `project_id,registry,name,proponent,protocol,category,status,country,listed_at,is_compliance,retired,issued,project_url
VCS1,verra,Forest One,Acme,vm0007;vm0010,forest,registered,BR,2020-01-15,false,100,500,https://example.org/vcs1
ACR2,american-carbon-registry,Grass Two,,acr-grass,grass,listed,US,,true,0,0,
`

const validCredits = `id,project_id,quantity,vintage,transaction_date,transaction_type,retirement_beneficiary
1,VCS1,100,2019,2021-06-01,issuance,
2,VCS1,40,2019,2022-02-11,retirement,Some Corp
3,ACR2,25,2020,,cancellation,
`

const validClips = `id,date,title,url,source,tags,notes,type,project_ids
10,2023-05-01,Offsets under scrutiny,https://news.example/1,example-news,investigation;forest,,article,VCS1;ACR2
11,,Registry update,,press,,quiet week,press-release,ACR2
`

func TestValidateAcceptsCleanManifest(t *testing.T) {
	v, _ := newTestValidator(t)

	dataset, err := v.Validate(context.Background(),
		localManifest(
			writeFile(t, domain.CategoryProjects, validProjects),
			writeFile(t, domain.CategoryCredits, validCredits),
			writeFile(t, domain.CategoryClips, validClips),
		))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	if len(dataset.Projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(dataset.Projects))
	}
	if len(dataset.Credits) != 3 {
		t.Fatalf("expected 3 credits, got %d", len(dataset.Credits))
	}
	if len(dataset.Clips) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(dataset.Clips))
	}
	if len(dataset.ClipProjects) != 3 {
		t.Fatalf("expected 3 clip links, got %d", len(dataset.ClipProjects))
	}
	if !dataset.Has(domain.CategoryProjects) || !dataset.Has(domain.CategoryCredits) {
		t.Fatalf("dataset missing categories: %v", dataset.Categories)
	}
	if dataset.RecordedAt.IsZero() {
		t.Fatalf("expected manifest timestamp on dataset")
	}

	first := dataset.Projects[0]
	if first.ProjectID != "VCS1" || len(first.Protocol) != 2 {
		t.Fatalf("unexpected first project: %+v", first)
	}
	if first.RecordedAt != dataset.RecordedAt {
		t.Fatalf("rows must carry the manifest timestamp")
	}
}

func TestValidateRejectsOrphanCredit(t *testing.T) {
	v, _ := newTestValidator(t)

	credits := `id,project_id,quantity,vintage,transaction_date,transaction_type,retirement_beneficiary
1,GONE99,100,2019,,issuance,
`
	_, err := v.Validate(context.Background(),
		localManifest(
			writeFile(t, domain.CategoryProjects, validProjects),
			writeFile(t, domain.CategoryCredits, credits),
		))

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Category != domain.CategoryCredits {
		t.Fatalf("expected credits violation, got %s", verr.Category)
	}
}

func TestValidateClosesAgainstLiveTable(t *testing.T) {
	v, db := newTestValidator(t)

	if err := db.Exec(
		`INSERT INTO projects (project_id, registry, recorded_at) VALUES (?, ?, ?)`,
		"VCS1", "verra", time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}

	credits := `id,project_id,quantity,transaction_type
1,VCS1,100,issuance
`
	dataset, err := v.Validate(context.Background(),
		localManifest(writeFile(t, domain.CategoryCredits, credits)))
	if err != nil {
		t.Fatalf("validate against live table: %v", err)
	}
	if len(dataset.Credits) != 1 {
		t.Fatalf("expected 1 credit, got %d", len(dataset.Credits))
	}
	if dataset.Has(domain.CategoryProjects) {
		t.Fatalf("dataset should not carry a projects category")
	}
}

func TestValidateRejectsDuplicatePrimaryKeys(t *testing.T) {
	v, _ := newTestValidator(t)

	projects := `project_id,registry
VCS1,verra
VCS1,verra
`
	_, err := v.Validate(context.Background(),
		localManifest(writeFile(t, domain.CategoryProjects, projects)))

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestValidateRejectsNegativeQuantity(t *testing.T) {
	v, _ := newTestValidator(t)

	credits := `id,project_id,quantity,transaction_type
1,VCS1,-5,issuance
`
	_, err := v.Validate(context.Background(),
		localManifest(
			writeFile(t, domain.CategoryProjects, validProjects),
			writeFile(t, domain.CategoryCredits, credits),
		))

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestValidateRejectsUnknownTransactionType(t *testing.T) {
	v, _ := newTestValidator(t)

	credits := `id,project_id,quantity,transaction_type
1,VCS1,5,transfer
`
	_, err := v.Validate(context.Background(),
		localManifest(
			writeFile(t, domain.CategoryProjects, validProjects),
			writeFile(t, domain.CategoryCredits, credits),
		))

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestValidateRejectsMalformedVintage(t *testing.T) {
	v, _ := newTestValidator(t)

	credits := `id,project_id,quantity,vintage,transaction_type
1,VCS1,5,abc,issuance
`
	_, err := v.Validate(context.Background(),
		localManifest(
			writeFile(t, domain.CategoryProjects, validProjects),
			writeFile(t, domain.CategoryCredits, credits),
		))

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Violations[0].Field != "vintage" {
		t.Fatalf("expected a vintage violation, got %+v", verr.Violations[0])
	}
}

func TestValidateRejectsMissingRequiredColumns(t *testing.T) {
	v, _ := newTestValidator(t)

	projects := `name,country
Forest One,BR
`
	_, err := v.Validate(context.Background(),
		localManifest(writeFile(t, domain.CategoryProjects, projects)))

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Total < 2 {
		t.Fatalf("expected violations for both missing columns, got %d", verr.Total)
	}
}

func TestValidationErrorSamplesViolations(t *testing.T) {
	v, _ := newTestValidator(t)

	content := "project_id,registry\n"
	for i := 0; i < domain.MaxViolationSample+5; i++ {
		content += ",verra\n" // empty project_id
	}

	_, err := v.Validate(context.Background(),
		localManifest(writeFile(t, domain.CategoryProjects, content)))

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Total != domain.MaxViolationSample+5 {
		t.Fatalf("expected total %d, got %d", domain.MaxViolationSample+5, verr.Total)
	}
	if len(verr.Violations) != domain.MaxViolationSample {
		t.Fatalf("expected %d sampled violations, got %d", domain.MaxViolationSample, len(verr.Violations))
	}
}
