package validator

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	clipdomain "github.com/offsetsdb/offsetsdb/internal/clip/domain"
	creditdomain "github.com/offsetsdb/offsetsdb/internal/credit/domain"
	"github.com/offsetsdb/offsetsdb/internal/ingest/domain"
	projectdomain "github.com/offsetsdb/offsetsdb/internal/project/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Validator checks structural integrity, key uniqueness, referential
// closure and value sanity of fetched files before they may touch the
// live database. Any violation rejects the whole run; there is no
// partial acceptance.
type Validator struct {
	db          *gorm.DB
	projectRepo projectdomain.Repository
	log         *zap.Logger
}

func New(db *gorm.DB, projectRepo projectdomain.Repository, log *zap.Logger) *Validator {
	return &Validator{
		db:          db,
		projectRepo: projectRepo,
		log:         log.Named("ingest.validator"),
	}
}

var (
	projectColumns = []string{"project_id", "registry"}
	creditColumns  = []string{"id", "project_id", "quantity", "transaction_type"}
	clipColumns    = []string{"id", "project_ids"}
)

const (
	minVintage = 1950
	maxVintage = 2100
)

// Validate parses every local file and returns the typed dataset, or
// the first ValidationError encountered.
func (v *Validator) Validate(ctx context.Context, local *domain.LocalManifest) (*domain.Dataset, error) {
	recordedAt := local.CreatedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}

	dataset := &domain.Dataset{
		Declared:   make(map[domain.FileCategory]int64),
		RecordedAt: recordedAt,
	}

	// Projects first so credit and clip references can close against
	// the accompanying snapshot.
	for _, file := range local.Files {
		if file.Category != domain.CategoryProjects {
			continue
		}
		if err := v.validateProjects(file, dataset); err != nil {
			return nil, err
		}
	}
	for _, file := range local.Files {
		switch file.Category {
		case domain.CategoryProjects:
			// already handled
		case domain.CategoryCredits:
			if err := v.validateCredits(ctx, file, dataset); err != nil {
				return nil, err
			}
		case domain.CategoryClips:
			if err := v.validateClips(ctx, file, dataset); err != nil {
				return nil, err
			}
		default:
			verr := &domain.ValidationError{Category: file.Category}
			verr.Add(0, "category", fmt.Sprintf("unknown category %q", file.Category))
			return nil, verr
		}
	}

	v.log.Info("validation passed",
		zap.Int("projects", len(dataset.Projects)),
		zap.Int("credits", len(dataset.Credits)),
		zap.Int("clips", len(dataset.Clips)),
	)
	return dataset, nil
}

func (v *Validator) validateProjects(file domain.LocalFile, dataset *domain.Dataset) error {
	header, rows, err := readCSV(file)
	if err != nil {
		return err
	}

	verr := &domain.ValidationError{Category: domain.CategoryProjects}
	requireColumns(header, projectColumns, verr)
	if !verr.Empty() {
		return verr
	}

	seen := make(map[string]struct{}, len(rows))
	projects := make([]projectdomain.Project, 0, len(rows))
	for i, row := range rows {
		line := i + 2 // header is line 1
		get := fieldGetter(header, row)

		projectID := strings.TrimSpace(get("project_id"))
		if projectID == "" {
			verr.Add(line, "project_id", "empty project id")
			continue
		}
		if _, dup := seen[projectID]; dup {
			verr.Add(line, "project_id", fmt.Sprintf("duplicate project id %s", projectID))
			continue
		}
		seen[projectID] = struct{}{}

		registry := strings.TrimSpace(get("registry"))
		if registry == "" {
			verr.Add(line, "registry", "empty registry")
			continue
		}

		retired, ok := parseNonNegative(get("retired"))
		if !ok {
			verr.Add(line, "retired", fmt.Sprintf("negative or malformed value %q", get("retired")))
			continue
		}
		issued, ok := parseNonNegative(get("issued"))
		if !ok {
			verr.Add(line, "issued", fmt.Sprintf("negative or malformed value %q", get("issued")))
			continue
		}

		projects = append(projects, projectdomain.Project{
			ProjectID:    projectID,
			Registry:     registry,
			Name:         optString(get("name")),
			Proponent:    optString(get("proponent")),
			Protocol:     splitList(get("protocol")),
			Category:     splitList(get("category")),
			Status:       optString(get("status")),
			Country:      optString(get("country")),
			ListedAt:     parseDate(get("listed_at")),
			IsCompliance: parseBool(get("is_compliance")),
			Retired:      retired,
			Issued:       issued,
			ProjectURL:   optString(get("project_url")),
			RecordedAt:   dataset.RecordedAt,
		})
	}

	if !verr.Empty() {
		return verr
	}

	dataset.Projects = projects
	dataset.Categories = append(dataset.Categories, domain.CategoryProjects)
	dataset.Declared[domain.CategoryProjects] = declaredOr(file.RowCount, int64(len(projects)))
	return nil
}

func (v *Validator) validateCredits(ctx context.Context, file domain.LocalFile, dataset *domain.Dataset) error {
	header, rows, err := readCSV(file)
	if err != nil {
		return err
	}

	verr := &domain.ValidationError{Category: domain.CategoryCredits}
	requireColumns(header, creditColumns, verr)
	if !verr.Empty() {
		return verr
	}

	known, err := v.knownProjectIDs(ctx, dataset, header, rows)
	if err != nil {
		return err
	}

	seen := make(map[int64]struct{}, len(rows))
	credits := make([]creditdomain.Credit, 0, len(rows))
	for i, row := range rows {
		line := i + 2
		get := fieldGetter(header, row)

		id, err := strconv.ParseInt(strings.TrimSpace(get("id")), 10, 64)
		if err != nil {
			verr.Add(line, "id", fmt.Sprintf("malformed id %q", get("id")))
			continue
		}
		if _, dup := seen[id]; dup {
			verr.Add(line, "id", fmt.Sprintf("duplicate credit id %d", id))
			continue
		}
		seen[id] = struct{}{}

		projectID := strings.TrimSpace(get("project_id"))
		if projectID == "" {
			verr.Add(line, "project_id", "empty project reference")
			continue
		}
		if _, ok := known[projectID]; !ok {
			verr.Add(line, "project_id", fmt.Sprintf("credit %d references unknown project %s", id, projectID))
			continue
		}

		quantity, ok := parseNonNegative(get("quantity"))
		if !ok {
			verr.Add(line, "quantity", fmt.Sprintf("negative or malformed quantity %q", get("quantity")))
			continue
		}

		txType := strings.ToLower(strings.TrimSpace(get("transaction_type")))
		if !creditdomain.KnownTransactionType(txType) {
			verr.Add(line, "transaction_type", fmt.Sprintf("unknown transaction type %q", get("transaction_type")))
			continue
		}

		vintage, ok := parseOptionalInt(get("vintage"))
		if !ok {
			verr.Add(line, "vintage", fmt.Sprintf("malformed vintage %q", get("vintage")))
			continue
		}
		if vintage != nil && (*vintage < minVintage || *vintage > maxVintage) {
			verr.Add(line, "vintage", fmt.Sprintf("vintage %d out of range", *vintage))
			continue
		}

		credits = append(credits, creditdomain.Credit{
			ID:                    id,
			ProjectID:             projectID,
			Quantity:              quantity,
			Vintage:               vintage,
			TransactionDate:       parseDate(get("transaction_date")),
			TransactionType:       creditdomain.TransactionType(txType),
			RetirementBeneficiary: optString(get("retirement_beneficiary")),
			RecordedAt:            dataset.RecordedAt,
		})
	}

	if !verr.Empty() {
		return verr
	}

	dataset.Credits = credits
	dataset.Categories = append(dataset.Categories, domain.CategoryCredits)
	dataset.Declared[domain.CategoryCredits] = declaredOr(file.RowCount, int64(len(credits)))
	return nil
}

func (v *Validator) validateClips(ctx context.Context, file domain.LocalFile, dataset *domain.Dataset) error {
	header, rows, err := readCSV(file)
	if err != nil {
		return err
	}

	verr := &domain.ValidationError{Category: domain.CategoryClips}
	requireColumns(header, clipColumns, verr)
	if !verr.Empty() {
		return verr
	}

	known, err := v.knownProjectIDs(ctx, dataset, header, rows)
	if err != nil {
		return err
	}

	seen := make(map[int64]struct{}, len(rows))
	clips := make([]clipdomain.Clip, 0, len(rows))
	var links []clipdomain.ClipProject
	for i, row := range rows {
		line := i + 2
		get := fieldGetter(header, row)

		id, err := strconv.ParseInt(strings.TrimSpace(get("id")), 10, 64)
		if err != nil {
			verr.Add(line, "id", fmt.Sprintf("malformed id %q", get("id")))
			continue
		}
		if _, dup := seen[id]; dup {
			verr.Add(line, "id", fmt.Sprintf("duplicate clip id %d", id))
			continue
		}
		seen[id] = struct{}{}

		projectIDs := splitList(get("project_ids"))
		orphan := false
		for _, pid := range projectIDs {
			if _, ok := known[pid]; !ok {
				verr.Add(line, "project_ids", fmt.Sprintf("clip %d references unknown project %s", id, pid))
				orphan = true
				break
			}
		}
		if orphan {
			continue
		}

		clipType := strings.TrimSpace(get("type"))
		if clipType == "" {
			clipType = "unknown"
		}

		clips = append(clips, clipdomain.Clip{
			ID:         id,
			Date:       parseDate(get("date")),
			Title:      optString(get("title")),
			URL:        optString(get("url")),
			Source:     optString(get("source")),
			Tags:       splitList(get("tags")),
			Notes:      optString(get("notes")),
			Type:       clipType,
			RecordedAt: dataset.RecordedAt,
		})
		for _, pid := range projectIDs {
			links = append(links, clipdomain.ClipProject{
				ID:        int64(len(links) + 1),
				ClipID:    id,
				ProjectID: pid,
			})
		}
	}

	if !verr.Empty() {
		return verr
	}

	dataset.Clips = clips
	dataset.ClipProjects = links
	dataset.Categories = append(dataset.Categories, domain.CategoryClips)
	dataset.Declared[domain.CategoryClips] = declaredOr(file.RowCount, int64(len(clips)))
	return nil
}

// knownProjectIDs closes project references against the accompanying
// projects file when present, or the live table otherwise.
func (v *Validator) knownProjectIDs(ctx context.Context, dataset *domain.Dataset, header map[string]int, rows [][]string) (map[string]struct{}, error) {
	if dataset.Has(domain.CategoryProjects) {
		known := make(map[string]struct{}, len(dataset.Projects))
		for _, p := range dataset.Projects {
			known[p.ProjectID] = struct{}{}
		}
		return known, nil
	}

	referenced := make(map[string]struct{})
	for _, row := range rows {
		get := fieldGetter(header, row)
		if idx, ok := header["project_id"]; ok && idx < len(row) {
			if pid := strings.TrimSpace(get("project_id")); pid != "" {
				referenced[pid] = struct{}{}
			}
		}
		if idx, ok := header["project_ids"]; ok && idx < len(row) {
			for _, pid := range splitList(get("project_ids")) {
				referenced[pid] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(referenced))
	for pid := range referenced {
		ids = append(ids, pid)
	}
	return v.projectRepo.ExistingIDs(ctx, v.db, ids)
}

func readCSV(file domain.LocalFile) (map[string]int, [][]string, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open %s: %v", domain.ErrFetch, file.Path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	headerRow, err := reader.Read()
	if err != nil {
		verr := &domain.ValidationError{Category: file.Category}
		verr.Add(1, "", fmt.Sprintf("cannot read header: %v", err))
		return nil, nil, verr
	}

	header := make(map[string]int, len(headerRow))
	for i, name := range headerRow {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			verr := &domain.ValidationError{Category: file.Category}
			verr.Add(len(rows)+2, "", fmt.Sprintf("malformed row: %v", err))
			return nil, nil, verr
		}
		rows = append(rows, row)
	}

	return header, rows, nil
}

func requireColumns(header map[string]int, required []string, verr *domain.ValidationError) {
	for _, column := range required {
		if _, ok := header[column]; !ok {
			verr.Add(1, column, "required column missing")
		}
	}
}

func fieldGetter(header map[string]int, row []string) func(string) string {
	return func(name string) string {
		idx, ok := header[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}
}

// declaredOr prefers the manifest's declared row count, falling back
// to the parsed count when the manifest did not declare one.
func declaredOr(declared, parsed int64) int64 {
	if declared > 0 {
		return declared
	}
	return parsed
}

func optString(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return &raw
}

func splitList(raw string) datatypes.JSONSlice[string] {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return datatypes.NewJSONSlice(out)
}

func parseNonNegative(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

// parseOptionalInt distinguishes an absent value (nil, true) from a
// malformed one (nil, false).
func parseOptionalInt(raw string) (*int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, false
	}
	return &value, true
}

func parseBool(raw string) *bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "t", "1", "yes":
		value := true
		return &value
	case "false", "f", "0", "no":
		value := false
		return &value
	default:
		return nil
	}
}

var dateLayouts = []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"}

func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
