package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"sermonflow/pkg/domain"
)

const migrateLockID int64 = 51820417

// activeAssetIndexSQL backs InsertGenerationRequestIfAbsent: at most one
// processing row per (sermon, type).
const activeAssetIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS assets_one_processing_idx
	ON assets (sermon_id, type) WHERE status = 'processing'`

type GormStoreOptions struct {
	LogLevel      gormlogger.LogLevel
	SlowThreshold time.Duration
}

type GormStoreOption func(*GormStoreOptions)

// WithLogLevel overrides the GORM logger level (default Warn).
func WithLogLevel(level gormlogger.LogLevel) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.LogLevel = level
	}
}

// WithSlowThreshold sets the duration above which queries are logged as slow.
func WithSlowThreshold(d time.Duration) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.SlowThreshold = d
	}
}

// GormStore implements Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the Postgres database and runs migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	return OpenGormStore(postgres.Open(dsn), options...)
}

// OpenGormStore runs migrations against any GORM dialector. Postgres migrations
// are serialized across replicas with an advisory lock.
func OpenGormStore(dialector gorm.Dialector, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{
		LogLevel:      gormlogger.Warn,
		SlowThreshold: time.Second,
	}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&OnboardingRequestModel{}, &ChurchModel{}, &SermonModel{}, &AssetModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(activeAssetIndexSQL).Error; err != nil {
			return fmt.Errorf("ensure active asset index: %w", err)
		}
		return nil
	}
	if db.Dialector.Name() == "postgres" {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertOnboardingRequest stores a new onboarding request.
func (s *GormStore) InsertOnboardingRequest(ctx context.Context, req domain.OnboardingRequest) error {
	model, err := onboardingToModel(req)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetOnboardingRequest looks up a request by ID.
func (s *GormStore) GetOnboardingRequest(ctx context.Context, id string) (domain.OnboardingRequest, bool, error) {
	var model OnboardingRequestModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.OnboardingRequest{}, false, nil
		}
		return domain.OnboardingRequest{}, false, err
	}
	return onboardingFromModel(model), true, nil
}

// ListOnboardingRequests returns requests oldest first; an empty status lists all.
func (s *GormStore) ListOnboardingRequests(ctx context.Context, status domain.OnboardingStatus) ([]domain.OnboardingRequest, error) {
	var models []OnboardingRequestModel
	tx := s.db.WithContext(ctx).Order("created_at ASC")
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.OnboardingRequest, 0, len(models))
	for _, m := range models {
		res = append(res, onboardingFromModel(m))
	}
	return res, nil
}

// UpdateOnboardingStatus sets the request status.
func (s *GormStore) UpdateOnboardingStatus(ctx context.Context, id string, status domain.OnboardingStatus) error {
	res := s.db.WithContext(ctx).Model(&OnboardingRequestModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertProfile creates the church row; the unique request_id index makes a
// second activation of the same request a no-op reported as ErrProfileExists.
func (s *GormStore) InsertProfile(ctx context.Context, profile domain.Profile) error {
	model, err := profileToModel(profile)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProfileExists
	}
	return nil
}

// GetProfile retrieves a church by ID.
func (s *GormStore) GetProfile(ctx context.Context, id string) (domain.Profile, bool, error) {
	return s.firstProfile(ctx, "id = ?", id)
}

// GetProfileByOwner retrieves the oldest church owned by the user.
func (s *GormStore) GetProfileByOwner(ctx context.Context, ownerID string) (domain.Profile, bool, error) {
	return s.firstProfile(ctx, "owner_id = ?", ownerID)
}

func (s *GormStore) firstProfile(ctx context.Context, query string, args ...any) (domain.Profile, bool, error) {
	var model ChurchModel
	if err := s.db.WithContext(ctx).Where(query, args...).Order("created_at ASC").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	profile, err := profileFromModel(model)
	if err != nil {
		return domain.Profile{}, false, err
	}
	return profile, true, nil
}

// SaveSourceDocument stores a sermon.
func (s *GormStore) SaveSourceDocument(ctx context.Context, doc domain.SourceDocument) error {
	model := sermonToModel(doc)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetSourceDocument retrieves a sermon.
func (s *GormStore) GetSourceDocument(ctx context.Context, id string) (domain.SourceDocument, bool, error) {
	var model SermonModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.SourceDocument{}, false, nil
		}
		return domain.SourceDocument{}, false, err
	}
	return sermonFromModel(model), true, nil
}

// ListSourceDocuments returns a church's sermons, newest first.
func (s *GormStore) ListSourceDocuments(ctx context.Context, profileID string) ([]domain.SourceDocument, error) {
	var models []SermonModel
	if err := s.db.WithContext(ctx).Where("church_id = ?", profileID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.SourceDocument, 0, len(models))
	for _, m := range models {
		res = append(res, sermonFromModel(m))
	}
	return res, nil
}

// InsertGenerationRequestIfAbsent relies on assets_one_processing_idx: the
// insert is skipped by the database when a processing row already exists.
func (s *GormStore) InsertGenerationRequestIfAbsent(ctx context.Context, req domain.GenerationRequest) error {
	if req.Status != domain.GenerationProcessing {
		return fmt.Errorf("new generation request must be processing, got %q", req.Status)
	}
	model := generationToModel(req)
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sermon_id"}, {Name: "type"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "status = 'processing'"},
		}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAlreadyProcessing
	}
	return nil
}

// GetGenerationRequest retrieves an asset row.
func (s *GormStore) GetGenerationRequest(ctx context.Context, id string) (domain.GenerationRequest, bool, error) {
	var model AssetModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.GenerationRequest{}, false, nil
		}
		return domain.GenerationRequest{}, false, err
	}
	return generationFromModel(model), true, nil
}

// ListGenerationRequests returns a sermon's assets, newest first.
func (s *GormStore) ListGenerationRequests(ctx context.Context, sourceDocumentID string) ([]domain.GenerationRequest, error) {
	var models []AssetModel
	if err := s.db.WithContext(ctx).Where("sermon_id = ?", sourceDocumentID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.GenerationRequest, 0, len(models))
	for _, m := range models {
		res = append(res, generationFromModel(m))
	}
	return res, nil
}

// CompleteGenerationRequest marks a processing row completed.
func (s *GormStore) CompleteGenerationRequest(ctx context.Context, id, resultKey string) error {
	return s.finishGeneration(ctx, id, map[string]any{
		"status":        string(domain.GenerationCompleted),
		"result_key":    resultKey,
		"error_message": "",
		"updated_at":    time.Now().UTC(),
	})
}

// FailGenerationRequest marks a processing row failed.
func (s *GormStore) FailGenerationRequest(ctx context.Context, id, errMsg string) error {
	return s.finishGeneration(ctx, id, map[string]any{
		"status":        string(domain.GenerationFailed),
		"error_message": errMsg,
		"updated_at":    time.Now().UTC(),
	})
}

func (s *GormStore) finishGeneration(ctx context.Context, id string, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&AssetModel{}).
		Where("id = ? AND status = ?", id, string(domain.GenerationProcessing)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&AssetModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrNotProcessing
}

func onboardingToModel(r domain.OnboardingRequest) (OnboardingRequestModel, error) {
	links := r.SocialLinks
	if links == nil {
		links = map[string]string{}
	}
	raw, err := json.Marshal(links)
	if err != nil {
		return OnboardingRequestModel{}, fmt.Errorf("encode social links: %w", err)
	}
	return OnboardingRequestModel{
		ID:           r.ID,
		UserID:       r.UserID,
		ChurchName:   r.ChurchName,
		Website:      r.Website,
		Denomination: r.Denomination,
		SocialLinks:  datatypes.JSON(raw),
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func onboardingFromModel(m OnboardingRequestModel) domain.OnboardingRequest {
	links := map[string]string{}
	if len(m.SocialLinks) > 0 {
		_ = json.Unmarshal(m.SocialLinks, &links)
	}
	return domain.OnboardingRequest{
		ID:           m.ID,
		UserID:       m.UserID,
		ChurchName:   m.ChurchName,
		Website:      m.Website,
		Denomination: m.Denomination,
		SocialLinks:  links,
		Status:       domain.OnboardingStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func profileToModel(p domain.Profile) (ChurchModel, error) {
	research, err := json.Marshal(researchProfileDoc{
		ChurchName:     p.Name,
		Theology:       p.Research.Theology,
		VoiceTone:      nonNil(p.Research.VoiceTone),
		InsiderLexicon: nonNil(p.Research.InsiderLexicon),
		Slogan:         p.Research.Slogan,
	})
	if err != nil {
		return ChurchModel{}, fmt.Errorf("encode research profile: %w", err)
	}
	branding := p.BrandingAssets
	if len(branding) == 0 {
		branding = json.RawMessage("{}")
	}
	return ChurchModel{
		ID:                  p.ID,
		RequestID:           p.RequestID,
		OwnerID:             p.OwnerID,
		Name:                p.Name,
		DeepResearchProfile: datatypes.JSON(research),
		BrandingAssets:      datatypes.JSON(branding),
		CreatedAt:           p.CreatedAt,
	}, nil
}

func profileFromModel(m ChurchModel) (domain.Profile, error) {
	var doc researchProfileDoc
	if len(m.DeepResearchProfile) > 0 {
		if err := json.Unmarshal(m.DeepResearchProfile, &doc); err != nil {
			return domain.Profile{}, fmt.Errorf("decode research profile for church %s: %w", m.ID, err)
		}
	}
	return domain.Profile{
		ID:        m.ID,
		RequestID: m.RequestID,
		OwnerID:   m.OwnerID,
		Name:      m.Name,
		Research: domain.ResearchProfile{
			Theology:       doc.Theology,
			VoiceTone:      nonNil(doc.VoiceTone),
			InsiderLexicon: nonNil(doc.InsiderLexicon),
			Slogan:         doc.Slogan,
		},
		BrandingAssets: json.RawMessage(m.BrandingAssets),
		CreatedAt:      m.CreatedAt,
	}, nil
}

func sermonToModel(d domain.SourceDocument) SermonModel {
	return SermonModel{
		ID:         d.ID,
		ChurchID:   d.ProfileID,
		OwnerID:    d.OwnerID,
		Title:      d.Title,
		Transcript: d.Transcript,
		CreatedAt:  d.CreatedAt,
	}
}

func sermonFromModel(m SermonModel) domain.SourceDocument {
	return domain.SourceDocument{
		ID:         m.ID,
		ProfileID:  m.ChurchID,
		OwnerID:    m.OwnerID,
		Title:      m.Title,
		Transcript: m.Transcript,
		CreatedAt:  m.CreatedAt,
	}
}

func generationToModel(g domain.GenerationRequest) AssetModel {
	return AssetModel{
		ID:           g.ID,
		SermonID:     g.SourceDocumentID,
		Type:         string(g.AssetType),
		Status:       string(g.Status),
		ResultKey:    g.ResultKey,
		ErrorMessage: g.ErrorMessage,
		CreatedAt:    g.CreatedAt,
		UpdatedAt:    g.UpdatedAt,
	}
}

func generationFromModel(m AssetModel) domain.GenerationRequest {
	return domain.GenerationRequest{
		ID:               m.ID,
		SourceDocumentID: m.SermonID,
		AssetType:        domain.AssetType(m.Type),
		Status:           domain.GenerationStatus(m.Status),
		ResultKey:        m.ResultKey,
		ErrorMessage:     m.ErrorMessage,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
