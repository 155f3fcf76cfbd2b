package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/digkill/SmachnoBot/internal/guard"
	"github.com/digkill/SmachnoBot/internal/kie"
	"github.com/digkill/SmachnoBot/internal/models"
	"github.com/digkill/SmachnoBot/internal/repository"
)

const (
	defaultVariants = 2
	maxVariants     = 2

	fallbackDescription = "Фото виробу для Instagram-посту"
	fallbackCaption     = "Смачний виріб від нашої пекарні! 🍰✨ #пекарня #десерт #солодкещастя"

	folderOriginals = "originals"
	folderGenerated = "generated"
)

var ErrNoImages = errors.New("no images generated")

type PhotoDescriber interface {
	DescribePhoto(ctx context.Context, imageURL string) (string, error)
	WriteCaption(ctx context.Context, description string) (string, error)
}

type ImageGenerator interface {
	GenerateDessert(ctx context.Context, opts kie.DessertOptions) (*kie.Image, error)
}

type ImageStore interface {
	UploadFromURL(ctx context.Context, folder, sourceURL string) (string, error)
}

type GenerationService struct {
	store        *repository.Store
	entitlements *EntitlementService
	guard        *guard.Guard
	describer    PhotoDescriber
	generator    ImageGenerator
	images       ImageStore
	log          *slog.Logger
	opts         options
}

func NewGenerationService(store *repository.Store, entitlements *EntitlementService, g *guard.Guard, describer PhotoDescriber, generator ImageGenerator, images ImageStore, log *slog.Logger, opts ...Option) *GenerationService {
	return &GenerationService{
		store:        store,
		entitlements: entitlements,
		guard:        g,
		describer:    describer,
		generator:    generator,
		images:       images,
		log:          log,
		opts:         newOptions(opts),
	}
}

type GenerationRequest struct {
	TelegramID int64
	PhotoURL   string
	Style      models.Style
	Wishes     string
	Variants   int
}

type GenerationResult struct {
	Images    []string
	Caption   string
	Cost      models.CostType
	Remaining Snapshot
}

// Generate charges one generation and then runs the creative pipeline. The
// per-user guard covers only the charge; the pipeline runs unguarded.
func (s *GenerationService) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if req.PhotoURL == "" {
		return nil, fmt.Errorf("photo url cannot be empty")
	}
	if req.Variants <= 0 || req.Variants > maxVariants {
		req.Variants = defaultVariants
	}

	cost, remaining, err := s.charge(ctx, req.TelegramID)
	if err != nil {
		return nil, err
	}

	original := s.persist(ctx, folderOriginals, req.PhotoURL)
	description := s.describe(ctx, original)

	var images []string
	for i := 0; i < req.Variants; i++ {
		img, err := s.generator.GenerateDessert(ctx, kie.DessertOptions{
			Description: description,
			Style:       req.Style,
			Wishes:      req.Wishes,
			InputURL:    original,
			Variant:     i,
		})
		if err != nil {
			s.log.Error("generate variant", "telegram_id", req.TelegramID, "variant", i+1, "err", err)
			continue
		}
		images = append(images, s.persist(ctx, folderGenerated, img.URL))
	}
	if len(images) == 0 {
		s.log.Error("generation produced nothing after charge", "telegram_id", req.TelegramID, "cost", cost)
		return nil, ErrNoImages
	}

	caption := s.caption(ctx, description)
	s.saveCreatives(ctx, req.TelegramID, original, description, caption, images)

	return &GenerationResult{
		Images:    images,
		Caption:   caption,
		Cost:      cost,
		Remaining: remaining,
	}, nil
}

func (s *GenerationService) charge(ctx context.Context, telegramID int64) (models.CostType, Snapshot, error) {
	release, ok := s.guard.TryAcquire(telegramID)
	if !ok {
		s.opts.metrics.GuardBusy()
		return "", Snapshot{}, ErrGenerationInProgress
	}
	defer release()
	return s.entitlements.ConsumeOne(ctx, telegramID)
}

// persist copies a remote image into object storage. The source URL is kept
// when storage is not configured or the copy fails.
func (s *GenerationService) persist(ctx context.Context, folder, sourceURL string) string {
	if s.images == nil {
		return sourceURL
	}
	stored, err := s.images.UploadFromURL(ctx, folder, sourceURL)
	if err != nil {
		s.log.Warn("store image failed, keeping source url", "folder", folder, "err", err)
		return sourceURL
	}
	return stored
}

func (s *GenerationService) describe(ctx context.Context, imageURL string) string {
	text, err := s.describer.DescribePhoto(ctx, imageURL)
	if err != nil {
		s.log.Warn("describe photo failed", "err", err)
		return fallbackDescription
	}
	return text
}

func (s *GenerationService) caption(ctx context.Context, description string) string {
	text, err := s.describer.WriteCaption(ctx, description)
	if err != nil {
		s.log.Warn("write caption failed", "err", err)
		return fallbackCaption
	}
	return text
}

func (s *GenerationService) saveCreatives(ctx context.Context, telegramID int64, original, description, caption string, images []string) {
	user, err := s.store.Users().FindByTelegramID(ctx, telegramID)
	if err != nil || user == nil {
		s.log.Error("resolve user for creatives", "telegram_id", telegramID, "err", err)
		return
	}
	now := s.opts.now().UTC()
	for _, img := range images {
		c := &models.Creative{
			UserID:            user.ID,
			OriginalPhotoURL:  original,
			Prompt:            description,
			GeneratedImageURL: img,
			Caption:           caption,
		}
		if err := s.store.Creatives().Save(ctx, c, now); err != nil {
			s.log.Error("save creative", "telegram_id", telegramID, "err", err)
		}
	}
}

// History returns the newest creatives of a user.
func (s *GenerationService) History(ctx context.Context, telegramID int64, limit int) ([]models.Creative, error) {
	if limit <= 0 {
		limit = 5
	}
	user, err := s.store.Users().FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, nil
	}
	creatives, err := s.store.Creatives().ListRecent(ctx, user.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list creatives: %w", err)
	}
	return creatives, nil
}

// LastOriginal returns the original photo of the newest creative, or "".
func (s *GenerationService) LastOriginal(ctx context.Context, telegramID int64) (string, error) {
	creatives, err := s.History(ctx, telegramID, 1)
	if err != nil || len(creatives) == 0 {
		return "", err
	}
	return creatives[0].OriginalPhotoURL, nil
}
