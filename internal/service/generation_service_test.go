package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SmachnoBot/internal/guard"
	"github.com/digkill/SmachnoBot/internal/kie"
	"github.com/digkill/SmachnoBot/internal/models"
)

type fakeDescriber struct {
	describeErr error
}

func (d *fakeDescriber) DescribePhoto(_ context.Context, url string) (string, error) {
	if d.describeErr != nil {
		return "", d.describeErr
	}
	return "торт з " + url, nil
}

func (d *fakeDescriber) WriteCaption(_ context.Context, description string) (string, error) {
	return "#" + description, nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []kie.DessertOptions
	fail  map[int]bool
	block chan struct{}
}

func (g *fakeGenerator) GenerateDessert(ctx context.Context, opts kie.DessertOptions) (*kie.Image, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	g.calls = append(g.calls, opts)
	g.mu.Unlock()
	if g.fail[opts.Variant] {
		return nil, errors.New("generator failed")
	}
	return &kie.Image{URL: fmt.Sprintf("https://kie/%d.png", opts.Variant)}, nil
}

type fakeImages struct{}

func (fakeImages) UploadFromURL(_ context.Context, folder, sourceURL string) (string, error) {
	return "https://cdn/" + folder + "/" + sourceURL[len(sourceURL)-5:], nil
}

func newGenerationFixture(t *testing.T, gen *fakeGenerator, describer *fakeDescriber) (*fixture, *GenerationService) {
	t.Helper()
	f := newFixture(t)
	g := guard.New(time.Minute)
	svc := NewGenerationService(f.store, f.entitlements, g, describer, gen, fakeImages{}, discardLogger(), WithClock(f.clock.Now), WithMetrics(f.metrics))
	return f, svc
}

func TestGenerateChargesAndSavesCreatives(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	_, svc := newGenerationFixture(t, gen, &fakeDescriber{})

	res, err := svc.Generate(ctx, GenerationRequest{TelegramID: 42, PhotoURL: "https://t.me/file/photo.jpg", Style: models.StyleCozy, Wishes: "more berries"})
	require.NoError(t, err)
	assert.Equal(t, models.CostTypeFree, res.Cost)
	assert.Equal(t, 1, res.Remaining.FreeRemaining)
	assert.Equal(t, []string{"https://cdn/generated/0.png", "https://cdn/generated/1.png"}, res.Images)
	assert.Equal(t, "#торт з https://cdn/originals/o.jpg", res.Caption)

	require.Len(t, gen.calls, 2)
	assert.Equal(t, "https://cdn/originals/o.jpg", gen.calls[0].InputURL)
	assert.Equal(t, models.StyleCozy, gen.calls[1].Style)
	assert.Equal(t, "more berries", gen.calls[1].Wishes)

	history, err := svc.History(ctx, 42, 5)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	last, err := svc.LastOriginal(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/originals/o.jpg", last)
}

func TestGenerateStopsWithoutCredits(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	_, svc := newGenerationFixture(t, gen, &fakeDescriber{})

	for i := 0; i < 2; i++ {
		_, err := svc.Generate(ctx, GenerationRequest{TelegramID: 42, PhotoURL: "https://t.me/file/photo.jpg"})
		require.NoError(t, err)
	}
	gen.calls = nil

	_, err := svc.Generate(ctx, GenerationRequest{TelegramID: 42, PhotoURL: "https://t.me/file/photo.jpg"})
	require.ErrorIs(t, err, ErrNoCredits)
	assert.Empty(t, gen.calls, "pipeline must not run without a charge")
}

func TestGenerateUsesFallbacksAndPartialResults(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{fail: map[int]bool{1: true}}
	_, svc := newGenerationFixture(t, gen, &fakeDescriber{describeErr: errors.New("vision down")})

	res, err := svc.Generate(ctx, GenerationRequest{TelegramID: 42, PhotoURL: "https://t.me/file/photo.jpg"})
	require.NoError(t, err)
	assert.Len(t, res.Images, 1)
	assert.Equal(t, fallbackDescription, gen.calls[0].Description)
}

func TestGenerateFailsWhenNothingIsProduced(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{fail: map[int]bool{0: true, 1: true}}
	f, svc := newGenerationFixture(t, gen, &fakeDescriber{})

	_, err := svc.Generate(ctx, GenerationRequest{TelegramID: 42, PhotoURL: "https://t.me/file/photo.jpg"})
	require.ErrorIs(t, err, ErrNoImages)

	free, err := f.entitlements.AvailableFree(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, free, "the charge stands once the pipeline started")
}

func TestGuardReleasedBeforePipeline(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{block: make(chan struct{})}
	_, svc := newGenerationFixture(t, gen, &fakeDescriber{})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(ctx, GenerationRequest{TelegramID: 42, PhotoURL: "https://t.me/file/photo.jpg"})
		done <- err
	}()

	require.Eventually(t, func() bool {
		free, err := svc.entitlements.AvailableFree(ctx, 42)
		return err == nil && free == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, svc.guard.Held(42), "guard must not be held while the pipeline runs")

	close(gen.block)
	require.NoError(t, <-done)
}

func TestGenerateRefusesWhileChargeInProgress(t *testing.T) {
	ctx := context.Background()
	f, svc := newGenerationFixture(t, &fakeGenerator{}, &fakeDescriber{})

	release, ok := svc.guard.TryAcquire(42)
	require.True(t, ok)
	defer release()

	_, err := svc.Generate(ctx, GenerationRequest{TelegramID: 42, PhotoURL: "https://t.me/file/photo.jpg"})
	require.ErrorIs(t, err, ErrGenerationInProgress)
	assert.Equal(t, 1.0, f.counter(t, "smachno_generation_guard_busy_total", nil))
}
