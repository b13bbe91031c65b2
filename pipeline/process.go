package pipeline

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/docutag/postscraper"
	"github.com/docutag/postscraper/categorize"
	"github.com/docutag/postscraper/models"
	"github.com/docutag/postscraper/slug"
	"github.com/docutag/postscraper/urlnorm"
)

// process drives one post through extracting -> analyzing -> completed | failed.
// Errors end up on the post; nothing is returned to the submitter.
func (s *Service) process(ctx context.Context, job Job) {
	ctx, span := tracer.Start(ctx, "pipeline.Process")
	defer span.End()
	span.SetAttributes(attribute.Int64("post.id", job.PostID), attribute.String("job.id", job.ID))

	logger := s.logger.With("post_id", job.PostID, "job_id", job.ID)
	logger.Debug("job started", "queued_for", time.Since(job.Enqueued))

	post, err := s.store.GetPost(ctx, job.PostID)
	if err != nil {
		logger.Warn("post is gone, skipping job", "error", err)
		return
	}
	if post.Status != models.StatusProcessing {
		logger.Info("post no longer pending, skipping job", "status", post.Status)
		return
	}

	// stage: extract
	if _, err := s.store.UpdatePost(ctx, post.ID, models.PostUpdate{Status: models.StatusPtr(models.StatusExtracting)}); err != nil {
		logger.Error("failed to mark post extracting", "stage", "extract", "error", err)
		return
	}

	target := post.URL
	if n, err := urlnorm.Normalize(post.URL); err == nil {
		target = n.URL
	}

	start := time.Now()
	extraction, err := s.extractor.Extract(ctx, target)
	if err != nil {
		s.metrics.ObserveStage("extract", "error", time.Since(start))
		if ctx.Err() != nil {
			logger.Warn("extraction cancelled, leaving post for recovery", "stage", "extract", "error", err)
			return
		}
		kind := postscraper.KindOf(err)
		s.metrics.ExtractionFailed(string(post.Platform), string(kind))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("extraction failed", "stage", "extract", "kind", kind, "error", err)
		if _, err := s.fail(ctx, post.ID, err.Error()); err != nil {
			logger.Error("failed to record extraction failure", "stage", "extract", "error", err)
		}
		return
	}
	s.metrics.ObserveStage("extract", "ok", time.Since(start))

	upd := models.PostUpdate{
		AuthorName:    models.String(extraction.AuthorName),
		AuthorImage:   models.String(extraction.AuthorImage),
		Content:       &extraction.Content,
		PostImage:     models.String(extraction.PostImage),
		PublishedDate: models.String(extraction.PublishedDate),
		Status:        models.StatusPtr(models.StatusAnalyzing),
	}
	if key := s.archiveRaw(ctx, post, extraction); key != "" {
		upd.ArchivePath = &key
	}
	if s.cfg.ProbeImages && extraction.PostImage != "" {
		meta, err := s.extractor.ProbeImage(ctx, extraction.PostImage)
		if err != nil {
			logger.Debug("post image probe failed", "stage", "extract", "image", extraction.PostImage, "error", err)
		} else {
			upd.PostImageMeta = meta
		}
	}

	post, err = s.store.UpdatePost(ctx, post.ID, upd)
	if err != nil {
		logger.Error("failed to store extraction", "stage", "extract", "error", err)
		return
	}
	s.indexPost(post)

	// stage: analyze
	if !s.cfg.AutoCategorize {
		summary := ManualCategorizeSummary
		post, err = s.store.UpdatePost(ctx, post.ID, models.PostUpdate{
			Status:            models.StatusPtr(models.StatusCompleted),
			Summary:           &summary,
			ClearProcessError: true,
		})
		if err != nil {
			logger.Error("failed to complete post", "stage", "analyze", "error", err)
			return
		}
		s.metrics.Categorized("skipped")
		s.indexPost(post)
		logger.Info("post extracted, awaiting manual categorization", "stage", "analyze")
		return
	}

	start = time.Now()
	result, err := s.categorize(ctx, post)
	if err != nil {
		s.metrics.ObserveStage("analyze", "error", time.Since(start))
		if ctx.Err() != nil {
			logger.Warn("categorization cancelled, leaving post for recovery", "stage", "analyze", "error", err)
			return
		}
		span.RecordError(err)
		logger.Warn("categorization failed, content kept", "stage", "analyze", "error", err)
		if _, err := s.fail(ctx, post.ID, err.Error()); err != nil {
			logger.Error("failed to record categorization failure", "stage", "analyze", "error", err)
		}
		return
	}
	s.metrics.ObserveStage("analyze", "ok", time.Since(start))

	final := models.PostUpdate{Status: models.StatusPtr(models.StatusCompleted), ClearProcessError: true}
	s.applyCategorization(&final, result)
	post, err = s.store.UpdatePost(ctx, post.ID, final)
	if err != nil {
		logger.Error("failed to store categorization", "stage", "analyze", "error", err)
		return
	}
	s.indexPost(post)
	logger.Info("post completed",
		"stage", "analyze",
		"categories", post.Categories,
		"ai_used", result.AIUsed)
}

// categorize runs the categorizer against the registry and records the method used
func (s *Service) categorize(ctx context.Context, post *models.Post) (*models.Categorization, error) {
	known, err := s.registry.List(ctx)
	if err != nil {
		s.metrics.Categorized("failed")
		return nil, &categorize.Error{Err: err}
	}
	result, err := s.categorizer.Categorize(ctx, models.Deref(post.Content), known)
	if err != nil {
		s.metrics.Categorized("failed")
		var cerr *categorize.Error
		if !errors.As(err, &cerr) {
			err = &categorize.Error{Err: err}
		}
		return nil, err
	}
	if result.AIUsed {
		s.metrics.Categorized("llm")
	} else {
		s.metrics.Categorized("keyword")
	}
	return result, nil
}

func (s *Service) applyCategorization(upd *models.PostUpdate, result *models.Categorization) {
	categories := mergeCategories(result.Categories)
	if len(categories) > s.cfg.MaxCategories {
		categories = categories[:s.cfg.MaxCategories]
	}
	confidence := models.FormatConfidence(result.Confidence)
	upd.Categories = &categories
	upd.Confidence = &confidence
	upd.Summary = models.String(result.Summary)
}

// archiveRaw stores the upstream payload and returns its key, or "" when archiving is off or fails
func (s *Service) archiveRaw(ctx context.Context, post *models.Post, extraction *models.Extraction) string {
	if s.archive == nil || extraction.Raw == "" {
		return ""
	}
	name := slug.ForPost(extraction.AuthorName, post.URL, post.ID)
	key, err := s.archive.SaveContent(ctx, []byte(extraction.Raw), name, extraction.RawContentType)
	if err != nil {
		s.logger.Warn("failed to archive raw payload", "post_id", post.ID, "stage", "extract", "error", err)
		return ""
	}
	return key
}
