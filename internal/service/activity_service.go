package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/ikhtibar/assessment-api/internal/dto"
	"github.com/ikhtibar/assessment-api/internal/models"
	"github.com/ikhtibar/assessment-api/internal/repository"
)

// ActivityActor represents the authenticated actor performing an operation.
type ActivityActor struct {
	ID   uint
	Role string
}

// AuditSink records audit trail entries. Both methods are fire-and-forget:
// a failing sink must never fail the operation that called it.
type AuditSink interface {
	LogSuccess(ctx context.Context, actor ActivityActor, action, entityType string, entityID *uint, metadata map[string]interface{})
	LogFailure(ctx context.Context, actor ActivityActor, action, entityType string, entityID *uint, metadata map[string]interface{})
}

// ActivityService exposes methods to record and query the audit trail.
type ActivityService interface {
	AuditSink
	List(ctx context.Context, req dto.ActivityListRequest) (dto.ActivityListResponse, error)
}

type activityService struct {
	repo      repository.ActivityLogRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewActivityService constructs the audit trail service.
func NewActivityService(repo repository.ActivityLogRepository, validator *validator.Validate, logger zerolog.Logger) ActivityService {
	return &activityService{
		repo:      repo,
		validator: validator,
		logger:    logger.With().Str("component", "activity_service").Logger(),
	}
}

func (s *activityService) LogSuccess(ctx context.Context, actor ActivityActor, action, entityType string, entityID *uint, metadata map[string]interface{}) {
	s.record(ctx, actor, action, entityType, entityID, true, metadata)
}

func (s *activityService) LogFailure(ctx context.Context, actor ActivityActor, action, entityType string, entityID *uint, metadata map[string]interface{}) {
	s.record(ctx, actor, action, entityType, entityID, false, metadata)
}

func (s *activityService) record(ctx context.Context, actor ActivityActor, action, entityType string, entityID *uint, success bool, metadata map[string]interface{}) {
	if strings.TrimSpace(action) == "" || strings.TrimSpace(entityType) == "" {
		s.logger.Warn().Str("action", action).Str("entity_type", entityType).Msg("dropping audit entry with missing fields")
		return
	}

	entry := models.ActivityLog{
		ActorID:    actor.ID,
		ActorRole:  strings.ToLower(strings.TrimSpace(actor.Role)),
		Action:     strings.ToLower(strings.TrimSpace(action)),
		EntityType: strings.ToLower(strings.TrimSpace(entityType)),
		EntityID:   entityID,
		Success:    success,
		Metadata:   sanitizeMetadata(metadata),
	}

	if err := s.repo.Create(ctx, &entry); err != nil {
		s.logger.Error().Err(err).Str("action", entry.Action).Msg("failed to persist audit entry")
	}
}

func (s *activityService) List(ctx context.Context, req dto.ActivityListRequest) (dto.ActivityListResponse, error) {
	filter := repository.ActivityLogFilter{
		Page:       req.Page,
		PageSize:   req.PageSize,
		Action:     strings.TrimSpace(req.Action),
		EntityType: strings.TrimSpace(req.EntityType),
	}
	if req.ActorID > 0 {
		filter.ActorID = &req.ActorID
	}

	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return dto.ActivityListResponse{}, err
	}

	responses := make([]dto.ActivityResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, dto.NewActivityResponse(entry))
	}

	pagination := dto.PaginationMeta{
		Page:       max(req.Page, 1),
		PageSize:   req.PageSize,
		TotalItems: total,
	}
	if req.PageSize > 0 {
		pagination.TotalPages = int(math.Ceil(float64(total) / float64(req.PageSize)))
	} else {
		pagination.TotalPages = 1
	}

	return dto.ActivityListResponse{Items: responses, Pagination: pagination}, nil
}

func sanitizeMetadata(metadata map[string]interface{}) datatypes.JSONMap {
	if metadata == nil {
		return datatypes.JSONMap{}
	}

	clean := datatypes.JSONMap{}
	for key, value := range metadata {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		switch typed := value.(type) {
		case string:
			clean[trimmedKey] = strings.TrimSpace(typed)
		case fmt.Stringer:
			clean[trimmedKey] = typed.String()
		default:
			clean[trimmedKey] = value
		}
	}
	return clean
}
