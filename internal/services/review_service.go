package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"

	domain "github.com/orchard-market/api/internal/domain"
	"github.com/orchard-market/api/internal/repositories"
)

const (
	reviewIDPrefix     = "rev_"
	reviewEventCreated = "review.created"
)

var (
	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = errors.New("review: invalid input")
	// ErrReviewNotFound indicates a review could not be located.
	ErrReviewNotFound = errors.New("review: not found")
	// ErrReviewUnauthorized indicates the actor is not allowed to access the review.
	ErrReviewUnauthorized = errors.New("review: unauthorized")
	// ErrReviewConflict signals duplicate submissions or conflicting updates.
	ErrReviewConflict = errors.New("review: conflict")
	// ErrReviewInvalidState is returned when an invalid status transition is attempted.
	ErrReviewInvalidState = errors.New("review: invalid state transition")
)

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews          repositories.ReviewRepository
	Orders           repositories.OrderRepository
	Products         repositories.ProductRepository
	Clock            func() time.Time
	IDGenerator      func() string
	Sanitizer        func(string) string
	ProfanityChecker func(string) bool
	Events           ReviewEventPublisher
}

type reviewService struct {
	reviews   repositories.ReviewRepository
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	clock     func() time.Time
	newID     func() string
	sanitize  func(string) string
	isProfane func(string) bool
	events    ReviewEventPublisher
}

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("review service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("review service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return reviewIDPrefix + ulid.Make().String()
		}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = func(input string) string {
			return strings.TrimSpace(input)
		}
	}
	profanity := deps.ProfanityChecker
	if profanity == nil {
		profanity = basicProfanityChecker
	}

	return &reviewService{
		reviews:  deps.Reviews,
		orders:   deps.Orders,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		sanitize:  sanitize,
		isProfane: profanity,
		events:    deps.Events,
	}, nil
}

func (s *reviewService) Create(ctx context.Context, cmd CreateReviewCommand) (Review, error) {
	comment, err := s.validateCreateCommand(cmd)
	if err != nil {
		return Review{}, err
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return Review{}, s.mapOrderError(err)
	}

	if order.UserID != cmd.UserID {
		return Review{}, fmt.Errorf("%w: order does not belong to user", ErrReviewUnauthorized)
	}
	if order.Status != domain.OrderStatusCompleted {
		return Review{}, fmt.Errorf("%w: order must be completed before review submission", ErrReviewInvalidState)
	}

	item, err := findLineItem(order, cmd.LineItemID)
	if err != nil {
		return Review{}, err
	}
	if item.IsReviewed {
		return Review{}, fmt.Errorf("%w: line item already reviewed", ErrReviewConflict)
	}

	sku, err := s.products.GetSKU(ctx, item.SKUID)
	if err != nil {
		return Review{}, s.mapReviewError(err)
	}

	now := s.now()
	review := domain.Review{
		ID:         s.newID(),
		OrderID:    order.ID,
		LineItemID: item.ID,
		SPUID:      sku.SPUID,
		UserID:     cmd.UserID,
		Rating:     cmd.Rating,
		Comment:    comment,
		Status:     domain.ReviewStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Insert enforces uniqueness per (order, line item) transactionally; the
	// flag on the order line follows and only ever lags behind an inserted
	// review, never the other way round.
	created, err := s.reviews.Insert(ctx, review)
	if err != nil {
		return Review{}, s.mapReviewError(err)
	}

	if err := s.orders.MarkItemReviewed(ctx, order.ID, item.ID, now); err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			return Review{}, s.mapReviewError(err)
		}
	}

	s.emitEvent(ctx, reviewEventCreated, created)

	return created, nil
}

func (s *reviewService) ListBySPU(ctx context.Context, cmd ListProductReviewsCommand) (domain.CursorPage[Review], error) {
	if strings.TrimSpace(cmd.SPUID) == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	page, err := s.reviews.ListBySPU(ctx, cmd.SPUID, cmd.Pagination)
	if err != nil {
		return domain.CursorPage[Review]{}, s.mapReviewError(err)
	}
	return page, nil
}

func (s *reviewService) ListByUser(ctx context.Context, cmd ListUserReviewsCommand) (domain.CursorPage[Review], error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	}
	page, err := s.reviews.ListByUser(ctx, cmd.UserID, cmd.Pagination)
	if err != nil {
		return domain.CursorPage[Review]{}, s.mapReviewError(err)
	}
	return page, nil
}

func (s *reviewService) Moderate(ctx context.Context, cmd ModerateReviewCommand) (Review, error) {
	if strings.TrimSpace(cmd.ReviewID) == "" {
		return Review{}, fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}
	if strings.TrimSpace(cmd.ActorID) == "" {
		return Review{}, fmt.Errorf("%w: actor id is required", ErrReviewInvalidInput)
	}
	if cmd.Status != domain.ReviewStatusApproved && cmd.Status != domain.ReviewStatusRejected {
		return Review{}, fmt.Errorf("%w: unsupported moderation status %s", ErrReviewInvalidInput, cmd.Status)
	}

	review, err := s.reviews.FindByID(ctx, cmd.ReviewID)
	if err != nil {
		return Review{}, s.mapReviewError(err)
	}

	if review.Status == cmd.Status {
		return review, nil
	}
	if review.Status != domain.ReviewStatusPending {
		return Review{}, fmt.Errorf("%w: cannot transition from %s to %s", ErrReviewInvalidState, review.Status, cmd.Status)
	}

	updated, err := s.reviews.UpdateStatus(ctx, cmd.ReviewID, cmd.Status, repositories.ReviewModerationUpdate{
		ModeratedBy: cmd.ActorID,
		ModeratedAt: s.now(),
	})
	if err != nil {
		return Review{}, s.mapReviewError(err)
	}

	return updated, nil
}

func (s *reviewService) validateCreateCommand(cmd CreateReviewCommand) (string, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return "", fmt.Errorf("%w: order id is required", ErrReviewInvalidInput)
	}
	if strings.TrimSpace(cmd.LineItemID) == "" {
		return "", fmt.Errorf("%w: line item id is required", ErrReviewInvalidInput)
	}
	if strings.TrimSpace(cmd.UserID) == "" {
		return "", fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	}
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return "", fmt.Errorf("%w: rating must be between 1 and 5", ErrReviewInvalidInput)
	}

	comment := s.sanitize(cmd.Comment)
	if comment == "" {
		return "", fmt.Errorf("%w: comment is required", ErrReviewInvalidInput)
	}
	if s.isProfane(comment) {
		return "", fmt.Errorf("%w: comment contains profanity", ErrReviewInvalidInput)
	}
	return comment, nil
}

func (s *reviewService) emitEvent(ctx context.Context, eventType string, review domain.Review) {
	if s.events == nil {
		return
	}
	_ = s.events.PublishReviewEvent(ctx, ReviewEvent{
		Type:       eventType,
		ReviewID:   review.ID,
		SPUID:      review.SPUID,
		Rating:     review.Rating,
		OccurredAt: s.now(),
	})
}

func (s *reviewService) now() time.Time {
	return s.clock()
}

func (s *reviewService) mapReviewError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrReviewNotFound
		case repoErr.IsConflict():
			return ErrReviewConflict
		}
	}
	return err
}

func (s *reviewService) mapOrderError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: order not found", ErrReviewNotFound)
	}
	return err
}

func findLineItem(order Order, lineItemID string) (OrderLineItem, error) {
	for _, item := range order.Items {
		if item.ID == lineItemID {
			return item, nil
		}
	}
	return OrderLineItem{}, fmt.Errorf("%w: line item %s not found on order", ErrReviewNotFound, lineItemID)
}

var defaultProfanityTerms = map[string]struct{}{
	"ass":     {},
	"asshole": {},
	"bastard": {},
	"bitch":   {},
	"bloody":  {},
	"damn":    {},
	"fuck":    {},
	"fucker":  {},
	"fucking": {},
	"shit":    {},
	"shitty":  {},
	"slut":    {},
	"whore":   {},
}

func basicProfanityChecker(input string) bool {
	if input == "" {
		return false
	}

	normalized := strings.ToLower(input)
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})

	for _, word := range words {
		if _, ok := defaultProfanityTerms[word]; ok {
			return true
		}
	}
	return false
}

var _ ReviewService = (*reviewService)(nil)
