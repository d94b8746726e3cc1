// Package executor runs one actor's roll: it resolves the handler for the
// roll type, asks for confirmation unless the request skips it, and rolls
// the resulting formula.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/grouproll/internal/platform/dice"
	apperrors "github.com/louisbranch/grouproll/internal/platform/errors"
	platformlog "github.com/louisbranch/grouproll/internal/platform/log"
	"github.com/louisbranch/grouproll/internal/platform/otel"
	"github.com/louisbranch/grouproll/internal/platform/random"
	"github.com/louisbranch/grouproll/internal/services/rolls/domain"
	"github.com/louisbranch/grouproll/internal/services/rolls/notice"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("executor")

// Status is how a roll ended.
type Status int

const (
	StatusRolled Status = iota
	StatusCancelled
	StatusFailed
)

// String returns a stable label for logs and metrics.
func (s Status) String() string {
	switch s {
	case StatusRolled:
		return "rolled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// RollOutcome is the executor's result. Total and the roll details are set
// only when Status is StatusRolled.
type RollOutcome struct {
	Status  Status
	Total   int
	Formula string
	Dice    []int
	Seed    int64
	DC      *int
	Config  domain.RollConfig
}

// Rolled reports whether the outcome carries a total.
func (o RollOutcome) Rolled() bool {
	return o.Status == StatusRolled
}

// Config configures an Executor.
type Config struct {
	Sheets    SheetSource
	Confirmer Confirmer
	Notifier  notice.Notifier
	// Names resolves actor display names for notices.
	Names  func(actorID string) string
	Seeds  func() (int64, error)
	Logger *zerolog.Logger
}

// Executor rolls requests against a handler table.
type Executor struct {
	handlers  map[domain.RollType]Handler
	sheets    SheetSource
	confirmer Confirmer
	notifier  notice.Notifier
	names     func(string) string
	seeds     func() (int64, error)
	logger    zerolog.Logger
}

// New builds an executor covering every roll type.
func New(cfg Config) *Executor {
	if cfg.Sheets == nil {
		cfg.Sheets = NewStaticSheets(nil)
	}
	if cfg.Confirmer == nil {
		cfg.Confirmer = AutoConfirm{}
	}
	if cfg.Names == nil {
		cfg.Names = func(actorID string) string { return actorID }
	}
	if cfg.Seeds == nil {
		cfg.Seeds = random.NewSeed
	}
	return &Executor{
		handlers:  Handlers(),
		sheets:    cfg.Sheets,
		confirmer: cfg.Confirmer,
		notifier:  cfg.Notifier,
		names:     cfg.Names,
		seeds:     cfg.Seeds,
		logger:    platformlog.OrComponent(cfg.Logger, "executor"),
	}
}

// Execute rolls req. A cancelled confirmation returns StatusCancelled with
// a nil error. Formula errors raise an invalid formula notice and return
// StatusFailed with an error matching INVALID_FORMULA.
func (e *Executor) Execute(ctx context.Context, req domain.RollRequest) (RollOutcome, error) {
	ctx, span := tracer.Start(ctx, "executor.execute", trace.WithAttributes(
		attribute.String(platformlog.FieldActorID, req.ActorID),
		attribute.String(platformlog.FieldRollType, string(req.RollType)),
		attribute.String(platformlog.FieldRollKey, req.RollKey),
	))
	defer span.End()

	outcome, err := e.execute(ctx, req)
	rollsExecuted.WithLabelValues(string(req.RollType), outcome.Status.String()).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (e *Executor) execute(ctx context.Context, req domain.RollRequest) (RollOutcome, error) {
	failed := RollOutcome{Status: StatusFailed, Config: req.Config}
	if err := req.Validate(); err != nil {
		return failed, err
	}
	handler, ok := e.handlers[req.RollType]
	if !ok {
		return failed, domain.ErrUnknownRollType
	}
	logger := e.logger.With().
		Str(platformlog.FieldRequestID, req.RequestID).
		Str(platformlog.FieldActorID, req.ActorID).
		Str(platformlog.FieldRollType, string(req.RollType)).
		Logger()

	cfg := req.Config.Clone()
	if !req.SkipDialog {
		confirmed, proceed, err := e.confirmer.Confirm(ctx, ConfirmRequest{
			ActorIDs: []string{req.ActorID},
			RollType: req.RollType,
			RollKey:  req.RollKey,
			Config:   cfg,
		})
		if err != nil {
			return failed, fmt.Errorf("confirm roll: %w", err)
		}
		if !proceed {
			logger.Info().Msg("roll cancelled at confirmation")
			e.notify(ctx, notice.RollCancelled(e.names(req.ActorID)))
			return RollOutcome{Status: StatusCancelled, Config: cfg}, nil
		}
		cfg = confirmed
	}
	req.Config = cfg

	sheet, err := e.sheets.Sheet(ctx, req.ActorID)
	if err != nil {
		return failed, fmt.Errorf("load sheet: %w", err)
	}
	plan, err := handler(req, sheet)
	if err != nil {
		return failed, e.reportFormula(ctx, req, err, logger)
	}

	formula := plan.Formula
	if plan.D20 {
		advantage, disadvantage := cfg.EffectiveMode()
		formula = dice.D20(advantage, disadvantage).Plus(formula)
	}
	if cfg.Bonus != "" {
		bonus, err := parseFormula(cfg.Bonus)
		if err != nil {
			return failed, e.reportFormula(ctx, req, err, logger)
		}
		formula = formula.Plus(bonus)
	}

	seed, err := e.seeds()
	if err != nil {
		return failed, fmt.Errorf("seed roll: %w", err)
	}
	result, err := formula.Roll(seed)
	if err != nil {
		return failed, e.reportFormula(ctx, req, fmt.Errorf("roll %s: %w", formula, err), logger)
	}

	var kept []int
	for _, roll := range result.Rolls {
		kept = append(kept, roll.Kept...)
	}
	logger.Debug().Str("formula", formula.String()).Int("total", result.Total).Msg("roll executed")
	return RollOutcome{
		Status:  StatusRolled,
		Total:   result.Total,
		Formula: formula.String(),
		Dice:    kept,
		Seed:    seed,
		DC:      plan.DC,
		Config:  cfg,
	}, nil
}

func (e *Executor) reportFormula(ctx context.Context, req domain.RollRequest, err error, logger zerolog.Logger) error {
	if apperrors.CodeOf(err) == apperrors.CodeInvalidFormula || errors.Is(err, dice.ErrInvalidFormula) {
		formula := req.Config.Formula
		var domainErr *apperrors.Error
		if errors.As(err, &domainErr) && domainErr.Metadata["formula"] != "" {
			formula = domainErr.Metadata["formula"]
		}
		logger.Warn().Err(err).Str("formula", formula).Msg("invalid roll formula")
		e.notify(ctx, notice.InvalidFormula(formula, e.names(req.ActorID)))
	}
	return err
}

func (e *Executor) notify(ctx context.Context, n notice.Notice) {
	if e.notifier != nil {
		e.notifier.Notify(ctx, n)
	}
}
