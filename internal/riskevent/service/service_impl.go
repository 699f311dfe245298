package service

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sentinel/internal/riskevent/domain"
	"github.com/smallbiznis/sentinel/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("riskevent.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// Emit writes the verdict for one transaction revision. Without Supersede an
// existing current event is returned as-is. With Supersede a new revision is
// inserted only when the outcome actually changed; an identical outcome
// resolves to the stored event so repeated re-scores do not pile up revisions.
func (s *Service) Emit(ctx context.Context, in domain.EmitInput) (*domain.RiskEvent, error) {
	if in.TransactionID == "" || in.EngineVersion == "" {
		return nil, domain.ErrInvalidInput
	}

	var out *domain.RiskEvent
	err := s.db.Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindCurrent(ctx, tx, in.TransactionID, in.EngineVersion)
		if err != nil {
			return err
		}

		event, err := s.build(in, current)
		if err != nil {
			return err
		}
		if event == nil {
			// Outcome unchanged; the current event stands.
			out = current
			return nil
		}

		inserted, err := s.repo.Insert(ctx, tx, event)
		if err != nil {
			return err
		}
		if !inserted {
			stored, err := s.repo.FindByEventKey(ctx, tx, event.EventKey)
			if err != nil {
				return err
			}
			out = stored
			return nil
		}

		s.log.Info("risk event emitted",
			zap.String("event_key", event.EventKey),
			zap.String("transaction_id", event.TransactionID),
			zap.String("client_id", event.ClientID),
			zap.String("severity", event.Severity),
			zap.Float64("score", event.Score),
			zap.Int("revision", event.Revision),
			zap.Bool("no_flag", event.NoFlag),
		)
		out = event
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// build assembles the candidate event, or nil when the current event already
// carries the same outcome.
func (s *Service) build(in domain.EmitInput, current *domain.RiskEvent) (*domain.RiskEvent, error) {
	reasons := consolidateReasons(in)

	revision := 1
	var prior *string
	if current != nil {
		if !in.Supersede {
			revision = current.Revision
			prior = current.PriorEventKey
		} else if outcomeEquals(current, in, reasons) {
			return nil, nil
		} else {
			revision = current.Revision + 1
			key := current.EventKey
			prior = &key
		}
	}

	var detail []byte
	if len(in.Fired) > 0 {
		var err error
		if detail, err = json.Marshal(in.Fired); err != nil {
			return nil, err
		}
	}

	return &domain.RiskEvent{
		ID:            s.genID.Generate(),
		EventKey:      domain.EventKey(in.TransactionID, in.EngineVersion, revision),
		TransactionID: in.TransactionID,
		ClientID:      in.ClientID,
		EngineVersion: in.EngineVersion,
		Revision:      revision,
		PriorEventKey: prior,
		Score:         in.Fusion.FinalScore,
		RuleScore:     in.Fusion.RuleScore,
		Severity:      string(in.Fusion.Severity),
		Reasons:       reasons,
		RuleDetail:    detail,
		NoFlag:        in.Fusion.NoFlag,
		MLBlended:     in.Fusion.MLBlended,
		OccurredAt:    in.OccurredAt.UTC(),
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// consolidateReasons orders reason codes deterministically: fired rules in
// evaluation order, the ML blend marker, diagnostics, the annotation code,
// then the no-flag marker. First occurrence wins on duplicates.
func consolidateReasons(in domain.EmitInput) []string {
	reasons := make([]string, 0, len(in.Fired)+4)
	for _, rule := range in.Fired {
		reasons = append(reasons, string(rule.Code))
	}
	if in.Fusion.MLBlended {
		reasons = append(reasons, domain.ReasonMLAnomaly)
	}
	if in.CountryUnmapped {
		reasons = append(reasons, domain.ReasonUnmappedCountry)
	}
	if in.Fusion.MLIgnoredLowConfidence {
		reasons = append(reasons, domain.ReasonMLLowConfidence)
	}
	if in.AnnotationCode != "" {
		reasons = append(reasons, in.AnnotationCode)
	}
	if in.Fusion.NoFlag {
		reasons = append(reasons, domain.ReasonNoFlag)
	}

	seen := make(map[string]struct{}, len(reasons))
	deduped := reasons[:0]
	for _, reason := range reasons {
		if _, ok := seen[reason]; ok {
			continue
		}
		seen[reason] = struct{}{}
		deduped = append(deduped, reason)
	}
	return deduped
}

func outcomeEquals(current *domain.RiskEvent, in domain.EmitInput, reasons []string) bool {
	return current.Score == in.Fusion.FinalScore &&
		current.RuleScore == in.Fusion.RuleScore &&
		current.Severity == string(in.Fusion.Severity) &&
		current.NoFlag == in.Fusion.NoFlag &&
		current.MLBlended == in.Fusion.MLBlended &&
		current.OccurredAt.Equal(in.OccurredAt.UTC()) &&
		slices.Equal([]string(current.Reasons), reasons)
}

func (s *Service) Get(ctx context.Context, eventKey string) (*domain.RiskEvent, error) {
	event, err := s.repo.FindByEventKey(ctx, s.db, eventKey)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrNotFound
	}
	return event, nil
}

func (s *Service) Current(ctx context.Context, transactionID, engineVersion string) (*domain.RiskEvent, error) {
	event, err := s.repo.FindCurrent(ctx, s.db, transactionID, engineVersion)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrNotFound
	}
	return event, nil
}

func (s *Service) History(ctx context.Context, transactionID, engineVersion string) ([]*domain.RiskEvent, error) {
	return s.repo.ListRevisions(ctx, s.db, transactionID, engineVersion)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]*domain.RiskEvent, *pagination.PageInfo, error) {
	if req.PageSize <= 0 {
		req.PageSize = 50
	}
	if req.PageSize > 250 {
		req.PageSize = 250
	}

	events, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return nil, nil, err
	}

	events, pageInfo := pagination.BuildCursorPageInfo(events, req.PageSize, func(e *domain.RiskEvent) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: e.ID.String()})
		return token
	})
	return events, pageInfo, nil
}
