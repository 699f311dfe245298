package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sentinel/internal/rescore/domain"
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
		log:   p.Log.Named("rescore.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Raise(ctx context.Context, req domain.RaiseRequest) (*domain.RescoreSignal, error) {
	if req.ClientID == "" || req.Cause == "" {
		return nil, domain.ErrInvalidInput
	}
	if req.RangeTo.Before(req.RangeFrom) {
		return nil, domain.ErrInvalidInput
	}

	signal := domain.NewSignal(s.genID.Generate(), req)
	if err := s.repo.Insert(ctx, s.db, signal); err != nil {
		return nil, err
	}

	s.log.Info("rescore signal raised",
		zap.String("client_id", signal.ClientID),
		zap.String("cause", string(signal.Cause)),
		zap.Time("range_from", signal.RangeFrom),
		zap.Time("range_to", signal.RangeTo),
	)
	return signal, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]*domain.RescoreSignal, *pagination.PageInfo, error) {
	if req.PageSize <= 0 {
		req.PageSize = 50
	}
	if req.PageSize > 250 {
		req.PageSize = 250
	}

	signals, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return nil, nil, err
	}

	signals, pageInfo := pagination.BuildCursorPageInfo(signals, req.PageSize, func(sig *domain.RescoreSignal) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: sig.ID.String()})
		return token
	})
	return signals, pageInfo, nil
}
