package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/scheduler"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/storage"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

// CampaignSweeper starts scheduled campaigns once they come due. Campaigns
// scheduled by this process wait in memory; the store is rescanned every
// tick so schedules written elsewhere are picked up too.
type CampaignSweeper struct {
	campaignRepo storage.CampaignRepo
	dispatcher   *CampaignDispatcher
	sched        *scheduler.Scheduler
}

func NewCampaignSweeper(dispatcher *CampaignDispatcher, campaignRepo storage.CampaignRepo, clock scheduler.Clock, interval time.Duration) *CampaignSweeper {
	s := &CampaignSweeper{campaignRepo: campaignRepo, dispatcher: dispatcher}
	s.sched = scheduler.New(clock, interval, s.start, s.refill)
	dispatcher.attachQueue(s.sched)
	return s
}

func (s *CampaignSweeper) refill(ctx context.Context, now time.Time) ([]scheduler.Entry, error) {
	due, err := s.campaignRepo.ListDueCampaigns(ctx, now)
	if err != nil {
		return nil, err
	}
	entries := make([]scheduler.Entry, 0, len(due))
	for _, c := range due {
		at := now
		if c.ScheduledAt != nil {
			at = *c.ScheduledAt
		}
		entries = append(entries, scheduler.Entry{Key: c.ID, DueAt: at})
	}
	return entries, nil
}

func (s *CampaignSweeper) start(ctx context.Context, id string) error {
	err := utils.CallWithRecovery(ctx, "scheduled campaign start", func(ctx context.Context) error {
		_, err := s.dispatcher.Start(ctx, id)
		return err
	})
	if apperrors.IsInvariantViolation(err) {
		// Already started or cancelled since it was queued.
		logger.FromContext(ctx).Debug("[campaign] sweep skipped campaign", zap.String("campaign_id", id), zap.Error(err))
		return nil
	}
	return err
}

// Tick runs one sweep and returns how many campaigns came due.
func (s *CampaignSweeper) Tick(ctx context.Context) int {
	return s.sched.Tick(ctx)
}

// Run sweeps until ctx ends.
func (s *CampaignSweeper) Run(ctx context.Context) {
	s.sched.Run(ctx)
}

func (s *CampaignSweeper) Pending() int {
	return s.sched.Pending()
}
