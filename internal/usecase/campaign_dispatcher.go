package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/channel"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/config"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/observer"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/realtime"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/scheduler"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/storage"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/tenant"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

const maxBatchBackoff = 4

// dueQueue is where scheduled campaigns wait for the sweeper.
type dueQueue interface {
	Schedule(key string, dueAt time.Time)
	Cancel(key string) bool
}

// campaignTask is one run handed to the worker pool.
type campaignTask struct {
	ctx       context.Context // ends only on Stop
	pause     context.Context // also ends on Cancel; bounds the batch delay
	campaign  *model.Campaign
	accountID string
}

// CampaignDispatcher sends campaigns in paced batches on an ants pool.
// A run is registered while it executes; removing it from the registry
// stops the run at the next batch boundary. Sends already inside the
// current batch still go out.
type CampaignDispatcher struct {
	campaignRepo  storage.CampaignRepo
	accountRepo   storage.ChannelAccountRepo
	messageRepo   storage.MessageRepo
	resolver      *ContactResolver
	conversations *ConversationService
	transport     channel.Transport
	notifier      realtime.Notifier
	cfg           config.CampaignConfig
	clock         scheduler.Clock
	baseLogger    *zap.Logger

	pool   *ants.PoolWithFunc
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]context.CancelFunc
	queue   dueQueue
	wg      sync.WaitGroup
}

func NewCampaignDispatcher(
	cfg config.CampaignConfig,
	campaignRepo storage.CampaignRepo,
	accountRepo storage.ChannelAccountRepo,
	messageRepo storage.MessageRepo,
	resolver *ContactResolver,
	conversations *ConversationService,
	transport channel.Transport,
	notifier realtime.Notifier,
	clock scheduler.Clock,
	baseLogger *zap.Logger,
) (*CampaignDispatcher, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.ExpiryTime <= 0 {
		cfg.ExpiryTime = time.Minute
	}
	if clock == nil {
		clock = scheduler.RealClock{}
	}
	if baseLogger == nil {
		baseLogger = zap.NewNop()
	}

	base, cancel := context.WithCancel(context.Background())
	d := &CampaignDispatcher{
		campaignRepo:  campaignRepo,
		accountRepo:   accountRepo,
		messageRepo:   messageRepo,
		resolver:      resolver,
		conversations: conversations,
		transport:     transport,
		notifier:      notifier,
		cfg:           cfg,
		clock:         clock,
		baseLogger:    baseLogger.Named("campaign_dispatcher"),
		base:          base,
		cancel:        cancel,
		running:       make(map[string]context.CancelFunc),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		task, ok := i.(campaignTask)
		if !ok {
			d.baseLogger.Error("Invalid campaign task received", zap.Any("data", i))
			return
		}
		d.run(task)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(true), // Start must not wait for a free worker
		ants.WithPanicHandler(func(p interface{}) {
			d.baseLogger.Error("Panic escaped campaign run", zap.Any("panic_error", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create campaign worker pool: %w", err)
	}
	d.pool = pool
	d.baseLogger.Info("Campaign worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("message_delay", cfg.MessageDelay),
		zap.Duration("batch_delay", cfg.BatchDelay),
	)
	return d, nil
}

// Schedule parks a DRAFT or SCHEDULED campaign until at.
func (d *CampaignDispatcher) Schedule(ctx context.Context, id string, at time.Time) (*model.Campaign, error) {
	if at.IsZero() {
		return nil, fmt.Errorf("%w: schedule time is required", apperrors.ErrValidation)
	}
	c, err := d.campaignRepo.ScheduleCampaign(ctx, id, at)
	if err != nil {
		return nil, unavailable(err, "schedule campaign")
	}
	d.mu.Lock()
	q := d.queue
	d.mu.Unlock()
	if q != nil {
		q.Schedule(id, at)
	}
	logger.FromContext(ctx).Info("[campaign] scheduled", zap.String("campaign_id", id), zap.Time("at", at))
	return c, nil
}

// Start moves the campaign to SENDING and hands the run to the pool. It
// returns as soon as the run is queued.
func (d *CampaignDispatcher) Start(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := d.campaignRepo.GetCampaign(ctx, id)
	if err != nil {
		return nil, unavailable(err, "load campaign")
	}
	if !c.Status.CanTransitionTo(model.CampaignSending) || d.IsRunning(id) {
		return nil, fmt.Errorf("%w: campaign %s is %s", apperrors.ErrInvariantViolation, id, c.Status)
	}
	accountID, err := d.sendingAccount(ctx, c.Channel)
	if err != nil {
		return nil, err
	}
	if d.pool.Free() == 0 {
		return nil, fmt.Errorf("%w: campaign pool is full", apperrors.ErrConflict)
	}

	c, err = d.campaignRepo.TransitionCampaign(ctx, id, model.CampaignSending, d.clock.Now())
	if err != nil {
		return nil, unavailable(err, "start campaign")
	}
	if err := d.submit(ctx, c, accountID); err != nil {
		if _, terr := d.campaignRepo.TransitionCampaign(ctx, id, model.CampaignFailed, d.clock.Now()); terr != nil {
			logger.FromContext(ctx).Error("[campaign] could not mark unsubmitted campaign failed", zap.String("campaign_id", id), zap.Error(terr))
		}
		return nil, err
	}
	return c, nil
}

// Resume restarts campaigns a previous process left SENDING, from their saved progress.
func (d *CampaignDispatcher) Resume(ctx context.Context) (int, error) {
	campaigns, err := d.campaignRepo.ListCampaignsByStatus(ctx, model.CampaignSending)
	if err != nil {
		return 0, unavailable(err, "list sending campaigns")
	}
	resumed := 0
	for i := range campaigns {
		c := &campaigns[i]
		if d.IsRunning(c.ID) {
			continue
		}
		log := logger.FromContext(ctx).With(zap.String("campaign_id", c.ID))
		accountID, err := d.sendingAccount(ctx, c.Channel)
		if err != nil {
			log.Warn("[campaign] cannot resume, no sending account", zap.Error(err))
			continue
		}
		if err := d.submit(ctx, c, accountID); err != nil {
			log.Warn("[campaign] resume not submitted", zap.Error(err))
			continue
		}
		log.Info("[campaign] resumed", zap.Int("processed", c.Processed))
		resumed++
	}
	return resumed, nil
}

// Cancel stops a running campaign at its next batch boundary, or cancels a
// DRAFT or SCHEDULED one right away.
func (d *CampaignDispatcher) Cancel(ctx context.Context, id string) error {
	if d.unregister(id) {
		logger.FromContext(ctx).Info("[campaign] cancel requested", zap.String("campaign_id", id))
		return nil
	}

	c, err := d.campaignRepo.GetCampaign(ctx, id)
	if err != nil {
		return unavailable(err, "load campaign")
	}
	if c.Status.IsTerminal() {
		return fmt.Errorf("%w: campaign %s is already %s", apperrors.ErrInvariantViolation, id, c.Status)
	}
	d.mu.Lock()
	if d.queue != nil {
		d.queue.Cancel(id)
	}
	d.mu.Unlock()

	c, err = d.campaignRepo.TransitionCampaign(ctx, id, model.CampaignCancelled, d.clock.Now())
	if err != nil {
		return unavailable(err, "cancel campaign")
	}
	d.emitProgress(ctx, c, model.EventCampaignCompleted, c.Processed, c.Results.Data(), 0)
	observer.IncCampaignRun(c.CompanyID, string(model.CampaignCancelled))
	return nil
}

func (d *CampaignDispatcher) IsRunning(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[id]
	return ok
}

// Stop interrupts every run and releases the pool. Interrupted campaigns stay
// SENDING and are picked up by Resume on the next boot.
func (d *CampaignDispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	d.pool.Release()
	d.baseLogger.Info("Campaign worker pool stopped")
}

func (d *CampaignDispatcher) attachQueue(q dueQueue) {
	d.mu.Lock()
	d.queue = q
	d.mu.Unlock()
}

func (d *CampaignDispatcher) sendingAccount(ctx context.Context, ch model.Channel) (string, error) {
	if ch == "" {
		ch = model.ChannelWhatsApp
	}
	accounts, err := d.accountRepo.ListConnectedAccounts(ctx, ch)
	if err != nil {
		return "", unavailable(err, "list channel accounts")
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("%w: no connected %s account", apperrors.ErrValidation, ch)
	}
	return accounts[0].ExternalAccount, nil
}

func (d *CampaignDispatcher) submit(ctx context.Context, c *model.Campaign, accountID string) error {
	runCtx := logger.WithLogger(tenant.WithCompanyID(d.base, c.CompanyID),
		logger.FromContextOr(ctx, d.baseLogger).With(zap.String("campaign_id", c.ID)))
	pause, cancel := context.WithCancel(runCtx)

	d.mu.Lock()
	d.running[c.ID] = cancel
	observer.SetCampaignsRunning(len(d.running))
	d.mu.Unlock()

	d.wg.Add(1)
	if err := d.pool.Invoke(campaignTask{ctx: runCtx, pause: pause, campaign: c, accountID: accountID}); err != nil {
		d.wg.Done()
		d.unregister(c.ID)
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("%w: campaign pool overload: %w", apperrors.ErrConflict, err)
		}
		return fmt.Errorf("failed to invoke campaign run: %w", err)
	}
	return nil
}

// unregister reports whether id was running. It only wakes a run waiting out
// the batch delay; a batch in progress is left to finish.
func (d *CampaignDispatcher) unregister(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cancel, ok := d.running[id]
	if !ok {
		return false
	}
	delete(d.running, id)
	observer.SetCampaignsRunning(len(d.running))
	cancel()
	return true
}

func (d *CampaignDispatcher) run(task campaignTask) {
	defer d.wg.Done()
	c := task.campaign
	log := logger.FromContextOr(task.ctx, d.baseLogger)

	defer func() {
		if r := recover(); r != nil {
			log.Error("[campaign] run panicked", zap.Any("panic", r), zap.Stack("stack"))
			d.finish(task, model.CampaignFailed, c.Processed, c.Results.Data())
		}
	}()

	recipients := []model.Recipient(c.Recipients)
	results := c.Results.Data()
	processed := c.Processed
	backoff := 1
	batch := 0

	log.Info("[campaign] run started", zap.Int("recipients", len(recipients)), zap.Int("from", processed))

	for processed < len(recipients) {
		if !d.IsRunning(c.ID) {
			d.finish(task, model.CampaignCancelled, processed, results)
			return
		}
		if batch > 0 {
			if err := d.clock.Sleep(task.pause, d.cfg.BatchDelay*time.Duration(backoff)); err != nil {
				d.interrupted(task, processed, results, err)
				return
			}
			if !d.IsRunning(c.ID) {
				d.finish(task, model.CampaignCancelled, processed, results)
				return
			}
		}

		end := processed + d.cfg.BatchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		rateLimited := false
		for i := processed; i < end; i++ {
			if i > processed {
				if err := d.clock.Sleep(task.ctx, d.cfg.MessageDelay); err != nil {
					d.interrupted(task, i, results, err)
					return
				}
			}
			err := d.sendOne(task.ctx, c, recipients[i], task.accountID)
			if err != nil {
				results.Failed++
				results.Errors = append(results.Errors, model.RecipientError{Phone: recipients[i].Phone, Error: err.Error()})
				observer.IncCampaignRecipient(c.CompanyID, "failed")
				if apperrors.IsRateLimitedError(err) {
					rateLimited = true
				}
				continue
			}
			results.Sent++
			observer.IncCampaignRecipient(c.CompanyID, "sent")
		}
		processed = end
		batch++

		if err := d.saveProgress(task, processed, results, batch); err != nil {
			log.Error("[campaign] progress not saved", zap.Error(err))
			d.finish(task, model.CampaignFailed, processed, results)
			return
		}

		if rateLimited {
			backoff *= 2
			if backoff > maxBatchBackoff {
				backoff = maxBatchBackoff
			}
			log.Warn("[campaign] channel throttled, slowing down", zap.Int("batch_delay_multiplier", backoff))
		} else {
			backoff = 1
		}
	}

	d.finish(task, model.CampaignSent, processed, results)
}

// sendOne delivers the campaign to one recipient through the normal
// conversation path and records the outbound message.
func (d *CampaignDispatcher) sendOne(ctx context.Context, c *model.Campaign, r model.Recipient, accountID string) error {
	ch := c.Channel
	if ch == "" {
		ch = model.ChannelWhatsApp
	}
	contact, err := d.resolver.ResolveContact(ctx, ch, r.Phone, model.ContactHints{DisplayName: r.Name})
	if err != nil {
		return err
	}
	conv, _, err := d.conversations.FindOrCreateActive(ctx, contact.ID, ch, true)
	if err != nil {
		return err
	}

	content := c.Render(r)
	res, sendErr := d.transport.Send(ctx, channel.SendRequest{
		CompanyID: c.CompanyID,
		Channel:   ch,
		AccountID: accountID,
		Recipient: r.Phone,
		Content:   content,
	})

	campaignID := c.ID
	msg := &model.Message{
		ID:             uuid.NewString(),
		CompanyID:      c.CompanyID,
		ConversationID: conv.ID,
		Content:        content,
		Type:           model.MessageTypeText,
		Direction:      model.DirectionOutbound,
		Status:         model.DeliverySent,
		Channel:        ch,
		ExternalID:     res.ExternalID,
		CampaignID:     &campaignID,
		SentAt:         d.clock.Now(),
	}
	if sendErr != nil {
		msg.Status = model.DeliveryFailed
	}
	if err := d.messageRepo.SaveMessage(ctx, msg); err != nil {
		logger.FromContext(ctx).Warn("[campaign] message not recorded",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
	return sendErr
}

func (d *CampaignDispatcher) saveProgress(task campaignTask, processed int, results model.CampaignResults, batch int) error {
	c := task.campaign
	if err := d.campaignRepo.SaveCampaignProgress(task.ctx, c.ID, processed, results); err != nil {
		return err
	}
	c.Processed = processed
	d.emitProgress(task.ctx, c, model.EventCampaignProgress, processed, results, batch)
	return nil
}

// interrupted handles a sleep cut short. A cancel marks the campaign
// CANCELLED, a shutdown leaves it SENDING for Resume.
func (d *CampaignDispatcher) interrupted(task campaignTask, processed int, results model.CampaignResults, cause error) {
	if !d.IsRunning(task.campaign.ID) {
		d.finish(task, model.CampaignCancelled, processed, results)
		return
	}
	log := logger.FromContextOr(task.ctx, d.baseLogger)
	if processed != task.campaign.Processed {
		// The dispatcher is stopping; the write must outlive its context.
		if err := d.campaignRepo.SaveCampaignProgress(context.WithoutCancel(task.ctx), task.campaign.ID, processed, results); err != nil {
			log.Warn("[campaign] progress not saved on shutdown", zap.Error(err))
		}
	}
	log.Info("[campaign] run interrupted, will resume",
		zap.Int("processed", processed),
		zap.Error(cause),
	)
	d.unregister(task.campaign.ID)
}

func (d *CampaignDispatcher) finish(task campaignTask, status model.CampaignStatus, processed int, results model.CampaignResults) {
	c := task.campaign
	ctx := context.WithoutCancel(task.ctx)
	log := logger.FromContextOr(ctx, d.baseLogger)
	d.unregister(c.ID)

	// A run cut short inside a batch has sends the last save did not see.
	if processed != c.Processed {
		if err := d.campaignRepo.SaveCampaignProgress(ctx, c.ID, processed, results); err != nil {
			log.Warn("[campaign] final progress not saved", zap.Error(err))
		}
	}
	updated, err := d.campaignRepo.TransitionCampaign(ctx, c.ID, status, d.clock.Now())
	if err != nil {
		log.Error("[campaign] final status not saved", zap.String("status", string(status)), zap.Error(err))
		return
	}
	d.emitProgress(ctx, updated, model.EventCampaignCompleted, processed, results, 0)
	observer.IncCampaignRun(c.CompanyID, string(status))
	log.Info("[campaign] run finished",
		zap.String("status", string(status)),
		zap.Int("processed", processed),
		zap.Int("sent", results.Sent),
		zap.Int("failed", results.Failed),
	)
}

func (d *CampaignDispatcher) emitProgress(ctx context.Context, c *model.Campaign, name model.RealtimeEvent, processed int, results model.CampaignResults, batch int) {
	realtime.EmitBestEffort(ctx, d.notifier, realtime.Event{
		Name:     name,
		Audience: model.AudienceCompany,
		Data: model.CampaignProgress{
			CampaignID: c.ID,
			Status:     c.Status,
			Processed:  processed,
			Total:      len(c.Recipients),
			Sent:       results.Sent,
			Failed:     results.Failed,
			Batch:      batch,
		},
	})
}
