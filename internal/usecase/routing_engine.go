package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/internal/apperrors"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/keylock"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/model"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/observer"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/scheduler"
	"gitlab.com/timkado/api/daisi-conversation-router/internal/storage"
	"gitlab.com/timkado/api/daisi-conversation-router/pkg/logger"
)

type OutcomeKind string

const (
	HandledByBot    OutcomeKind = "handled_by_bot"
	AssignedToAgent OutcomeKind = "assigned_to_agent"
	QueuedPending   OutcomeKind = "queued_pending"
)

// RoutingOutcome is who ended up owning the message.
type RoutingOutcome struct {
	Kind    OutcomeKind
	AgentID string
}

// RouteRequest carries an already persisted message and its conversation.
// ReplyTo is the contact's address on the message channel.
type RouteRequest struct {
	Message      *model.Message
	Conversation *model.Conversation
	Contact      *model.Contact
	ReplyTo      string
	AccountID    string
}

// BotResponder answers a message on behalf of the company's chatbot and
// reports whether the conversation should go to a human.
type BotResponder interface {
	Handle(ctx context.Context, req RouteRequest, bot *model.Chatbot) (escalate bool, err error)
}

// PresenceReader is the part of the presence tracker routing reads.
type PresenceReader interface {
	IsOnline(agentID string) bool
}

// RoutingEngine decides between the bot and a human for each inbound message.
// Decisions for one conversation are serialized by a per-conversation lock.
type RoutingEngine struct {
	locks         *keylock.KeyLock
	lockTimeout   time.Duration
	chatbotRepo   storage.ChatbotRepo
	userRepo      storage.UserRepo
	convRepo      storage.ConversationRepo
	conversations *ConversationService
	presence      PresenceReader
	bot           BotResponder
	hours         *BusinessHours
	clock         scheduler.Clock
}

func NewRoutingEngine(
	locks *keylock.KeyLock,
	lockTimeout time.Duration,
	chatbotRepo storage.ChatbotRepo,
	userRepo storage.UserRepo,
	convRepo storage.ConversationRepo,
	conversations *ConversationService,
	presence PresenceReader,
	bot BotResponder,
	hours *BusinessHours,
	clock scheduler.Clock,
) *RoutingEngine {
	if clock == nil {
		clock = scheduler.RealClock{}
	}
	return &RoutingEngine{
		locks:         locks,
		lockTimeout:   lockTimeout,
		chatbotRepo:   chatbotRepo,
		userRepo:      userRepo,
		convRepo:      convRepo,
		conversations: conversations,
		presence:      presence,
		bot:           bot,
		hours:         hours,
		clock:         clock,
	}
}

// routeState caches what one decision has already read.
type routeState struct {
	users            []model.User
	usersLoaded      bool
	assignment       *model.ConversationAgent
	assignmentLoaded bool
}

// Route decides who handles req. Collaborator failures never surface as
// errors: the conversation fails closed into the pending queue.
func (e *RoutingEngine) Route(ctx context.Context, req RouteRequest) (RoutingOutcome, error) {
	if req.Conversation == nil || req.Message == nil {
		return RoutingOutcome{}, fmt.Errorf("%w: route needs a message and a conversation", apperrors.ErrValidation)
	}
	release, ok := e.lock(ctx, req.Conversation)
	if !ok {
		return e.decided(ctx, req.Conversation, RoutingOutcome{Kind: QueuedPending}), nil
	}
	defer release()

	return e.routeLocked(ctx, req)
}

// RouteToHuman skips the bot check, used after an escalation outside Route.
func (e *RoutingEngine) RouteToHuman(ctx context.Context, req RouteRequest) (RoutingOutcome, error) {
	if req.Conversation == nil {
		return RoutingOutcome{}, fmt.Errorf("%w: route needs a conversation", apperrors.ErrValidation)
	}
	release, ok := e.lock(ctx, req.Conversation)
	if !ok {
		return e.decided(ctx, req.Conversation, RoutingOutcome{Kind: QueuedPending}), nil
	}
	defer release()

	return e.routeToHumanLocked(ctx, req, &routeState{})
}

func (e *RoutingEngine) lock(ctx context.Context, conv *model.Conversation) (func(), bool) {
	start := time.Now()
	release, err := e.locks.Acquire(ctx, conv.ID, e.lockTimeout)
	observer.ObserveRoutingLockWait(time.Since(start))
	if err != nil {
		logger.FromContext(ctx).Warn("[routing] lock not acquired, leaving conversation queued",
			zap.String("conversation_id", conv.ID),
			zap.Int("locks_in_use", e.locks.Len()),
			zap.Error(err),
		)
		observer.IncRoutingFailure(conv.CompanyID, "lock")
		return nil, false
	}
	return release, true
}

func (e *RoutingEngine) routeLocked(ctx context.Context, req RouteRequest) (RoutingOutcome, error) {
	conv := req.Conversation
	log := logger.FromContext(ctx).With(zap.String("conversation_id", conv.ID))
	st := &routeState{}

	bot, err := e.chatbotRepo.FindEnabledChatbot(ctx)
	if err != nil && !apperrors.IsNotFoundError(err) {
		return e.failClosed(ctx, conv, st, "chatbot", err)
	}
	if bot == nil {
		return e.routeToHumanLocked(ctx, req, st)
	}

	if err := e.loadUsers(ctx, st); err != nil {
		return e.failClosed(ctx, conv, st, "users", err)
	}
	if err := e.loadAssignment(ctx, conv.ID, st); err != nil {
		return e.failClosed(ctx, conv, st, "assignment", err)
	}

	online := e.onlineStaff(st.users)
	inHours := e.hours.Contains(e.clock.Now())
	unassigned := st.assignment == nil

	// An unassigned conversation goes to the bot even with staff online.
	if online > 0 && inHours && !unassigned {
		return e.routeToHumanLocked(ctx, req, st)
	}

	log.Debug("[routing] bot handles message",
		zap.Int("online_staff", online),
		zap.Bool("in_business_hours", inHours),
		zap.Bool("unassigned", unassigned),
	)
	escalate, err := e.bot.Handle(ctx, req, bot)
	if err != nil {
		log.Warn("[routing] bot failed, routing to a human", zap.Error(err))
		observer.IncRoutingFailure(conv.CompanyID, "bot")
		return e.routeToHumanLocked(ctx, req, st)
	}
	if escalate {
		log.Info("[routing] bot escalated to a human")
		return e.routeToHumanLocked(ctx, req, st)
	}
	return e.decided(ctx, conv, RoutingOutcome{Kind: HandledByBot}), nil
}

func (e *RoutingEngine) routeToHumanLocked(ctx context.Context, req RouteRequest, st *routeState) (RoutingOutcome, error) {
	conv := req.Conversation
	log := logger.FromContext(ctx).With(zap.String("conversation_id", conv.ID))

	if err := e.loadAssignment(ctx, conv.ID, st); err != nil {
		return e.failClosed(ctx, conv, st, "assignment", err)
	}
	if st.assignment != nil {
		return e.decided(ctx, conv, RoutingOutcome{Kind: AssignedToAgent, AgentID: st.assignment.AgentID}), nil
	}

	if err := e.loadUsers(ctx, st); err != nil {
		return e.failClosed(ctx, conv, st, "users", err)
	}
	candidates := e.candidates(st.users, conv.DepartmentID)
	if len(candidates) == 0 {
		log.Info("[routing] no agent available, queueing conversation")
		if _, err := e.conversations.MarkPending(ctx, conv.ID); err != nil {
			log.Warn("[routing] mark pending failed", zap.Error(err))
		}
		return e.decided(ctx, conv, RoutingOutcome{Kind: QueuedPending}), nil
	}

	loads, err := e.userRepo.GetAgentLoads(ctx, candidates)
	if err != nil {
		return e.failClosed(ctx, conv, st, "load", err)
	}
	agentID := leastLoaded(candidates, loads)

	_, err = e.conversations.Assign(ctx, conv.ID, agentID, false)
	if apperrors.IsAlreadyAssigned(err) {
		// Someone else assigned between our read and the write; report theirs.
		current, rerr := e.convRepo.GetActiveAssignment(ctx, conv.ID)
		if rerr != nil {
			return e.failClosed(ctx, conv, st, "assignment", rerr)
		}
		return e.decided(ctx, conv, RoutingOutcome{Kind: AssignedToAgent, AgentID: current.AgentID}), nil
	}
	if err != nil {
		return e.failClosed(ctx, conv, st, "assign", err)
	}
	return e.decided(ctx, conv, RoutingOutcome{Kind: AssignedToAgent, AgentID: agentID}), nil
}

func (e *RoutingEngine) loadUsers(ctx context.Context, st *routeState) error {
	if st.usersLoaded {
		return nil
	}
	users, err := e.userRepo.ListActiveUsers(ctx)
	if err != nil {
		return err
	}
	st.users, st.usersLoaded = users, true
	return nil
}

func (e *RoutingEngine) loadAssignment(ctx context.Context, conversationID string, st *routeState) error {
	if st.assignmentLoaded {
		return nil
	}
	a, err := e.convRepo.GetActiveAssignment(ctx, conversationID)
	if err != nil && !apperrors.IsNotFoundError(err) {
		return err
	}
	st.assignment, st.assignmentLoaded = a, true
	return nil
}

func (e *RoutingEngine) onlineStaff(users []model.User) int {
	n := 0
	for _, u := range users {
		if u.Active && u.Role.CountsAsOnlineStaff() && e.presence.IsOnline(u.ID) {
			n++
		}
	}
	return n
}

// candidates lists online assignable agents. A conversation transferred to a
// department only considers that department's agents.
func (e *RoutingEngine) candidates(users []model.User, departmentID *string) []string {
	var ids []string
	for _, u := range users {
		if !u.Active || !u.Role.CanReceiveAssignments() || !e.presence.IsOnline(u.ID) {
			continue
		}
		if departmentID != nil && *departmentID != "" && (u.DepartmentID == nil || *u.DepartmentID != *departmentID) {
			continue
		}
		ids = append(ids, u.ID)
	}
	sort.Strings(ids)
	return ids
}

// leastLoaded picks the agent with the fewest active conversations, lowest id on ties.
// candidates must be sorted.
func leastLoaded(candidates []string, loads map[string]int64) string {
	best := candidates[0]
	for _, id := range candidates[1:] {
		if loads[id] < loads[best] {
			best = id
		}
	}
	return best
}

// failClosed parks the conversation in the queue after a collaborator failure.
// A conversation with a known assignee keeps it; the store also refuses to
// queue one whose assignee this decision never got to read.
func (e *RoutingEngine) failClosed(ctx context.Context, conv *model.Conversation, st *routeState, stage string, cause error) (RoutingOutcome, error) {
	log := logger.FromContext(ctx).With(zap.String("conversation_id", conv.ID), zap.String("stage", stage))
	log.Error("[routing] collaborator failed, queueing conversation", zap.Error(cause))
	observer.IncRoutingFailure(conv.CompanyID, stage)

	if st.assignment != nil {
		return e.decided(ctx, conv, RoutingOutcome{Kind: AssignedToAgent, AgentID: st.assignment.AgentID}), nil
	}
	if _, err := e.conversations.MarkPending(ctx, conv.ID); err != nil {
		log.Warn("[routing] mark pending failed", zap.Error(err))
	}
	return e.decided(ctx, conv, RoutingOutcome{Kind: QueuedPending}), nil
}

func (e *RoutingEngine) decided(ctx context.Context, conv *model.Conversation, out RoutingOutcome) RoutingOutcome {
	observer.IncRoutingDecision(conv.CompanyID, string(out.Kind))
	logger.FromContext(ctx).Info("[routing] decided",
		zap.String("conversation_id", conv.ID),
		zap.String("outcome", string(out.Kind)),
		zap.String("agent_id", out.AgentID),
	)
	return out
}
