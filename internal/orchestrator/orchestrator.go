// Package orchestrator runs one widget chat request end to end: tenant
// config, rate limit, replay detection, reply generation, the conditional
// state commit and CTA routing.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/widgetchat/internal/conversation"
	"github.com/wolfman30/widgetchat/internal/events"
	"github.com/wolfman30/widgetchat/internal/protect"
	"github.com/wolfman30/widgetchat/internal/ratelimit"
	"github.com/wolfman30/widgetchat/internal/responder"
	"github.com/wolfman30/widgetchat/internal/routing"
	"github.com/wolfman30/widgetchat/internal/tenancy"
	"github.com/wolfman30/widgetchat/internal/tenantconfig"
	"github.com/wolfman30/widgetchat/pkg/logging"
)

// ResponderDependency is the ProtectedCaller dependency name for replies.
const ResponderDependency = "responder"

// RateLimiterDependency guards the shared rate limit backend.
const RateLimiterDependency = "rate_limiter"

// summaryLastBranch is the session summary key holding the routed branch.
const summaryLastBranch = "last_branch_id"

var tracer = otel.Tracer("widgetchat.internal.orchestrator")

// ConfigResolver returns validated tenant configuration.
type ConfigResolver interface {
	Resolve(ctx context.Context, handle string) (*tenantconfig.TenantConfig, error)
}

// SessionStore is the versioned conversation state.
type SessionStore interface {
	Get(ctx context.Context, key conversation.Key) (*conversation.Session, error)
	Update(ctx context.Context, key conversation.Key, fn func(current *conversation.Session) (conversation.Mutation, error)) (*conversation.Session, error)
}

// Router maps a branch id to showcase and CTAs.
type Router interface {
	Resolve(branchID string, cfg *tenantconfig.TenantConfig) routing.Resolved
}

// RequestObserver records request outcomes.
type RequestObserver interface {
	ObserveRequest(code string, elapsed time.Duration)
}

// Options wires the orchestrator.
type Options struct {
	Configs   ConfigResolver
	Sessions  SessionStore
	Router    Router
	Limiter   ratelimit.Limiter
	Responder responder.Responder
	Caller    *protect.Caller
	// Events receives one audit event per request and one outbound event
	// per committed turn. It is called on the response path, so network
	// sinks go behind an events.Queue. Optional.
	Events         events.Sink
	Observer       RequestObserver
	RequestTimeout time.Duration
	// HistoryLimit bounds the prior messages handed to the responder.
	HistoryLimit int
	Logger       *logging.Logger
}

// Orchestrator handles chat requests.
type Orchestrator struct {
	configs        ConfigResolver
	sessions       SessionStore
	router         Router
	limiter        ratelimit.Limiter
	responder      responder.Responder
	caller         *protect.Caller
	events         events.Sink
	observer       RequestObserver
	requestTimeout time.Duration
	historyLimit   int
	logger         *logging.Logger
	now            func() time.Time
}

// New builds an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Orchestrator{
		configs:        opts.Configs,
		sessions:       opts.Sessions,
		router:         opts.Router,
		limiter:        opts.Limiter,
		responder:      opts.Responder,
		caller:         opts.Caller,
		events:         opts.Events,
		observer:       opts.Observer,
		requestTimeout: opts.RequestTimeout,
		historyLimit:   opts.HistoryLimit,
		logger:         opts.Logger,
		now:            time.Now,
	}
}

// progress accumulates what a request did, for audit and logs.
type progress struct {
	stage    Stage
	turn     int
	replay   bool
	branchID string
	tier     routing.Tier
	ctaIDs   []string
}

// Handle processes one request. It returns exactly one of a Response or an
// *Error.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Response, error) {
	start := o.now()
	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "chat.handle")
	defer span.End()

	tr := &progress{stage: StageReceived}
	resp, herr := o.handle(ctx, &req, tr)

	code := CodeOK
	if herr != nil {
		code = string(herr.Code)
	}
	elapsed := o.now().Sub(start)
	span.SetAttributes(
		attribute.String("widgetchat.tenant", tenancy.LogHandle(req.TenantHandle)),
		attribute.String("widgetchat.stage", string(tr.stage)),
		attribute.String("widgetchat.code", code),
		attribute.Bool("widgetchat.replayed", tr.replay),
	)
	if herr != nil {
		span.RecordError(herr)
		span.SetStatus(codes.Error, code)
	}
	o.audit(context.WithoutCancel(ctx), req, tr, code, elapsed)
	if o.observer != nil {
		o.observer.ObserveRequest(code, elapsed)
	}

	log := o.logger.With(
		"tenant", tenancy.LogHandle(req.TenantHandle),
		"request_id", req.RequestID,
		"stage", string(tr.stage),
		"duration_ms", elapsed.Milliseconds(),
	)
	if herr != nil {
		if herr.Status >= 500 {
			log.Error("chat request failed", "code", code, "error", herr.Err)
		} else {
			log.Info("chat request rejected", "code", code)
		}
		return nil, herr
	}
	log.Info("chat request handled", "turn", resp.Turn, "replay", resp.Replayed, "tier", tr.tier.String())
	return resp, nil
}

func (o *Orchestrator) handle(ctx context.Context, req *Request, tr *progress) (*Response, *Error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	ctx = tenancy.WithTenantHandle(ctx, req.TenantHandle)

	cfg, err := o.configs.Resolve(ctx, req.TenantHandle)
	if err != nil {
		return nil, o.configError(ctx, tr.stage, err)
	}
	tr.stage = StageConfigResolved

	key := conversation.Key{TenantHandle: req.TenantHandle, SessionID: req.SessionID}
	userKey := conversation.IdempotencyKey(key.String(), req.RequestID, conversation.RoleUser)
	replyKey := conversation.IdempotencyKey(key.String(), req.RequestID, conversation.RoleAssistant)

	prior, herr := o.currentSession(ctx, key, tr.stage)
	if herr != nil {
		return nil, herr
	}
	if prior != nil && userKey != "" {
		if _, ok := prior.FindByKey(userKey); ok {
			return o.replay(ctx, cfg, prior, userKey, replyKey, tr)
		}
	}

	if herr := o.checkRate(ctx, key); herr != nil {
		return nil, herr
	}
	tr.stage = StageRateChecked

	reply, herr := o.generate(ctx, cfg, prior, req.Content)
	if herr != nil {
		return nil, herr
	}
	branchID := selectBranch(cfg, req.BranchHint, reply.BranchID, req.Content)

	replayed := false
	sess, err := o.sessions.Update(ctx, key, func(current *conversation.Session) (conversation.Mutation, error) {
		if current != nil && userKey != "" {
			if _, ok := current.FindByKey(userKey); ok {
				replayed = true
				return conversation.Mutation{Skip: true}, nil
			}
		}
		mut := conversation.Mutation{
			Batch: []conversation.Message{
				{IdempotencyKey: userKey, Role: conversation.RoleUser, Content: req.Content},
				{IdempotencyKey: replyKey, Role: conversation.RoleAssistant, Content: reply.Content, BranchID: branchID},
			},
		}
		if branchID != "" {
			mut.Delta = map[string]any{summaryLastBranch: branchID}
		}
		return mut, nil
	})
	if err != nil {
		return nil, o.stateError(ctx, tr.stage, err)
	}
	if replayed {
		return o.replay(ctx, cfg, sess, userKey, replyKey, tr)
	}
	tr.stage = StageStateApplied

	committed, ok := assistantMessage(sess, replyKey)
	if !ok {
		return nil, newError(CodeInternal, tr.stage, errors.New("committed reply not found in session"))
	}
	resp, herr := o.respond(ctx, cfg, committed, false, tr)
	if herr != nil {
		return nil, herr
	}
	o.emitTurn(context.WithoutCancel(ctx), req, tr)
	return resp, nil
}

// replay rebuilds the original response from stored state. No new turn is
// produced and no dependency beyond config and state is consulted.
func (o *Orchestrator) replay(ctx context.Context, cfg *tenantconfig.TenantConfig, sess *conversation.Session, userKey, replyKey string, tr *progress) (*Response, *Error) {
	tr.replay = true
	tr.stage = StageStateApplied

	reply, ok := sess.FindByKey(replyKey)
	if !ok {
		// The user message landed without its reply; surface what we know.
		user, _ := sess.FindByKey(userKey)
		reply = conversation.Message{Role: conversation.RoleAssistant, Turn: user.Turn, BranchID: sess.SummaryString(summaryLastBranch)}
	}
	return o.respond(ctx, cfg, reply, true, tr)
}

func (o *Orchestrator) respond(ctx context.Context, cfg *tenantconfig.TenantConfig, reply conversation.Message, replayed bool, tr *progress) (*Response, *Error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(CodeRequestTimeout, tr.stage, err)
	}
	routed := o.router.Resolve(reply.BranchID, cfg)
	tr.stage = StageRoutingResolved
	tr.turn = reply.Turn
	tr.branchID = reply.BranchID
	tr.tier = routed.Tier

	resp := &Response{
		Content:  reply.Content,
		Turn:     reply.Turn,
		BranchID: reply.BranchID,
		Showcase: routed.Showcase,
		Replayed: replayed,
		CTAs:     CTAs{
			Primary:   routed.Primary,
			Secondary: routed.Secondary,
		},
	}
	if resp.CTAs.Secondary == nil {
		resp.CTAs.Secondary = []tenantconfig.CTA{}
	}
	if routed.Primary != nil {
		tr.ctaIDs = append(tr.ctaIDs, routed.Primary.ID)
	}
	for _, c := range routed.Secondary {
		tr.ctaIDs = append(tr.ctaIDs, c.ID)
	}
	tr.stage = StageResponded
	return resp, nil
}

func (o *Orchestrator) currentSession(ctx context.Context, key conversation.Key, stage Stage) (*conversation.Session, *Error) {
	sess, err := o.sessions.Get(ctx, key)
	if errors.Is(err, conversation.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, o.stateError(ctx, stage, err)
	}
	return sess, nil
}

func (o *Orchestrator) checkRate(ctx context.Context, key conversation.Key) *Error {
	if o.limiter == nil {
		return nil
	}
	decision, err := protect.Call(ctx, o.caller, protect.Operation{
		Dependency: RateLimiterDependency,
		Name:       "allow",
		Class:      protect.ClassRead,
	}, func(ctx context.Context) (ratelimit.Decision, error) {
		return o.limiter.Allow(ctx, key.String())
	})
	if err != nil {
		o.logger.Warn("rate limiter unavailable, allowing request",
			"tenant", tenancy.LogHandle(key.TenantHandle),
			"error", err,
		)
		return nil
	}
	if !decision.Allowed {
		e := newError(CodeRateLimited, StageConfigResolved, nil)
		e.RetryAfter = decision.RetryAfter
		return e
	}
	return nil
}

func (o *Orchestrator) generate(ctx context.Context, cfg *tenantconfig.TenantConfig, prior *conversation.Session, content string) (responder.Reply, *Error) {
	if err := ctx.Err(); err != nil {
		return responder.Reply{}, newError(CodeRequestTimeout, StageRateChecked, err)
	}
	in := responder.Request{
		Message:  content,
		Branches: branchIDs(cfg),
	}
	if prior != nil {
		in.CurrentBranch = prior.SummaryString(summaryLastBranch)
		msgs := prior.Messages
		if len(msgs) > o.historyLimit {
			msgs = msgs[len(msgs)-o.historyLimit:]
		}
		for _, m := range msgs {
			in.History = append(in.History, responder.Turn{Role: m.Role, Content: m.Content})
		}
	}

	reply, err := protect.Call(ctx, o.caller, protect.Operation{
		Dependency: ResponderDependency,
		Name:       "generate_reply",
		Class:      protect.ClassInference,
		Idempotent: true,
	}, func(ctx context.Context) (responder.Reply, error) {
		return o.responder.Reply(ctx, in)
	})
	if err != nil {
		if timedOut(ctx) {
			return responder.Reply{}, newError(CodeRequestTimeout, StageRateChecked, err)
		}
		return responder.Reply{}, newError(CodeResponderUnavailable, StageRateChecked, err)
	}
	return reply, nil
}

func (o *Orchestrator) configError(ctx context.Context, stage Stage, err error) *Error {
	kind, ok := tenantconfig.KindOf(err)
	switch {
	case ok && kind == tenantconfig.NotFound:
		return newError(CodeTenantNotFound, stage, err)
	case ok && kind == tenantconfig.Invalid:
		return newError(CodeTenantConfigInvalid, stage, err)
	case timedOut(ctx):
		return newError(CodeRequestTimeout, stage, err)
	case ok && kind == tenantconfig.Unavailable:
		return newError(CodeConfigUnavailable, stage, err)
	}
	return newError(CodeInternal, stage, err)
}

func (o *Orchestrator) stateError(ctx context.Context, stage Stage, err error) *Error {
	kind, ok := conversation.KindOf(err)
	switch {
	case ok && (kind == conversation.Contention || kind == conversation.VersionConflict):
		return newError(CodeStateContention, stage, err)
	case timedOut(ctx):
		return newError(CodeRequestTimeout, stage, err)
	case ok && kind == conversation.Unavailable:
		return newError(CodeStateUnavailable, stage, err)
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(CodeInternal, stage, err)
}

func (o *Orchestrator) audit(ctx context.Context, req Request, tr *progress, code string, elapsed time.Duration) {
	if o.events == nil {
		return
	}
	ev := events.New(events.TypeChatRequest)
	ev.Tenant = tenancy.LogHandle(req.TenantHandle)
	ev.Session = tenancy.LogHandle(req.SessionID)
	ev.RequestID = req.RequestID
	ev.Action = "chat"
	ev.Outcome = code
	ev.Stage = string(tr.stage)
	ev.DurationMS = elapsed.Milliseconds()
	ev.Turn = tr.turn
	ev.Replay = tr.replay
	ev.BranchID = tr.branchID
	if code == CodeOK {
		ev.Tier = tr.tier.String()
	}
	ev.CTAIDs = tr.ctaIDs
	if err := o.events.Emit(ctx, ev); err != nil {
		o.logger.Warn("audit emit failed", "error", err)
	}
}

func (o *Orchestrator) emitTurn(ctx context.Context, req *Request, tr *progress) {
	if o.events == nil {
		return
	}
	ev := events.New(events.TypeTurnCompleted)
	ev.Tenant = tenancy.LogHandle(req.TenantHandle)
	ev.Session = tenancy.LogHandle(req.SessionID)
	ev.RequestID = req.RequestID
	ev.Action = "turn_completed"
	ev.Outcome = CodeOK
	ev.Turn = tr.turn
	ev.BranchID = tr.branchID
	ev.Tier = tr.tier.String()
	ev.CTAIDs = tr.ctaIDs
	if err := o.events.Emit(ctx, ev); err != nil {
		o.logger.Warn("turn event emit failed", "error", err)
	}
}

// assistantMessage finds the reply committed for this request. Requests
// without an idempotency key fall back to the newest assistant message.
func assistantMessage(sess *conversation.Session, replyKey string) (conversation.Message, bool) {
	if sess == nil {
		return conversation.Message{}, false
	}
	if replyKey != "" {
		return sess.FindByKey(replyKey)
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == conversation.RoleAssistant {
			return sess.Messages[i], true
		}
	}
	return conversation.Message{}, false
}

func timedOut(ctx context.Context) bool {
	return ctx.Err() != nil
}
