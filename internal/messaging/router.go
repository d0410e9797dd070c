package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/NutriNest/internal/flow"
	"github.com/BTreeMap/NutriNest/internal/media"
	"github.com/BTreeMap/NutriNest/internal/models"
)

// Commands recognised before free text reaches the conversational router.
const (
	CommandStart   = "start"
	CommandProfile = "profile"
	CommandToday   = "today"
	CommandMonth   = "month"
	CommandStory   = "story"
	CommandUpdate  = "update"
	CommandCancel  = "cancel"
	CommandHelp    = "help"
)

// Fixed command replies.
const (
	WelcomeMessage = "Welcome! A default profile was created.\n" +
		"Send PROFILE to view it and UPDATE to change details.\n" +
		"Commands: PROFILE, TODAY, STORY, MONTH, UPDATE"
	ProfileExistsHint    = "Send PROFILE to view, TODAY for meal plan, STORY for bedtime story."
	NoProfileShort       = "No profile. Send START to create one."
	MonthComingSoon      = "Monthly PDF generation is coming soon.\nFor now, use TODAY for your daily meal plan."
	MonthReady           = "Your monthly meal plan PDF is ready."
	PlanImageReady       = "A picture of today's plan is ready too."
	UpdateCancelled      = "Update cancelled."
	NothingToCancel      = "Nothing to cancel."
	HelpMessage          = "Commands: START, PROFILE, TODAY, MONTH, STORY, UPDATE, CANCEL, HELP\nOr ask me anything about feeding your baby."
	GenericFailure       = "Sorry, something went wrong. Please try again."
	profileExistsPreface = "Profile already exists.\n"
)

// Router resolves one inbound message into a reply. Active profile-update
// sessions capture all input except CANCEL; known commands come next and
// everything else goes to the conversational flow.
type Router struct {
	profiles *flow.ProfileService
	meals    *flow.MealPlanService
	stories  *flow.StoryService
	update   *flow.ProfileUpdateFlow
	convo    *flow.ConversationFlow
	pdf      media.PDFGenerator
	image    media.ImageGenerator
	now      func() time.Time
}

// RouterOption configures optional Router collaborators.
type RouterOption func(*Router)

// WithImageGenerator renders TODAY's plan as an image alongside the text reply.
func WithImageGenerator(g media.ImageGenerator) RouterOption {
	return func(r *Router) {
		if g != nil {
			r.image = g
		}
	}
}

// NewRouter creates a Router. A nil pdf uses media.StubPDFGenerator and the
// image renderer defaults to media.StubImageGenerator.
func NewRouter(profiles *flow.ProfileService, meals *flow.MealPlanService, stories *flow.StoryService,
	update *flow.ProfileUpdateFlow, convo *flow.ConversationFlow, pdf media.PDFGenerator, opts ...RouterOption) *Router {
	if pdf == nil {
		pdf = media.StubPDFGenerator{}
	}
	r := &Router{
		profiles: profiles,
		meals:    meals,
		stories:  stories,
		update:   update,
		convo:    convo,
		pdf:      pdf,
		image:    media.StubImageGenerator{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormalizeCommand lowercases and trims text for command matching.
func NormalizeCommand(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Route returns the reply for text sent by phone. It never returns an empty string.
func (r *Router) Route(ctx context.Context, phone, text string) string {
	cmd := NormalizeCommand(text)

	active, err := r.update.Active(ctx, phone)
	if err != nil {
		slog.Error("Router.Route: failed to read update session", "phone", phone, "error", err)
		return GenericFailure
	}
	if active {
		if cmd == CommandCancel {
			return r.cancel(ctx, phone)
		}
		reply, _, err := r.update.HandleInput(ctx, phone, text)
		if err != nil {
			slog.Error("Router.Route: update flow failed", "phone", phone, "error", err)
			return GenericFailure
		}
		return reply
	}

	switch cmd {
	case CommandStart:
		return r.start(ctx, phone)
	case CommandProfile:
		return r.withProfile(ctx, phone, func(p *models.BabyProfile) string {
			return r.profiles.Format(p)
		})
	case CommandToday:
		plan, err := r.meals.TodayPlan(ctx, phone, flow.MealConstraints{})
		if err != nil {
			return noticeOrFailure(phone, err)
		}
		return plan.WhatsAppText() + r.planImage(ctx, phone, plan)
	case CommandMonth:
		return r.withProfile(ctx, phone, func(p *models.BabyProfile) string {
			return r.month(ctx, phone, p)
		})
	case CommandStory:
		story, err := r.stories.Story(ctx, phone, flow.DefaultStoryLanguage)
		if err != nil {
			return noticeOrFailure(phone, err)
		}
		return story.WhatsAppText()
	case CommandUpdate:
		return r.withProfile(ctx, phone, func(p *models.BabyProfile) string {
			reply, err := r.update.Start(ctx, phone, p)
			if err != nil {
				slog.Error("Router.Route: failed to start update", "phone", phone, "error", err)
				return GenericFailure
			}
			return reply
		})
	case CommandCancel:
		return NothingToCancel
	case CommandHelp:
		return HelpMessage
	}

	return r.convo.Handle(ctx, phone, text)
}

func (r *Router) start(ctx context.Context, phone string) string {
	existing, err := r.profiles.Get(ctx, phone)
	if err != nil {
		slog.Error("Router.start: profile lookup failed", "phone", phone, "error", err)
		return GenericFailure
	}
	if existing != nil {
		return profileExistsPreface + r.profiles.Format(existing) + "\n\n" + ProfileExistsHint
	}
	if _, err := r.profiles.CreateDefault(ctx, phone); err != nil {
		return GenericFailure
	}
	return WelcomeMessage
}

func (r *Router) cancel(ctx context.Context, phone string) string {
	if err := r.update.Cancel(ctx, phone); err != nil {
		slog.Error("Router.cancel: failed", "phone", phone, "error", err)
		return GenericFailure
	}
	return UpdateCancelled
}

func (r *Router) month(ctx context.Context, phone string, p *models.BabyProfile) string {
	path, err := r.pdf.GenerateMonthlyPDF(ctx, p, r.now())
	if errors.Is(err, media.ErrNotImplemented) {
		return MonthComingSoon
	}
	if err != nil {
		slog.Error("Router.month: PDF generation failed", "phone", phone, "error", err)
		return GenericFailure
	}
	slog.Info("Router.month: PDF generated", "phone", phone, "path", path)
	return MonthReady
}

// planImage renders plan and returns the note appended to the text reply,
// or "" when no image was produced.
func (r *Router) planImage(ctx context.Context, phone string, plan *models.MealPlan) string {
	path, err := r.image.GenerateMealPlanImage(ctx, plan)
	if errors.Is(err, media.ErrNotImplemented) {
		return ""
	}
	if err != nil {
		slog.Warn("Router.planImage: image generation failed", "phone", phone, "error", err)
		return ""
	}
	slog.Info("Router.planImage: image generated", "phone", phone, "path", path)
	return "\n\n" + PlanImageReady
}

func (r *Router) withProfile(ctx context.Context, phone string, fn func(p *models.BabyProfile) string) string {
	p, err := r.profiles.Get(ctx, phone)
	if err != nil {
		slog.Error("Router.withProfile: profile lookup failed", "phone", phone, "error", err)
		return GenericFailure
	}
	if p == nil {
		return NoProfileShort
	}
	return fn(p)
}

func noticeOrFailure(phone string, err error) string {
	if msg, ok := models.NoticeMessage(err); ok {
		return msg
	}
	slog.Error("Router: command failed", "phone", phone, "error", err)
	return GenericFailure
}
