// Package app wires configuration, AWS and Google clients into the services
// shared by every binary.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"booking-assistant/internal/availability"
	"booking-assistant/internal/booking"
	"booking-assistant/internal/clock"
	"booking-assistant/internal/config"
	"booking-assistant/internal/dialogue"
	"booking-assistant/internal/integrations/gcalendar"
	"booking-assistant/internal/integrations/gsheets"
	"booking-assistant/internal/integrations/paramstore"
	"booking-assistant/internal/integrations/whatsapp"
	"booking-assistant/internal/repository"
	"booking-assistant/internal/schedule"
	"booking-assistant/internal/usecase"
)

const (
	paramGoogleAccount = "google-service-account"
	paramVerifyToken   = "whatsapp-verify-token"
	paramAppSecret     = "whatsapp-app-secret"
)

// ConfigurationError means the process cannot start. Binaries exit on it
// before serving anything.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Calendar is every calendar capability the services need.
type Calendar interface {
	availability.BusyQuerier
	booking.EventCreator
	usecase.EventLister
}

// Store is the conversation state store plus the dedup gate.
type Store interface {
	repository.StateStore
	repository.DedupGate
}

// Parts are the external adapters Wire assembles.
type Parts struct {
	Store    Store
	Calendar Calendar
	Sender   usecase.MessageSender
	Audit    usecase.AuditLog
	Rules    *schedule.Rules
	Clock    clock.Clock
	Params   paramstore.Getter
}

// App holds the wired services.
type App struct {
	Config    config.Config
	Zone      clock.Zone
	Store     Store
	Params    paramstore.Getter
	Slots     *availability.Engine
	Messages  *usecase.MessageService
	Reminders *usecase.ReminderService
}

// New builds the production adapters from cfg and wires them.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	zone, err := clock.LoadZone(cfg.Timezone)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("load AWS config: %w", err)}
	}

	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	locking, err := repository.ParseLocking(cfg.StateLocking)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable,
		repository.WithDedupTTL(cfg.DedupTTL),
		repository.WithLocking(locking),
	)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	credentials, err := params.GetParameter(ctx, paramstore.Join(cfg.ParamPrefix, paramGoogleAccount))
	if err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("load google credentials: %w", err)}
	}
	cal, err := gcalendar.NewFromCredentials(ctx, []byte(credentials), cfg.CalendarID, zone, gcalendar.WithTimeout(cfg.ProviderTimeout))
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	var audit usecase.AuditLog = gsheets.LogAudit{}
	if cfg.SpreadsheetID != "" {
		audit, err = gsheets.NewFromCredentials(ctx, []byte(credentials), cfg.SpreadsheetID, cfg.SheetRange, zone, cfg.ProviderTimeout)
		if err != nil {
			return nil, &ConfigurationError{Err: err}
		}
	}

	sender, err := newSender(ctx, params, cfg)
	if err != nil {
		return nil, err
	}

	rules, err := schedule.Load(cfg.BusinessRulesFile)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	return Wire(cfg, zone, Parts{
		Store:    store,
		Calendar: cal,
		Sender:   sender,
		Audit:    audit,
		Rules:    rules,
		Clock:    clock.Real{},
		Params:   params,
	})
}

// newSender builds the WhatsApp client and fetches its access token, so a
// missing credential stops the process before it accepts traffic.
func newSender(ctx context.Context, params paramstore.Getter, cfg config.Config) (*whatsapp.Client, error) {
	opts := []whatsapp.Option{whatsapp.WithHTTPClient(&http.Client{Timeout: cfg.ProviderTimeout})}
	if cfg.WhatsAppBaseURL != "" {
		opts = append(opts, whatsapp.WithBaseURL(cfg.WhatsAppBaseURL))
	}
	sender, err := whatsapp.NewClient(params, cfg.ParamPrefix, cfg.PhoneNumberID, opts...)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sender.Warm(ctx); err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("load whatsapp token: %w", err)}
	}
	return sender, nil
}

// Wire assembles the services from already built adapters.
func Wire(cfg config.Config, zone clock.Zone, p Parts) (*App, error) {
	if p.Clock == nil {
		p.Clock = clock.Real{}
	}
	if p.Rules == nil {
		rules, err := schedule.Default()
		if err != nil {
			return nil, &ConfigurationError{Err: err}
		}
		p.Rules = rules
	}

	engine, err := availability.New(p.Calendar, p.Rules, zone, p.Clock)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	policy, err := booking.ParsePolicy(cfg.BookingConflictPolicy)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	coordinator, err := booking.NewCoordinator(p.Calendar, engine, policy)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	templates := usecase.Templates{
		Language:     cfg.TemplateLanguage,
		Confirmation: cfg.ConfirmationTemplate,
		NewBooking:   cfg.NewBookingTemplate,
		Unconfirmed:  cfg.UnconfirmedTemplate,
	}
	messages, err := usecase.NewMessageService(usecase.Dependencies{
		Dedup:   p.Store,
		States:  p.Store,
		Slots:   engine,
		Booker:  coordinator,
		Sender:  p.Sender,
		Audit:   p.Audit,
		Machine: dialogue.New(dialogue.Config{MinNameLength: cfg.MinNameLength}),
		Zone:    zone,
		Clock:   p.Clock,
	}, usecase.Settings{
		DaysAhead:       cfg.DaysAhead,
		SlotDuration:    cfg.SlotDuration,
		MaxOfferedSlots: cfg.MaxOfferedSlots,
		ProviderTimeout: cfg.ProviderTimeout,
		OperatorPhone:   cfg.OperatorPhone,
		Templates:       templates,
	})
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	reminders, err := usecase.NewReminderService(p.Calendar, p.Store, p.Sender, engine, zone, p.Clock, cfg.OperatorPhone, cfg.ProviderTimeout,
		usecase.WithTemplates(templates))
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	return &App{
		Config:    cfg,
		Zone:      zone,
		Store:     p.Store,
		Params:    p.Params,
		Slots:     engine,
		Messages:  messages,
		Reminders: reminders,
	}, nil
}

// WebhookSecrets loads the verification token and the optional app secret.
func (a *App) WebhookSecrets(ctx context.Context) (verifyToken, appSecret string, err error) {
	if a.Params == nil {
		return "", "", &ConfigurationError{Err: errors.New("parameter store is not configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	verifyToken, err = a.Params.GetParameter(ctx, paramstore.Join(a.Config.ParamPrefix, paramVerifyToken))
	if err != nil {
		return "", "", &ConfigurationError{Err: fmt.Errorf("load verify token: %w", err)}
	}
	appSecret, err = paramstore.GetOptional(ctx, a.Params, paramstore.Join(a.Config.ParamPrefix, paramAppSecret))
	if err != nil {
		return "", "", &ConfigurationError{Err: fmt.Errorf("load app secret: %w", err)}
	}
	return verifyToken, appSecret, nil
}
