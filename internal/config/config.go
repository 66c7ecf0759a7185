// Package config reads the service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"booking-assistant/internal/booking"
	"booking-assistant/internal/clock"
	"booking-assistant/internal/repository"
)

const (
	KeyStateTable            = "state_table"
	KeyParamPrefix           = "param_prefix"
	KeyCalendarID            = "calendar_id"
	KeyPhoneNumberID         = "whatsapp_phone_number_id"
	KeyOperatorPhone         = "operator_phone"
	KeyTimezone              = "timezone"
	KeyDaysAhead             = "days_ahead"
	KeySlotDuration          = "slot_duration_minutes"
	KeyMaxOfferedSlots       = "max_offered_slots"
	KeyDedupTTL              = "dedup_ttl"
	KeyMinNameLength         = "min_name_length"
	KeyProviderTimeout       = "provider_timeout"
	KeyBookingConflictPolicy = "booking_conflict_policy"
	KeyStateLocking          = "state_locking"
	KeySpreadsheetID         = "spreadsheet_id"
	KeySheetRange            = "sheet_range"
	KeyBusinessRulesFile     = "business_rules_file"
	KeyReminderAlertWindow   = "reminder_alert_window"
	KeyLogLevel              = "log_level"
	KeyLogFormat             = "log_format"
	KeyWhatsAppBaseURL       = "whatsapp_api_base_url"
	KeyTemplateLanguage      = "whatsapp_template_language"
	KeyConfirmationTemplate  = "whatsapp_confirmation_template"
	KeyNewBookingTemplate    = "whatsapp_new_booking_template"
	KeyUnconfirmedTemplate   = "whatsapp_unconfirmed_template"
)

// Config is the typed view of every setting the binaries read.
type Config struct {
	StateTable            string
	ParamPrefix           string
	CalendarID            string
	PhoneNumberID         string
	OperatorPhone         string
	Timezone              string
	DaysAhead             int
	SlotDuration          int
	MaxOfferedSlots       int
	DedupTTL              time.Duration
	MinNameLength         int
	ProviderTimeout       time.Duration
	BookingConflictPolicy string
	StateLocking          string
	SpreadsheetID         string
	SheetRange            string
	BusinessRulesFile     string
	ReminderAlertWindow   time.Duration
	LogLevel              string
	LogFormat             string
	WhatsAppBaseURL       string
	// Template names are approved WhatsApp templates; an empty name sends a
	// free-form message instead.
	TemplateLanguage     string
	ConfirmationTemplate string
	NewBookingTemplate   string
	UnconfirmedTemplate  string
}

// SetDefaults registers defaults and environment binding on v.
func SetDefaults(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyTimezone, "America/Fortaleza")
	v.SetDefault(KeyDaysAhead, 45)
	v.SetDefault(KeySlotDuration, 60)
	v.SetDefault(KeyMaxOfferedSlots, 8)
	v.SetDefault(KeyDedupTTL, "40s")
	v.SetDefault(KeyMinNameLength, 3)
	v.SetDefault(KeyProviderTimeout, "10s")
	v.SetDefault(KeyBookingConflictPolicy, string(booking.PolicyVerify))
	v.SetDefault(KeyStateLocking, string(repository.LockingNone))
	v.SetDefault(KeySheetRange, "Sheet1!A:A")
	v.SetDefault(KeyReminderAlertWindow, "2h")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyTemplateLanguage, "pt_BR")
	v.SetDefault(KeyConfirmationTemplate, "nova_consulta_admin")
	v.SetDefault(KeyNewBookingTemplate, "nova_consulta_admin_utilidade")
}

// FromViper reads the typed config out of v.
func FromViper(v *viper.Viper) Config {
	return Config{
		StateTable:            strings.TrimSpace(v.GetString(KeyStateTable)),
		ParamPrefix:           strings.TrimSpace(v.GetString(KeyParamPrefix)),
		CalendarID:            strings.TrimSpace(v.GetString(KeyCalendarID)),
		PhoneNumberID:         strings.TrimSpace(v.GetString(KeyPhoneNumberID)),
		OperatorPhone:         strings.TrimSpace(v.GetString(KeyOperatorPhone)),
		Timezone:              strings.TrimSpace(v.GetString(KeyTimezone)),
		DaysAhead:             v.GetInt(KeyDaysAhead),
		SlotDuration:          v.GetInt(KeySlotDuration),
		MaxOfferedSlots:       v.GetInt(KeyMaxOfferedSlots),
		DedupTTL:              v.GetDuration(KeyDedupTTL),
		MinNameLength:         v.GetInt(KeyMinNameLength),
		ProviderTimeout:       v.GetDuration(KeyProviderTimeout),
		BookingConflictPolicy: strings.TrimSpace(v.GetString(KeyBookingConflictPolicy)),
		StateLocking:          strings.TrimSpace(v.GetString(KeyStateLocking)),
		SpreadsheetID:         strings.TrimSpace(v.GetString(KeySpreadsheetID)),
		SheetRange:            strings.TrimSpace(v.GetString(KeySheetRange)),
		BusinessRulesFile:     strings.TrimSpace(v.GetString(KeyBusinessRulesFile)),
		ReminderAlertWindow:   v.GetDuration(KeyReminderAlertWindow),
		LogLevel:              v.GetString(KeyLogLevel),
		LogFormat:             v.GetString(KeyLogFormat),
		WhatsAppBaseURL:       strings.TrimSpace(v.GetString(KeyWhatsAppBaseURL)),
		TemplateLanguage:      strings.TrimSpace(v.GetString(KeyTemplateLanguage)),
		ConfirmationTemplate:  strings.TrimSpace(v.GetString(KeyConfirmationTemplate)),
		NewBookingTemplate:    strings.TrimSpace(v.GetString(KeyNewBookingTemplate)),
		UnconfirmedTemplate:   strings.TrimSpace(v.GetString(KeyUnconfirmedTemplate)),
	}
}

// Load reads the environment into a validated Config.
func Load() (Config, error) {
	v := viper.New()
	SetDefaults(v)
	return LoadFrom(v)
}

// LoadFrom validates the Config held by v.
func LoadFrom(v *viper.Viper) (Config, error) {
	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	required := []struct {
		key, val string
	}{
		{KeyStateTable, c.StateTable},
		{KeyParamPrefix, c.ParamPrefix},
		{KeyCalendarID, c.CalendarID},
		{KeyPhoneNumberID, c.PhoneNumberID},
		{KeyOperatorPhone, c.OperatorPhone},
	}
	for _, r := range required {
		if r.val == "" {
			errs = append(errs, fmt.Errorf("%s is required", strings.ToUpper(r.key)))
		}
	}

	positive := []struct {
		key string
		val int64
	}{
		{KeyDaysAhead, int64(c.DaysAhead)},
		{KeySlotDuration, int64(c.SlotDuration)},
		{KeyMaxOfferedSlots, int64(c.MaxOfferedSlots)},
		{KeyMinNameLength, int64(c.MinNameLength)},
		{KeyDedupTTL, int64(c.DedupTTL)},
		{KeyProviderTimeout, int64(c.ProviderTimeout)},
		{KeyReminderAlertWindow, int64(c.ReminderAlertWindow)},
	}
	for _, p := range positive {
		if p.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", strings.ToUpper(p.key)))
		}
	}

	if _, err := clock.LoadZone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", strings.ToUpper(KeyTimezone), err))
	}
	if _, err := booking.ParsePolicy(c.BookingConflictPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := repository.ParseLocking(c.StateLocking); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
