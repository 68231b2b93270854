// Package i18n renders user-facing warnings (conflicts, truncated series,
// validation errors) in the configured locale.
package i18n

import (
	"embed"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"

	appLog "calgrid/internal/log"
)

//go:embed active.*.toml
var localeFS embed.FS

// Message ids.
const (
	ConflictRoomBusy        = "conflict_room_busy"
	ConflictParticipantBusy = "conflict_participant_busy"
	ConflictUnknown         = "conflict_unknown"
	ConflictNone            = "conflict_none"
	RecurrenceTruncated     = "recurrence_truncated"
	ErrorInvalidInterval    = "error_invalid_interval"
	ErrorInvalidRule        = "error_invalid_rule"
)

// Translator wraps a go-i18n Bundle.
type Translator struct {
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
}

// NewTranslator loads the embedded catalogs; defaultLocale (e.g. "en") is
// the fallback for unknown or missing locales.
func NewTranslator(defaultLocale string) *Translator {
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		tag = language.English
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, file := range []string{"active.en.toml", "active.fr.toml"} {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			appLog.Error("i18n: failed to load catalog", err, "file", file)
		}
	}
	return &Translator{bundle: bundle, defaultLanguage: tag}
}

// T renders key for locale, falling back to the default locale and then to
// the key itself.
func (t *Translator) T(locale, key string, data map[string]any) string {
	return t.localize(locale, &i18n.LocalizeConfig{MessageID: key, TemplateData: data})
}

// N is T with plural selection on count; data may be nil, Count is added.
func (t *Translator) N(locale, key string, count int, data map[string]any) string {
	if data == nil {
		data = map[string]any{}
	}
	data["Count"] = count
	return t.localize(locale, &i18n.LocalizeConfig{MessageID: key, TemplateData: data, PluralCount: count})
}

func (t *Translator) localize(locale string, cfg *i18n.LocalizeConfig) string {
	if cfg.MessageID == "" {
		return ""
	}
	var languages []string
	if locale != "" {
		languages = append(languages, locale)
	}
	languages = append(languages, t.defaultLanguage.String())

	msg, err := i18n.NewLocalizer(t.bundle, languages...).Localize(cfg)
	if err != nil {
		appLog.Warn("i18n: localize failed", "key", cfg.MessageID, "locales", languages, "err", err)
		return cfg.MessageID
	}
	return msg
}
