// Package i18n localizes the messages of client-visible error frames.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/amoylab/chatmesh/internal/common/cnst"
)

//go:embed translations/*.toml
var translations embed.FS

var supportedLangs = []string{cnst.LangEN, cnst.LangKO}

// I18n manages internationalization and translations
type I18n struct {
	bundle      *i18n.Bundle
	defaultLang string
}

// New creates a translator with the embedded translations loaded. An
// unsupported defaultLang falls back to English.
func New(defaultLang string) (*I18n, error) {
	defaultLang = normalizeLang(defaultLang, cnst.LangDefault)

	bundle := i18n.NewBundle(language.Make(defaultLang))
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	files, err := fs.Glob(translations, "translations/*.toml")
	if err != nil {
		return nil, fmt.Errorf("failed to list translations: %w", err)
	}
	for _, f := range files {
		if _, err := bundle.LoadMessageFileFS(translations, f); err != nil {
			return nil, fmt.Errorf("failed to load translation %s: %w", f, err)
		}
	}

	return &I18n{bundle: bundle, defaultLang: defaultLang}, nil
}

// DefaultLang returns the language used when a client states none
func (i *I18n) DefaultLang() string {
	return i.defaultLang
}

// Translate returns a localized string for the given message ID and language
func (i *I18n) Translate(msgID string, lang string, templateData map[string]any) string {
	localizer := i18n.NewLocalizer(i.bundle, lang, i.defaultLang)

	lc := &i18n.LocalizeConfig{
		MessageID: msgID,
	}
	if len(templateData) > 0 {
		lc.TemplateData = templateData
	}

	msg, err := localizer.Localize(lc)
	if err != nil {
		return msgID // Return original message ID if translation fails
	}
	return msg
}

// LanguageFromRequest extracts the language preference of a handshake: the
// X-Lang header, then the lang query parameter, then Accept-Language.
func (i *I18n) LanguageFromRequest(r *http.Request) string {
	if lang := r.Header.Get(cnst.XLang); lang != "" {
		return normalizeLang(lang, i.defaultLang)
	}
	if lang := r.URL.Query().Get(cnst.QueryLang); lang != "" {
		return normalizeLang(lang, i.defaultLang)
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		tags, _, err := language.ParseAcceptLanguage(accept)
		if err == nil && len(tags) > 0 {
			base, _ := tags[0].Base()
			return normalizeLang(base.String(), i.defaultLang)
		}
	}
	return i.defaultLang
}

// normalizeLang standardizes language codes
func normalizeLang(lang, fallback string) string {
	langCode := strings.ToLower(strings.Split(lang, "-")[0])
	for _, supported := range supportedLangs {
		if langCode == supported {
			return langCode
		}
	}
	return fallback
}
