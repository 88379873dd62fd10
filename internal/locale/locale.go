// Package locale holds the fixed replies the router sends on its own behalf.
package locale

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

const (
	BotFallback  = "bot-fallback"
	BotHandoff   = "bot-handoff"
	QueuePending = "queue-pending"
)

//go:embed messages/*.json
var messageFiles embed.FS

// Catalog localizes router replies with English as the last resort.
type Catalog struct {
	bundle      *i18n.Bundle
	defaultLang string
}

// NewCatalog loads every embedded message file.
func NewCatalog(defaultLang string) (*Catalog, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := messageFiles.ReadDir("messages")
	if err != nil {
		return nil, fmt.Errorf("list message files: %w", err)
	}
	for _, e := range entries {
		name := path.Join("messages", e.Name())
		buf, err := messageFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := bundle.ParseMessageFileBytes(buf, name); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	}
	if defaultLang == "" {
		defaultLang = "en"
	}
	return &Catalog{bundle: bundle, defaultLang: defaultLang}, nil
}

// Text returns message id in lang, falling back to the default language and then English.
func (c *Catalog) Text(lang, id string) string {
	localizer := i18n.NewLocalizer(c.bundle, lang, c.defaultLang, "en")
	text, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: id})
	if err != nil || text == "" {
		return id
	}
	return text
}
