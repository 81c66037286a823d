package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonbmost/acquisition-assistant/internal/config"
	"github.com/jonbmost/acquisition-assistant/internal/knowledge"
	"github.com/jonbmost/acquisition-assistant/internal/llm"
	"github.com/jonbmost/acquisition-assistant/internal/prompt"
	"github.com/jonbmost/acquisition-assistant/internal/session"
)

func applyProviderOverrides(cfg *config.Config, providerFlag string) error {
	if providerFlag == "" {
		return nil
	}
	overrideProvider, overrideModel, err := llm.ParseProviderModel(providerFlag)
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(overrideProvider, overrideModel)
	return nil
}

// loadKnowledge reads the repository knowledge base and, when history is
// enabled, the documents uploaded in earlier runs.
func loadKnowledge(ctx context.Context, cfg *config.Config, store session.Store, logger *slog.Logger) (*knowledge.Base, error) {
	docs, err := knowledge.LoadDir(cfg.Knowledge.Dir)
	if err != nil {
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}
	kb := knowledge.NewBase(docs)
	if store == nil {
		return kb, nil
	}
	uploads, err := store.ListDocuments(ctx)
	if err != nil {
		logger.Warn("failed to load uploaded documents", "error", err)
		return kb, nil
	}
	for _, d := range uploads {
		kb.Add(knowledge.Document{
			ID:      d.ID,
			Name:    d.Name,
			Content: d.Content,
			Source:  knowledge.SourceUpload,
			Added:   d.CreatedAt,
		})
	}
	logger.Debug("knowledge base loaded", "repository", len(docs), "uploads", len(uploads))
	return kb, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (session.Store, error) {
	store, err := session.NewStore(session.Config{Enabled: cfg.History.Enabled, Path: cfg.History.Path})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return session.NewLoggingStore(store, logger), nil
}

func systemInstruction(cfg *config.Config) (string, error) {
	return prompt.SystemInstruction(cfg.Assistant.SystemInstruction, cfg.Assistant.TrustedDomains)
}

func promptBuilder(cfg *config.Config) prompt.Builder {
	return prompt.Builder{MaxDocumentLength: cfg.Knowledge.MaxDocumentLength}
}
