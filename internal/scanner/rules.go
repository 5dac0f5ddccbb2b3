package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/phishguard/internal/domain"
)

// ListRules returns the stored custom rules, or the loaded ones when no
// repository is configured.
func (s *Service) ListRules(ctx context.Context) ([]*domain.RuleConfig, error) {
	if s.repo != nil {
		return s.repo.ListRuleConfigs(ctx)
	}
	if s.engine != nil {
		return s.engine.GetLoadedRules(), nil
	}
	return nil, nil
}

// GetRule returns one stored custom rule.
func (s *Service) GetRule(ctx context.Context, id string) (*domain.RuleConfig, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("%w: repository", ErrUnavailable)
	}
	return s.repo.GetRuleConfig(ctx, id)
}

// CreateRule validates and stores a custom rule. The rule takes effect on
// the next ReloadRules.
func (s *Service) CreateRule(ctx context.Context, cfg *domain.RuleConfig) error {
	if s.engine == nil {
		return fmt.Errorf("%w: rule engine", ErrUnavailable)
	}
	if s.repo == nil {
		return fmt.Errorf("%w: repository", ErrUnavailable)
	}

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}

	if err := s.engine.ValidateRule(cfg); err != nil {
		return err
	}
	if err := s.repo.SaveRuleConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save rule %s: %w", cfg.ID, err)
	}

	slog.Info("rule created", "id", cfg.ID, "name", cfg.Name)
	return nil
}

// DisableRule soft-deletes a stored rule and reloads the engine.
func (s *Service) DisableRule(ctx context.Context, id string) error {
	if s.repo == nil {
		return fmt.Errorf("%w: repository", ErrUnavailable)
	}
	if err := s.repo.DisableRuleConfig(ctx, id); err != nil {
		return err
	}

	slog.Info("rule disabled", "id", id)
	_, err := s.ReloadRules(ctx)
	return err
}

// ReloadRules replaces the engine's rule set with the enabled stored rules.
// Verdicts cached under a different rule set are no longer read. It returns
// the number of loaded rules.
func (s *Service) ReloadRules(ctx context.Context) (int, error) {
	if s.engine == nil {
		return 0, fmt.Errorf("%w: rule engine", ErrUnavailable)
	}
	if s.repo == nil {
		return 0, fmt.Errorf("%w: repository", ErrUnavailable)
	}

	stored, err := s.repo.ListRuleConfigs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}
	if err := s.engine.ReloadRules(stored); err != nil {
		return 0, err
	}
	fp := s.engine.Fingerprint()

	count := s.engine.RulesCount()
	slog.Info("rules reloaded", "count", count, "fingerprint", fp)

	if s.bus != nil {
		payload := fmt.Appendf(nil, `{"count":%d,"fingerprint":%q}`, count, fp)
		if err := s.bus.Publish(ctx, domain.TopicRulesReloaded, payload); err != nil {
			slog.Error("failed to publish rules reload", "error", err)
		}
	}

	return count, nil
}

// LoadRules loads the enabled stored rules at startup. A repository failure
// leaves the engine empty rather than failing startup.
func (s *Service) LoadRules(ctx context.Context) error {
	if s.engine == nil || s.repo == nil {
		return nil
	}

	stored, err := s.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil
	}
	if len(stored) == 0 {
		slog.Info("no custom rules in database - configure via POST /rules API")
		return nil
	}

	if err := s.engine.LoadRules(stored); err != nil {
		return err
	}
	slog.Info("custom rules loaded from database",
		"count", s.engine.RulesCount(),
		"fingerprint", s.engine.Fingerprint(),
	)
	return nil
}
