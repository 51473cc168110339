package embeddings

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/embedkit/internal/config"
	"github.com/fyrsmithlabs/embedkit/internal/runner"
	"go.uber.org/zap"
)

// ErrUnknownProvider is returned by NewProvider for an unrecognized
// model.provider value.
var ErrUnknownProvider = errors.New("unknown embedding provider")

// NewProvider builds the runner.Provider selected by cfg.Model.Provider.
func NewProvider(cfg *config.Config, logger *zap.Logger) (runner.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Model.Provider {
	case "fastembed", "":
		p, err := runner.NewFastEmbed(runner.FastEmbedConfig{
			Model:        cfg.Model.Name,
			Version:      cfg.Model.Version,
			CacheDir:     cfg.Model.CacheDir,
			MaxLength:    cfg.Model.MaxLength,
			TokenizerURL: cfg.Model.TokenizerURL,
			HFToken:      cfg.Model.HFToken.Value(),
			Logger:       logger.Named("fastembed"),
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "tei":
		p, err := runner.NewTEI(runner.TEIConfig{
			BaseURL:           cfg.TEI.BaseURL,
			Model:             cfg.Model.Name,
			Version:           cfg.Model.Version,
			Dimension:         cfg.Model.Dimension,
			APIKey:            cfg.TEI.APIKey.Value(),
			RequestsPerSecond: cfg.TEI.RequestsPerSecond,
			Timeout:           cfg.TEI.Timeout.Duration(),
			Logger:            logger.Named("tei"),
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q (want fastembed or tei)", ErrUnknownProvider, cfg.Model.Provider)
	}
}
