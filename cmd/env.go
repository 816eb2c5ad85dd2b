package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/project-million/scanner-cli/internal/analysis"
	"github.com/project-million/scanner-cli/internal/discovery"
	"github.com/project-million/scanner-cli/internal/scanner"
	"github.com/project-million/scanner-cli/internal/store"
	"github.com/project-million/scanner-cli/pkg/anthropic"
	"github.com/project-million/scanner-cli/pkg/gemini"
	"github.com/project-million/scanner-cli/pkg/openai"
	"github.com/project-million/scanner-cli/pkg/perplexity"
)

// env bundles the wired pipeline components shared by the serve and scan
// commands.
type env struct {
	Store   store.Store
	Scanner *scanner.Scanner
}

func (e *env) Close() {
	e.Store.Close() //nolint:errcheck
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "scanner.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv wires the store, discovery sources, provider clients, and the
// scan controller. The store is migrated before use.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	sources, err := discovery.FromConfig(cfg.Scanner.Sources)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	if len(sources) == 0 {
		st.Close() //nolint:errcheck
		return nil, eris.New("no discovery sources configured (scanner.sources)")
	}

	oa := openai.NewClient(cfg.OpenAI.Key)
	an := anthropic.NewClient(cfg.Anthropic.Key)
	px := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
	)
	gm := gemini.NewClient(cfg.Gemini.Key,
		gemini.WithBaseURL(cfg.Gemini.BaseURL),
		gemini.WithModel(cfg.Gemini.Model),
	)

	analyzer := analysis.New(cfg, oa, an, px, gm)
	sc := scanner.New(st, sources, analyzer, cfg.Scanner.DelaySeconds)

	return &env{Store: st, Scanner: sc}, nil
}
