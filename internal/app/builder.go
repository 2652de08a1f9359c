package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	qbcfg "quantbot/internal/config"
	cfgloader "quantbot/internal/config/loader"
	"quantbot/internal/decision"
	"quantbot/internal/gateway/binance"
	"quantbot/internal/gateway/provider"
	"quantbot/internal/ledger"
	"quantbot/internal/logger"
	"quantbot/internal/market"
	"quantbot/internal/store/decisionlog"
	"quantbot/internal/store/gormstore"
	"quantbot/internal/trader"
	apihttp "quantbot/internal/transport/http"
)

// AppBuilder 把配置装配成可运行的 App。行情源与推理端可注入，便于测试替换。
type AppBuilder struct {
	cfg *qbcfg.Config

	sourceFn func(qbcfg.MarketConfig) market.Source
	oracleFn func(qbcfg.OracleConfig) provider.ModelProvider
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *qbcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:      cfg,
		sourceFn: buildMarketSource,
		oracleFn: buildOracle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithMarketSource 替换行情来源（测试用）。
func WithMarketSource(fn func(qbcfg.MarketConfig) market.Source) AppBuilderOption {
	return func(b *AppBuilder) { b.sourceFn = fn }
}

// WithOracle 替换推理端（测试用）。
func WithOracle(fn func(qbcfg.OracleConfig) provider.ModelProvider) AppBuilderOption {
	return func(b *AppBuilder) { b.oracleFn = fn }
}

func buildMarketSource(cfg qbcfg.MarketConfig) market.Source {
	return binance.New(binance.Config{
		RESTBaseURL: cfg.RESTBaseURL,
		HTTPTimeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	})
}

func buildOracle(cfg qbcfg.OracleConfig) provider.ModelProvider {
	client := &provider.OpenAIChatClient{
		BaseURL:      cfg.APIURL,
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		ExtraHeaders: cfg.Headers,
		HTTPClient:   &http.Client{Timeout: 60 * time.Second},
	}
	return provider.NewOpenAIModelProvider(cfg.Model, true, client)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	source := b.sourceFn(cfg.Market)
	marketStore := market.NewStore(source, cfg.Market.MaxCached,
		time.Duration(cfg.Market.SnapshotTTLSeconds)*time.Second)

	// 按周期分组预热 K 线缓存，同周期的多机器人只拉一次
	for interval, symbols := range symbolsByInterval(cfg.Bots) {
		marketStore.Preheat(ctx, symbols, interval, cfg.Market.PreheatLimit)
	}
	logger.Infof("✓ 行情预热完成，共 %d 个周期分组", len(symbolsByInterval(cfg.Bots)))

	oracle := b.oracleFn(cfg.Oracle)

	portfolios, err := gormstore.NewGormStore(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化账本存储失败: %w", err)
	}
	journal, err := decisionlog.New(cfg.Store.DecisionLogPath)
	if err != nil {
		portfolios.Close()
		return nil, fmt.Errorf("初始化决策日志失败: %w", err)
	}

	hub := apihttp.NewHub()

	bots, loaders, err := b.buildBots(cfg, oracle, marketStore, portfolios, journal, hub)
	if err != nil {
		portfolios.Close()
		_ = journal.Close()
		return nil, err
	}

	manager := trader.NewManager(bots...)
	if err := manager.RestoreAll(); err != nil {
		portfolios.Close()
		_ = journal.Close()
		return nil, err
	}

	httpServer, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr: cfg.App.HTTPAddr,
		Bots: manager,
		Logs: journal,
		Hub:  hub,
	})
	if err != nil {
		portfolios.Close()
		_ = journal.Close()
		return nil, err
	}

	logger.Infof("✓ 已装配 %d 个机器人，HTTP=%s", len(bots), httpServer.Addr())
	return &App{
		cfg:        cfg,
		manager:    manager,
		httpServer: httpServer,
		hub:        hub,
		loaders:    loaders,
		closers:    []func() error{journal.Close, portfolios.Close, source.Close},
	}, nil
}

func (b *AppBuilder) buildBots(cfg *qbcfg.Config, oracle provider.ModelProvider,
	marketStore *market.Store, portfolios *gormstore.GormStore, journal *decisionlog.Store,
	hub *apihttp.Hub) ([]*trader.Bot, map[string]*cfgloader.PersonaLoader, error) {

	loaders := make(map[string]*cfgloader.PersonaLoader)
	bots := make([]*trader.Bot, 0, len(cfg.Bots))
	for _, bc := range cfg.Bots {
		persona := bc.Persona
		if bc.PersonaFile != "" {
			pl, ok := loaders[bc.PersonaFile]
			if !ok {
				var err error
				pl, err = cfgloader.NewPersonaLoader(bc.PersonaFile)
				if err != nil {
					return nil, nil, fmt.Errorf("bot[%s] 人格档案加载失败: %w", bc.ID, err)
				}
				loaders[bc.PersonaFile] = pl
			}
			def, found := pl.Persona(bc.PersonaKey)
			if !found {
				return nil, nil, fmt.Errorf("bot[%s] 人格档案缺少 key=%s", bc.ID, bc.PersonaKey)
			}
			persona = def.Render()
		}

		portfolio := ledger.NewPortfolio(bc.InitialBalance,
			ledger.WithCooldown(time.Duration(cfg.Trading.CooldownHours*float64(time.Hour))),
			ledger.WithMaxHistory(cfg.Trading.HistoryLimit),
			ledger.WithStepSize(cfg.Trading.StepSize),
		)

		registry := decision.NewToolRegistry(marketStore, bc.Interval)
		controller := decision.NewController(oracle, registry,
			decision.WithMaxRounds(cfg.Protocol.MaxRounds),
			decision.WithCallTimeout(time.Duration(cfg.Protocol.CallTimeoutSeconds)*time.Second),
			decision.WithCycleBudget(time.Duration(cfg.Protocol.CycleBudgetSeconds)*time.Second),
		)

		bot := trader.NewBot(trader.BotConfig{
			ID:             bc.ID,
			Name:           bc.Name,
			Persona:        persona,
			Symbols:        bc.Symbols,
			Interval:       bc.Interval,
			InitialBalance: bc.InitialBalance,
			HistoryLimit:   cfg.Trading.HistoryLimit,
		}, portfolio, controller, marketStore, portfolios, journal, hub)

		if bc.PersonaFile != "" {
			key := bc.PersonaKey
			pl := loaders[bc.PersonaFile]
			pl.Subscribe(func(snap cfgloader.Snapshot) {
				if def, ok := snap.Personas[key]; ok {
					bot.SetPersona(def.Render())
				}
			})
		}
		bots = append(bots, bot)
	}
	return bots, loaders, nil
}

func symbolsByInterval(bots []qbcfg.BotConfig) map[string][]string {
	grouped := make(map[string]map[string]struct{})
	for _, bc := range bots {
		set, ok := grouped[bc.Interval]
		if !ok {
			set = make(map[string]struct{})
			grouped[bc.Interval] = set
		}
		for _, sym := range bc.Symbols {
			set[sym] = struct{}{}
		}
	}
	out := make(map[string][]string, len(grouped))
	for interval, set := range grouped {
		symbols := make([]string, 0, len(set))
		for sym := range set {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		out[interval] = symbols
	}
	return out
}
