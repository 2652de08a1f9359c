package config

import "strings"

// Config 是 Quantbot 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Market   MarketConfig   `toml:"market"`
	Oracle   OracleConfig   `toml:"oracle"`
	Protocol ProtocolConfig `toml:"protocol"`
	Trading  TradingConfig  `toml:"trading"`
	Store    StoreConfig    `toml:"store"`
	Bots     []BotConfig    `toml:"bots"`
}

type AppConfig struct {
	Env        string `toml:"env"`
	LogLevel   string `toml:"log_level"`
	HTTPAddr   string `toml:"http_addr"`
	LogPath    string `toml:"log_path"`
	OracleLog  string `toml:"oracle_log_path"`
	OracleDump bool   `toml:"oracle_dump_payload"`
}

type MarketConfig struct {
	RESTBaseURL        string `toml:"rest_base_url"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	MaxCached          int    `toml:"max_cached"`
	SnapshotTTLSeconds int    `toml:"snapshot_ttl_seconds"`
	PreheatLimit       int    `toml:"preheat_limit"`
}

// OracleConfig 描述 LLM 接入方式。与交易所无关，任何 OpenAI 兼容端点都可用。
type OracleConfig struct {
	APIURL      string            `toml:"api_url"`
	APIKey      string            `toml:"api_key"`
	Model       string            `toml:"model"`
	Temperature float64           `toml:"temperature"`
	Headers     map[string]string `toml:"headers"`
}

// ProtocolConfig 决策协议的预算参数。
type ProtocolConfig struct {
	MaxRounds          int `toml:"max_rounds"`
	CallTimeoutSeconds int `toml:"call_timeout_seconds"`
	CycleBudgetSeconds int `toml:"cycle_budget_seconds"`
	OffsetSeconds      int `toml:"offset_seconds"`
}

type TradingConfig struct {
	CooldownHours float64 `toml:"cooldown_hours"`
	HistoryLimit  int     `toml:"history_limit"`
	StepSize      float64 `toml:"step_size"`
}

type StoreConfig struct {
	DBPath          string `toml:"db_path"`
	DecisionLogPath string `toml:"decision_log_path"`
}

// BotConfig 单个交易人格。Persona 为内联文本，PersonaFile 指向热更新的人格档案。
type BotConfig struct {
	ID             string   `toml:"id"`
	Name           string   `toml:"name"`
	Persona        string   `toml:"persona"`
	PersonaFile    string   `toml:"persona_file"`
	PersonaKey     string   `toml:"persona_key"`
	Symbols        []string `toml:"symbols"`
	Interval       string   `toml:"interval"`
	InitialBalance float64  `toml:"initial_balance"`
}

func (b *BotConfig) normalize() {
	b.ID = strings.TrimSpace(b.ID)
	b.Name = strings.TrimSpace(b.Name)
	b.Interval = strings.ToLower(strings.TrimSpace(b.Interval))
	out := b.Symbols[:0]
	for _, sym := range b.Symbols {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s != "" {
			out = append(out, s)
		}
	}
	b.Symbols = out
}
