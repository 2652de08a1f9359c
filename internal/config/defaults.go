package config

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "prod"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8880"
	}

	if c.Market.RESTBaseURL == "" {
		c.Market.RESTBaseURL = "https://fapi.binance.com"
	}
	if c.Market.TimeoutSeconds <= 0 {
		c.Market.TimeoutSeconds = 10
	}
	if c.Market.MaxCached <= 0 {
		c.Market.MaxCached = 500
	}
	if c.Market.SnapshotTTLSeconds <= 0 {
		c.Market.SnapshotTTLSeconds = 300
	}
	if c.Market.PreheatLimit <= 0 {
		c.Market.PreheatLimit = 200
	}

	if c.Oracle.Temperature <= 0 {
		c.Oracle.Temperature = 0.4
	}

	if c.Protocol.MaxRounds <= 0 {
		c.Protocol.MaxRounds = 5
	}
	if c.Protocol.CallTimeoutSeconds <= 0 {
		c.Protocol.CallTimeoutSeconds = 10
	}
	if c.Protocol.CycleBudgetSeconds <= 0 {
		c.Protocol.CycleBudgetSeconds = 30
	}
	if c.Protocol.OffsetSeconds < 0 {
		c.Protocol.OffsetSeconds = 0
	}

	if c.Trading.CooldownHours <= 0 {
		c.Trading.CooldownHours = 4
	}
	if c.Trading.HistoryLimit <= 0 {
		c.Trading.HistoryLimit = 10
	}
	if c.Trading.StepSize <= 0 {
		c.Trading.StepSize = 0.001
	}

	if c.Store.DBPath == "" {
		c.Store.DBPath = "data/quantbot.db"
	}
	if c.Store.DecisionLogPath == "" {
		c.Store.DecisionLogPath = "data/decision_log.db"
	}

	for i := range c.Bots {
		b := &c.Bots[i]
		b.normalize()
		if b.Interval == "" {
			b.Interval = "1h"
		}
		if b.InitialBalance <= 0 {
			b.InitialBalance = 1000
		}
		if b.Name == "" {
			b.Name = b.ID
		}
	}
}
