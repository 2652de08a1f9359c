package config

import (
	"fmt"
	"strings"

	"quantbot/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Oracle.validate(); err != nil {
		return err
	}
	if err := c.Protocol.validate(); err != nil {
		return err
	}
	if len(c.Bots) == 0 {
		return fmt.Errorf("bots requires at least one entry")
	}
	seen := make(map[string]struct{}, len(c.Bots))
	for i := range c.Bots {
		b := &c.Bots[i]
		if b.ID == "" {
			return fmt.Errorf("bots[%d] missing id", i)
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("bots contains duplicate id: %s", b.ID)
		}
		seen[b.ID] = struct{}{}
		if len(b.Symbols) == 0 {
			return fmt.Errorf("bots.%s requires at least one symbol", b.ID)
		}
		if _, ok := scheduler.ParseIntervalDuration(b.Interval); !ok {
			return fmt.Errorf("bots.%s has invalid interval %q", b.ID, b.Interval)
		}
		if b.Persona == "" && b.PersonaFile == "" {
			return fmt.Errorf("bots.%s requires persona or persona_file", b.ID)
		}
		if b.PersonaFile != "" && b.PersonaKey == "" {
			return fmt.Errorf("bots.%s uses persona_file but missing persona_key", b.ID)
		}
	}
	return nil
}

func (o *OracleConfig) validate() error {
	if strings.TrimSpace(o.APIURL) == "" {
		return fmt.Errorf("oracle.api_url cannot be empty")
	}
	if strings.TrimSpace(o.Model) == "" {
		return fmt.Errorf("oracle.model cannot be empty")
	}
	return nil
}

func (p *ProtocolConfig) validate() error {
	if p.MaxRounds < 2 {
		return fmt.Errorf("protocol.max_rounds must be >= 2 (最后一轮保留给终局决策)")
	}
	return nil
}
