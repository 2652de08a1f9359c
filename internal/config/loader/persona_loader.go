package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"quantbot/internal/logger"
)

// 中文说明：
// 人格档案热加载。YAML 文件变更后下一个决策周期自动使用新人格，
// 不需要重启进程。正在执行的周期不受影响。

// PersonaDefinition 描述单个交易人格。
type PersonaDefinition struct {
	Name         string  `mapstructure:"-"`
	Prompt       string  `mapstructure:"prompt"`
	RiskAppetite string  `mapstructure:"risk_appetite"`
	MaxLeverage  int     `mapstructure:"max_leverage"`
	MaxMarginPct float64 `mapstructure:"max_margin_pct"`
}

// Render 拼出注入 system prompt 的人格描述。
func (p PersonaDefinition) Render() string {
	var b strings.Builder
	b.WriteString(p.Prompt)
	if p.RiskAppetite != "" {
		fmt.Fprintf(&b, "\n风险偏好: %s", p.RiskAppetite)
	}
	if p.MaxLeverage > 0 {
		fmt.Fprintf(&b, "\n自我约束: 杠杆不超过 %d 倍", p.MaxLeverage)
	}
	if p.MaxMarginPct > 0 {
		fmt.Fprintf(&b, "\n自我约束: 单笔保证金不超过余额的 %.0f%%", p.MaxMarginPct*100)
	}
	return b.String()
}

type fileConfig struct {
	Personas map[string]PersonaDefinition `mapstructure:"personas"`
}

// Snapshot 对外暴露的只读快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Personas map[string]PersonaDefinition
}

// ChangeListener 在档案变更时被调用。
type ChangeListener func(Snapshot)

// PersonaLoader 从 YAML 加载人格档案并监听热更新。
type PersonaLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

func NewPersonaLoader(path string) (*PersonaLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("persona loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read persona file failed: %w", err)
	}
	l := &PersonaLoader{path: path, v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			logger.Errorf("persona reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	return l, nil
}

// Persona 按 key 取人格。找不到时返回 false。
func (l *PersonaLoader) Persona(key string) (PersonaDefinition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.snapshot.Personas[key]
	return def, ok
}

// Snapshot 返回当前档案快照。
func (l *PersonaLoader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe 注册监听器，并立即异步收到一次完整快照。
func (l *PersonaLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go safeNotify(fn, snap)
}

func (l *PersonaLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go safeNotify(fn, snap)
	}
}

func safeNotify(fn ChangeListener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("persona listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *PersonaLoader) reload() error {
	var cfg fileConfig
	if err := l.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("parse persona file failed: %w", err)
	}
	if len(cfg.Personas) == 0 {
		return fmt.Errorf("persona file has no personas section")
	}
	normalized := make(map[string]PersonaDefinition, len(cfg.Personas))
	for name, def := range cfg.Personas {
		def.Name = name
		def.Prompt = strings.TrimSpace(def.Prompt)
		if def.Prompt == "" {
			return fmt.Errorf("persona %q missing prompt", name)
		}
		normalized[name] = def
	}
	l.mu.Lock()
	l.snapshot = Snapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Personas: normalized,
	}
	l.mu.Unlock()
	logger.Infof("persona loader: %d personas from %s", len(normalized), filepath.Base(l.path))
	return nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Personas: make(map[string]PersonaDefinition, len(src.Personas)),
	}
	for name, def := range src.Personas {
		dst.Personas[name] = def
	}
	return dst
}
