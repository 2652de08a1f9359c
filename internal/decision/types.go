package decision

import (
	"encoding/json"
	"strings"
	"time"
)

// 中文说明：
// 本文件定义协议控制器与账本之间流转的决策数据结构。
// Oracle 的输出要么是单个 AnalysisRequest 对象，要么是一个决策数组。

// 决策动作词汇表。HOLD 与空数组等价，都是合法的终态。
const (
	ActionLong  = "long"
	ActionShort = "short"
	ActionClose = "close"
	ActionHold  = "hold"
)

// Decision 单笔决策动作。
type Decision struct {
	Action          string  `json:"action"`
	Symbol          string  `json:"symbol,omitempty"`
	ClosePositionID string  `json:"close_position_id,omitempty"`
	Size            float64 `json:"size,omitempty"` // 保证金（USD）
	Leverage        int     `json:"leverage,omitempty"`
	StopLoss        float64 `json:"stop_loss,omitempty"`
	TakeProfit      float64 `json:"take_profit,omitempty"`
	Reasoning       string  `json:"reasoning,omitempty"`
}

// NormalizedAction 返回小写去空格后的动作。
func (d Decision) NormalizedAction() string {
	return strings.ToLower(strings.TrimSpace(d.Action))
}

// AnalysisRequest Oracle 请求执行一个分析工具。
type AnalysisRequest struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	Reasoning  string         `json:"reasoning,omitempty"`
}

// EntryKind 转录条目类型。
type EntryKind string

const (
	EntryAnalysis EntryKind = "analysis"
	EntryError    EntryKind = "error"
	EntryNote     EntryKind = "note"
)

// TranscriptEntry 一条转录记录：工具请求 + 结果或错误。
type TranscriptEntry struct {
	Step    int              `json:"step"`
	Kind    EntryKind        `json:"kind"`
	Request *AnalysisRequest `json:"request,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
	At      time.Time        `json:"at"`
}

// Transcript 一个决策周期内按序追加的工具请求/结果/错误记录。
// 只允许追加，随决策日志一同持久化，可用于回放。
type Transcript struct {
	entries []TranscriptEntry
}

func (t *Transcript) append(e TranscriptEntry) {
	e.Step = len(t.entries) + 1
	t.entries = append(t.entries, e)
}

// AddAnalysis 记录一次成功的工具执行。
func (t *Transcript) AddAnalysis(req AnalysisRequest, result any, at time.Time) {
	raw, err := json.Marshal(result)
	if err != nil {
		raw = json.RawMessage(`"unserializable result"`)
	}
	t.append(TranscriptEntry{Kind: EntryAnalysis, Request: &req, Result: raw, At: at})
}

// AddError 记录一次失败（工具前置条件、解析失败、Oracle 超时等）。
func (t *Transcript) AddError(req *AnalysisRequest, err error, at time.Time) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.append(TranscriptEntry{Kind: EntryError, Request: req, Error: msg, At: at})
}

// AddNote 记录控制器备注（协议违规、预算耗尽等）。
func (t *Transcript) AddNote(note string, at time.Time) {
	t.append(TranscriptEntry{Kind: EntryNote, Error: note, At: at})
}

// Entries 返回条目副本。
func (t *Transcript) Entries() []TranscriptEntry {
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len 返回条目数。
func (t *Transcript) Len() int { return len(t.entries) }

// AnalysisCount 返回成功执行的分析请求数。
func (t *Transcript) AnalysisCount() int {
	n := 0
	for _, e := range t.entries {
		if e.Kind == EntryAnalysis {
			n++
		}
	}
	return n
}

// Render 将转录渲染为下一轮 prompt 的上下文段落。
func (t *Transcript) Render() string {
	if len(t.entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## 本周期已执行的分析\n")
	for _, e := range t.entries {
		switch e.Kind {
		case EntryAnalysis:
			b.WriteString("- 工具 ")
			b.WriteString(e.Request.Tool)
			b.WriteString(" 结果: ")
			b.Write(e.Result)
		case EntryError:
			b.WriteString("- 错误: ")
			b.WriteString(e.Error)
		case EntryNote:
			b.WriteString("- 备注: ")
			b.WriteString(e.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}
