package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// 中文说明：
// 独立的 Oracle 交互日志：完整记录发送给推理模型的提示词与原始返回，
// 便于离线排查决策链路。与主日志分离，避免刷屏。

var (
	oracleMu          sync.Mutex
	oracleLog         *log.Logger
	oracleDumpPayload bool
)

func SetOracleWriter(w io.Writer) {
	oracleMu.Lock()
	defer oracleMu.Unlock()
	if w == nil {
		oracleLog = nil
		return
	}
	oracleLog = log.New(w, "", log.LstdFlags)
}

func EnableOraclePayloadDump(enabled bool) {
	oracleMu.Lock()
	oracleDumpPayload = enabled
	oracleMu.Unlock()
}

type oracleSection struct {
	Title string
	Body  string
}

func logOracle(kind, provider, purpose string, sections []oracleSection) {
	oracleMu.Lock()
	sink := oracleLog
	oracleMu.Unlock()
	if sink == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[ORACLE]")
	for _, tag := range []string{kind, provider, purpose} {
		if tag != "" {
			b.WriteString("[")
			b.WriteString(tag)
			b.WriteString("]")
		}
	}
	b.WriteString("\n")
	for _, sec := range sections {
		title := strings.TrimSpace(sec.Title)
		if title == "" {
			title = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(title)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	sink.Print(b.String())
}

func LogOracleRequest(provider, purpose, systemPrompt, userPrompt, payload string) {
	sections := []oracleSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	}
	if oracleDumpPayload && strings.TrimSpace(payload) != "" {
		sections = append(sections, oracleSection{Title: "PAYLOAD", Body: payload})
	}
	logOracle("request", provider, purpose, sections)
}

func LogOracleResponse(provider, purpose, raw string) {
	logOracle("response", provider, purpose, []oracleSection{{Title: "RAW", Body: raw}})
}
