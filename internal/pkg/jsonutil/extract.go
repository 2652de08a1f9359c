package jsonutil

import "strings"

// 中文说明：
// 从模型自由文本输出中提取首个 JSON 值（数组或对象）。
// 支持 ``` 围栏、前后缀噪声文本；返回提取到的片段与其类型。

const codeFence = "```"

// Kind 标识提取到的 JSON 顶层类型。
type Kind int

const (
	KindNone Kind = iota
	KindObject
	KindArray
)

// Extract 返回原始文本中的首个 JSON 数组或对象。
// 数组优先：决策输出以数组为主，分析请求才是对象。
func Extract(raw string) (string, Kind) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", KindNone
	}
	if block, ok := stripFence(raw); ok {
		raw = block
	}
	arrStart := strings.Index(raw, "[")
	objStart := strings.Index(raw, "{")
	// 谁先出现用谁，避免把对象内部的数组当成顶层数组。
	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if out, ok := scanBalanced(raw[objStart:], '{', '}'); ok {
			return out, KindObject
		}
	}
	if arrStart >= 0 {
		if out, ok := scanBalanced(raw[arrStart:], '[', ']'); ok {
			return out, KindArray
		}
	}
	if objStart >= 0 {
		if out, ok := scanBalanced(raw[objStart:], '{', '}'); ok {
			return out, KindObject
		}
	}
	return "", KindNone
}

func stripFence(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	// 去掉 ```json 这类语言标记行
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	return block, block != ""
}

// scanBalanced 从 open 符号开始扫描到配对的 close 符号，跳过字符串字面量。
func scanBalanced(raw string, open, close byte) (string, bool) {
	depth := 0
	inString := false
	escape := false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[:i+1]), true
			}
		}
	}
	return "", false
}
