package provider

import "context"

// ChatPayload 一次推理调用的输入。
type ChatPayload struct {
	System string
	User   string
}

// ModelProvider 推理服务抽象：输入提示词，返回原始文本。
// 实现方不做重试：超时与重试策略由调用方（协议控制器/下一周期）负责。
type ModelProvider interface {
	ID() string
	Enabled() bool

	Call(ctx context.Context, payload ChatPayload) (string, error)
}
