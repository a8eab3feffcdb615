// Package usage backfills token usage for participant completions whose
// terminal signal carried none.
package usage

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/BaSui01/roundflow/types"
)

// 参与者消息在提示侧的额外开销：<|start|>role\n content<|end|>\n
const messageOverhead = 4

// Estimator 使用 tiktoken 估算 Token 数，编码不可用时退化为字符数估算
type Estimator struct {
	encoding string
	logger   *zap.Logger
	load     func(string) (*tiktoken.Tiktoken, error)

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewEstimator 创建估算器，encoding 为空时使用 cl100k_base
func NewEstimator(encoding string, logger *zap.Logger) *Estimator {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		encoding: encoding,
		logger:   logger.With(zap.String("component", "usage_estimator")),
		load:     tiktoken.GetEncoding,
	}
}

// init lazily 加载编码（首次使用时可能需要下载 BPE 数据）
func (e *Estimator) init() error {
	e.once.Do(func() {
		enc, err := e.load(e.encoding)
		if err != nil {
			e.initErr = fmt.Errorf("init tiktoken encoding %s: %w", e.encoding, err)
			e.logger.Warn("tiktoken unavailable, using character estimate", zap.Error(e.initErr))
			return
		}
		e.enc = enc
	})
	return e.initErr
}

// Name 返回实际使用的计数方式
func (e *Estimator) Name() string {
	if e.init() != nil {
		return "estimate"
	}
	return "tiktoken[" + e.encoding + "]"
}

// Count 返回 text 的 Token 数
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.init() == nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return estimate(text)
}

// estimate 按 CJK 约 1.5 字符/Token、其余约 4 字符/Token 估算
func estimate(text string) int {
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			cjk++
		}
	}
	n := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if n == 0 {
		n = 1
	}
	return n
}

// Backfill 在 usage 为空时，根据轮次提示与参与者输出估算用量
// 已有用量原样返回
func (e *Estimator) Backfill(u types.Usage, prompt []types.Message, output string) types.Usage {
	if !u.IsZero() {
		return u
	}
	promptTokens := 3
	for _, m := range prompt {
		promptTokens += messageOverhead + e.Count(messageText(m))
	}
	completion := e.Count(output)
	return types.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completion,
		TotalTokens:      promptTokens + completion,
	}
}

func messageText(m types.Message) string {
	switch v := m.(type) {
	case *types.UserMessage:
		return v.Text
	case *types.ParticipantMessage:
		return v.Text()
	case *types.SynthesisMessage:
		return v.Summary
	default:
		return ""
	}
}

// PromptText 把消息拼成纯文本，便于日志与调试
func PromptText(messages []types.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role()))
		b.WriteString(": ")
		b.WriteString(messageText(m))
	}
	return b.String()
}
