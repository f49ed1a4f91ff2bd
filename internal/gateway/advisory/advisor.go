package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"autotrade/internal/gate"
	"autotrade/internal/logger"
	"autotrade/internal/types"
)

// Completer 是一次对话补全。
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const systemPrompt = `你是一名严谨的交易风控顾问。根据给出的交易提案、账户与持仓，判断是否应当执行。
只输出一个 JSON 对象，字段：
  decision: "approve" | "reject" | "wait" | "reduce_size"
  confidence: 0-100
  reasons: 字符串数组
  concerns: 字符串数组
  suggested_stop: 可选，建议止损价
  suggested_target: 可选，建议止盈价
  size_multiplier: 可选，0-1，仅 reduce_size 时有效
不要输出 JSON 以外的任何内容。`

const verdictSchema = `{
  "type": "object",
  "required": ["decision", "confidence"],
  "properties": {
    "decision": {"type": "string", "enum": ["approve", "reject", "wait", "reduce_size"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "reasons": {"type": "array", "items": {"type": "string"}},
    "concerns": {"type": "array", "items": {"type": "string"}},
    "suggested_stop": {"type": "number", "minimum": 0},
    "suggested_target": {"type": "number", "minimum": 0},
    "size_multiplier": {"type": "number", "exclusiveMinimum": 0, "maximum": 1}
  }
}`

// Advisor 通过大模型给出交易建议，实现 gate.Advisor。
type Advisor struct {
	model  string
	client Completer
	schema *jsonschema.Schema
}

func NewAdvisor(model string, client Completer) (*Advisor, error) {
	if client == nil {
		return nil, fmt.Errorf("advisory client is nil")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("verdict.json", strings.NewReader(verdictSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("verdict.json")
	if err != nil {
		return nil, err
	}
	return &Advisor{model: model, client: client, schema: schema}, nil
}

func (a *Advisor) EvaluateTrade(ctx context.Context, proposal types.TradeProposal, account types.AccountSnapshot, positions []types.PositionSnapshot) (gate.AdvisoryVerdict, error) {
	user := renderProposal(proposal, account, positions)
	logger.LogAdvisoryRequest(a.model, proposal.Symbol, systemPrompt, user)
	raw, err := a.client.Complete(ctx, systemPrompt, user)
	if err != nil {
		return gate.AdvisoryVerdict{}, err
	}
	logger.LogAdvisoryResponse(a.model, proposal.Symbol, raw)
	verdict, err := a.parse(raw)
	if err != nil {
		return gate.AdvisoryVerdict{}, err
	}
	verdict.Model = a.model
	return verdict, nil
}

func (a *Advisor) parse(raw string) (gate.AdvisoryVerdict, error) {
	body := extractJSON(raw)
	if body == "" {
		return gate.AdvisoryVerdict{}, fmt.Errorf("advisory reply has no json object")
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return gate.AdvisoryVerdict{}, fmt.Errorf("decode advisory reply: %w", err)
	}
	if err := a.schema.Validate(doc); err != nil {
		return gate.AdvisoryVerdict{}, fmt.Errorf("advisory reply invalid: %w", err)
	}
	var v gate.AdvisoryVerdict
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return gate.AdvisoryVerdict{}, fmt.Errorf("decode advisory reply: %w", err)
	}
	return v, nil
}

// extractJSON 去掉代码块围栏，取首个 '{' 到最后一个 '}'。
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func renderProposal(p types.TradeProposal, acct types.AccountSnapshot, positions []types.PositionSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## 提案\n标的: %s  方向: %s  信号: %s  置信度: %.0f\n", p.Symbol, p.Side, p.SignalType, p.Confidence)
	fmt.Fprintf(&b, "入场: %.4f  止损: %.4f  止盈: %.4f  盈亏比: %.2f\n", p.EntryPrice, p.StopPrice, p.TargetPrice, p.RewardRisk())
	ind := p.Indicators
	fmt.Fprintf(&b, "\n## 指标\nRSI=%.1f MACD=%.4f/%.4f hist=%.4f EMA=%.4f/%.4f ATR=%.4f 量比=%.2f 波动比=%.2f 涨跌=%.2f%%\n",
		ind.RSI, ind.MACD, ind.MACDSignal, ind.MACDHist, ind.EMAFast, ind.EMASlow, ind.ATR, ind.VolumeRatio, ind.VolatilityRatio, ind.PriceChangePct)
	if len(p.Patterns) > 0 {
		fmt.Fprintf(&b, "形态: %s\n", strings.Join(p.Patterns, ", "))
	}
	fmt.Fprintf(&b, "\n## 账户\n权益: %.2f  现金: %.2f  购买力: %.2f\n", acct.Equity, acct.Cash, acct.BuyingPower)
	b.WriteString("\n## 持仓\n")
	if len(positions) == 0 {
		b.WriteString("无\n")
	}
	for _, pos := range positions {
		fmt.Fprintf(&b, "- %s qty=%.4f entry=%.4f value=%.2f pnl=%.2f\n", pos.Symbol, pos.Quantity, pos.EntryPrice, pos.Exposure(), pos.UnrealizedPnL)
	}
	return b.String()
}
