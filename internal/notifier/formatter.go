package notifier

import (
	"fmt"
	"strings"
	"time"

	"PerpSentinel/internal/adaptive"
	"PerpSentinel/internal/model"
	"PerpSentinel/internal/monitor"
)

func directionLabel(d model.Direction) string {
	switch d {
	case model.DirectionLong:
		return "做多 🟢"
	case model.DirectionShort:
		return "做空 🔴"
	}
	return "观望"
}

// FormatSignalAlert formats a valid signal and its trading levels into a Telegram message.
func FormatSignalAlert(res *model.SignalResult, lv *model.TradingLevels) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("🚨 <b>%s %s 信号</b> | %s\n\n", res.Symbol, res.Timeframe, res.EvaluatedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("方向: %s\n", directionLabel(lv.Direction)))
	b.WriteString(fmt.Sprintf("综合评分: %.1f (确认 %d)\n", res.TotalScore, res.ConfirmationCount))
	b.WriteString(fmt.Sprintf("成功概率: %.0f%%", res.MLProbability*100))
	if res.IsMLDriven {
		b.WriteString(" (模型主导)")
	}
	b.WriteString("\n")
	if res.CounterTrend {
		b.WriteString(fmt.Sprintf("⚠️ 逆势信号 (趋势: %s)\n", res.EffectiveTrend))
	}

	b.WriteString(fmt.Sprintf("\n入场: %.6g\n", lv.Entry))
	for i, t := range lv.Targets {
		pct := (t - lv.Entry) / lv.Entry * 100
		b.WriteString(fmt.Sprintf("目标%d: %.6g (%+.2f%%)\n", i+1, t, pct))
	}
	b.WriteString(fmt.Sprintf("止损: %.6g (%+.2f%%)\n", lv.StopLoss, (lv.StopLoss-lv.Entry)/lv.Entry*100))
	b.WriteString(fmt.Sprintf("盈亏比: %.2f | 方法: %s\n", lv.RiskRewardRatio, lv.Method))

	if len(res.StrengthFactors) > 0 {
		b.WriteString(fmt.Sprintf("\n强度因子: %s\n", strings.Join(res.StrengthFactors, ", ")))
	}

	b.WriteString("\n📈 <b>评分明细:</b>\n")
	for _, c := range res.ScoreComponents {
		b.WriteString(fmt.Sprintf("  %s: %+.1f (%s)\n", c.Name, c.WeightedValue, c.Description))
	}
	return b.String()
}

// FormatTargetHit formats a target-hit event.
func FormatTargetHit(ev model.TargetHitEvent) string {
	return fmt.Sprintf("🎯 <b>%s 目标%d 达成</b>\n方向: %s\n目标价: %.6g | 成交价: %.6g\n当前收益: %+.2f%%\n",
		ev.Symbol, ev.Index+1, directionLabel(ev.Direction), ev.Target, ev.Price, ev.PnL)
}

func reasonLabel(reason string) string {
	switch reason {
	case model.ReasonAllTargets:
		return "全部目标达成 ✅"
	case model.ReasonStopLoss:
		return "触发止损 ❌"
	case model.ReasonManual:
		return "手动平仓"
	case model.ReasonShutdown:
		return "系统关闭平仓"
	}
	return reason
}

// FormatCompleted formats a completed-position event.
func FormatCompleted(ev model.CompletedEvent) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🏁 <b>%s 监控结束</b>\n\n", ev.Symbol))
	b.WriteString(fmt.Sprintf("原因: %s\n", reasonLabel(ev.Reason)))
	b.WriteString(fmt.Sprintf("方向: %s\n", directionLabel(ev.Direction)))
	b.WriteString(fmt.Sprintf("收益: %+.2f%% | 杠杆收益: %+.2f%%\n", ev.FinalPnL, ev.LeveragedPnL))
	b.WriteString(fmt.Sprintf("达成目标: %d | 最高浮盈: %+.2f%%\n", ev.TargetsHit, ev.PeakProfit))
	b.WriteString(fmt.Sprintf("持仓时长: %s\n", (time.Duration(ev.DurationMs) * time.Millisecond).Round(time.Second)))
	return b.String()
}

// FormatMonitorStatus formats the active monitors for display.
func FormatMonitorStatus(snaps []monitor.Snapshot) string {
	if len(snaps) == 0 {
		return "📦 当前没有活跃监控"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>活跃监控 (%d)</b>\n\n", len(snaps)))
	for _, s := range snaps {
		b.WriteString(fmt.Sprintf("%s %s %s\n", s.Symbol, s.Timeframe, directionLabel(s.Direction)))
		b.WriteString(fmt.Sprintf("  入场: %.6g | 现价: %.6g | 收益: %+.2f%%\n", s.Entry, s.LastPrice, s.PnL))
		b.WriteString(fmt.Sprintf("  目标: %d/%d | 止损: %.6g\n", s.TargetsHit, len(s.Targets), s.StopLoss))
	}
	return b.String()
}

// FormatStats formats the outcome statistics of a symbol.
func FormatStats(st adaptive.Stats) string {
	if st.Trades == 0 {
		return fmt.Sprintf("📊 %s 暂无历史交易", st.Symbol)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 <b>%s 历史统计</b>\n\n", st.Symbol))
	b.WriteString(fmt.Sprintf("交易次数: %d\n", st.Trades))
	b.WriteString(fmt.Sprintf("胜/负: %d/%d\n", st.Wins, st.Losses))
	b.WriteString(fmt.Sprintf("胜率: %.1f%%\n", st.WinRate*100))
	b.WriteString(fmt.Sprintf("平均杠杆收益: %+.2f%%\n", st.AvgLeveragedPnL))
	return b.String()
}

// FormatHelp lists the supported commands.
func FormatHelp() string {
	return "🤖 <b>PerpSentinel 命令</b>\n\n" +
		"/status - 查看活跃监控\n" +
		"/close SYMBOL - 手动平仓\n" +
		"/stats SYMBOL - 历史统计\n" +
		"/help - 帮助"
}
