package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	reportColorBackground = "#060c1b"
	reportColorText       = "#eceff4"
	reportColorSubText    = "#9ca3af"
	reportColorEquity     = "#3b82f6"
	reportColorDrawdown   = "#f87171"

	reportChartWidthPx  = 1200
	reportChartHeightPx = 420
)

// RenderReport 将已完成任务渲染为自包含 HTML 报告（资金曲线 + 回撤）。
func RenderReport(run Run, w io.Writer) error {
	if run.Status != RunStatusCompleted || run.Result == nil {
		return fmt.Errorf("任务 %s 尚未完成，无法生成报告", run.ID)
	}
	result := run.Result
	if len(result.EquityCurve) == 0 {
		return fmt.Errorf("任务 %s 没有资金曲线数据", run.ID)
	}

	xAxis := make([]string, len(result.EquityCurve))
	equity := make([]opts.LineData, len(result.EquityCurve))
	drawdown := make([]opts.LineData, len(result.EquityCurve))
	peak := 0.0
	for i, p := range result.EquityCurve {
		xAxis[i] = time.UnixMilli(p.Time).UTC().Format("01-02 15:04")
		equity[i] = opts.LineData{Value: p.Equity}
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - p.Equity) / peak * 100
		}
		drawdown[i] = opts.LineData{Value: dd}
	}

	subtitle := fmt.Sprintf("收益 %.2f%% | 回撤 %.2f%% | 胜率 %.0f%% | 成交 %d",
		result.TotalReturnPct, result.MaxDrawdownPct, result.WinRate*100, len(result.Trades))

	equityChart := newReportLine(
		fmt.Sprintf("%s %s %s", run.Strategy, run.Symbol, run.Timeframe), subtitle)
	equityChart.SetXAxis(xAxis)
	equityChart.AddSeries("Equity", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: reportColorEquity, Width: 2}))

	drawdownChart := newReportLine("Drawdown %", "")
	drawdownChart.SetXAxis(xAxis)
	drawdownChart.AddSeries("Drawdown", drawdown,
		charts.WithLineStyleOpts(opts.LineStyle{Color: reportColorDrawdown, Width: 2}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.25)}))

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityChart, drawdownChart)
	return page.Render(w)
}

func newReportLine(title, subtitle string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", reportChartWidthPx),
			Height:          fmt.Sprintf("%dpx", reportChartHeightPx),
			BackgroundColor: reportColorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: reportColorText, FontSize: 16},
			SubtitleStyle: &opts.TextStyle{Color: reportColorSubText},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: reportColorSubText},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: reportColorSubText},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: reportColorSubText, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}
