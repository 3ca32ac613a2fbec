package monitoring

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderLengthChart writes an HTML bar chart of packet counts keyed by packet
// length.
func RenderLengthChart(w io.Writer, subtitle string, counts map[int]int) error {
	lengths := make([]int, 0, len(counts))
	total := 0
	for n, c := range counts {
		lengths = append(lengths, n)
		total += c
	}
	sort.Ints(lengths)

	labels := make([]string, 0, len(lengths))
	data := make([]opts.BarData, 0, len(lengths))
	for _, n := range lengths {
		labels = append(labels, strconv.Itoa(n))
		data = append(data, opts.BarData{Value: counts[n]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "SLIP packet lengths", Theme: "dark", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Decoded packet lengths", Subtitle: fmt.Sprintf("%s packets=%d", subtitle, total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "bytes", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "packets", NameLocation: "middle", NameGap: 30}),
	)
	bar.SetXAxis(labels).AddSeries("packets", data)

	return bar.Render(w)
}
