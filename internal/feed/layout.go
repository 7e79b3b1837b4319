package feed

// 段数を切り替える幅の境界（ピクセル相当）。
const (
	MediumBreakpoint = 640
	WideBreakpoint   = 1024
)

// ColumnsForWidth は表示幅に応じた段数を返す。狭い幅は1段、中間は2段、広い幅は4段。
func ColumnsForWidth(width int) int {
	switch {
	case width >= WideBreakpoint:
		return 4
	case width >= MediumBreakpoint:
		return 2
	default:
		return 1
	}
}

// Bucket はi番目の項目をi%k番目の段に振り分ける。kが1未満の場合は1段とする。
// 各段の長さはlen(items)/kの切り捨てか切り上げになる。
func Bucket(items []Item, k int) [][]Item {
	if k < 1 {
		k = 1
	}
	cols := make([][]Item, k)
	for i := range cols {
		cols[i] = make([]Item, 0, (len(items)+k-1)/k)
	}
	for i, it := range items {
		cols[i%k] = append(cols[i%k], it)
	}
	return cols
}
