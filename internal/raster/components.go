package raster

import "image"

// Component is one 4-connected ink region. Box is half-open: Max is one past
// the last ink column/row.
type Component struct {
	Box  image.Rectangle
	Area int
}

var (
	neighbourDX = [4]int{1, 0, -1, 0}
	neighbourDY = [4]int{0, 1, 0, -1}
)

// Label extracts the 4-connected components of m in raster-scan order of
// their first cell.
func Label(m *Mask) []Component {
	comps, _ := LabelWithMap(m)
	return comps
}

// LabelWithMap is Label plus a per-cell owner map: owners[y*W+x] is the
// 1-based index of the component containing the cell, or 0 for paper.
// The fill is iterative so large masks cannot exhaust the goroutine stack.
func LabelWithMap(m *Mask) ([]Component, []int32) {
	w, h := m.Width, m.Height
	owners := make([]int32, w*h)
	var comps []Component
	var stack []int

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if m.Bits[idx] == 0 || owners[idx] != 0 {
				continue
			}

			id := int32(len(comps) + 1)
			minX, maxX, minY, maxY := x, x, y, y
			area := 0

			owners[idx] = id
			stack = append(stack[:0], idx)
			for len(stack) > 0 {
				cur := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cx, cy := cur%w, cur/w
				area++
				if cx < minX {
					minX = cx
				}
				if cx > maxX {
					maxX = cx
				}
				if cy < minY {
					minY = cy
				}
				if cy > maxY {
					maxY = cy
				}
				for d := 0; d < 4; d++ {
					nx, ny := cx+neighbourDX[d], cy+neighbourDY[d]
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					nidx := ny*w + nx
					if m.Bits[nidx] == 1 && owners[nidx] == 0 {
						owners[nidx] = id
						stack = append(stack, nidx)
					}
				}
			}

			comps = append(comps, Component{
				Box:  image.Rect(minX, minY, maxX+1, maxY+1),
				Area: area,
			})
		}
	}
	return comps, owners
}
