package tgui

// Page is one page of a paginated list. Index is 0-based.
type Page[T any] struct {
	Items   []T
	Index   int
	Pages   int
	HasPrev bool
	HasNext bool
}

// Paginate returns page index of items, clamped into the valid range.
// An empty list yields a single empty page.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	pages := (len(items) + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if index >= pages {
		index = pages - 1
	}
	if index < 0 {
		index = 0
	}
	start := index * size
	end := min(start+size, len(items))
	if start > end {
		start = end
	}
	return Page[T]{
		Items:   items[start:end],
		Index:   index,
		Pages:   pages,
		HasPrev: index > 0,
		HasNext: end < len(items),
	}
}
