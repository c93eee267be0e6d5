package domain

// Page wraps any listing response.
//
// Invariants: len(Items) <= Size; Pages == ceil(Total/Size); Page is
// 1-indexed and within [1, max(Pages, 1)].
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"size"`
	Pages int `json:"pages"`
}

// PageInfo is the pagination state the store tracks for the visible job
// collection, without the items themselves.
type PageInfo struct {
	Page  int `json:"page"`
	Size  int `json:"size"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// PageCount returns ceil(total/size), never negative.
func PageCount(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
