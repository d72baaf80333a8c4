package database

const (
	defaultPerPage = 50
	maxPerPage     = 100
)

// pageWindow clamps a 1-based page request and returns its offset and limit.
func pageWindow(page, perPage int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}
	return (page - 1) * perPage, perPage
}

// lastPage is never below 1, even for an empty history.
func lastPage(total, perPage int) int {
	if total <= 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}
