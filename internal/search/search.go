package search

// ResultType identifies the level of the hierarchy a search hit came from.
type ResultType string

const (
	ResultParent     ResultType = "parent"
	ResultSubRoutine ResultType = "sub_routine"
	ResultRoutine    ResultType = "routine"
)

// Record is the data indexed for any hierarchy entity.
type Record struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Type        ResultType `json:"type"`
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Category string     `json:"category"`
	Snippet  string     `json:"snippet"`
}

// Query describes a search request, always scoped to one user.
type Query struct {
	UserID     string
	Text       string
	FilterType ResultType // empty = all levels
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a title search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}
