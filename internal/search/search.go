package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultLead    ResultType = "lead"
	ResultProject ResultType = "project"
	ResultChange  ResultType = "change_request"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId,omitempty"`
	ClientID  string     `json:"clientId,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterClientID string     // restrict to a single client's records
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexLead(l LeadRecord) error
	IndexProject(p ProjectRecord) error
	IndexChange(c ChangeRecord) error
	DeleteChange(id string) error
}

// LeadRecord is the data we index for a lead.
type LeadRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	SiteAddress string `json:"siteAddress"`
	ClientID    string `json:"clientId"`
	Status      string `json:"status"`
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	SiteAddress string `json:"siteAddress"`
	ClientID    string `json:"clientId"`
	Status      string `json:"status"`
}

// ChangeRecord is the data we index for a change request.
type ChangeRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	ProjectID string `json:"projectId"`
	ClientID  string `json:"clientId"`
	Status    string `json:"status"`
}
