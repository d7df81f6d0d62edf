package model

// Method identifies which strategy produced an extraction result.
type Method string

const (
	MethodLLM       Method = "llm"
	MethodHeuristic Method = "heuristic"
	MethodExternal  Method = "external"
)

// Unit tags the kind of value a strategy extracted.
type Unit string

const (
	UnitNone     Unit = ""
	UnitPercent  Unit = "%"
	UnitCurrency Unit = "currency"
)

// Result is one accepted extraction for a missing cell. Immutable: it is
// created once, cached under its memoization key, and referenced by output
// rows.
type Result struct {
	Value       float64 `json:"value"`
	Unit        Unit    `json:"unit"`
	Year        int     `json:"year"`
	Evidence    string  `json:"evidence"` // snippet, at most 240 chars
	Confidence  float64 `json:"confidence"`
	Method      Method  `json:"method"`
	ContentHash string  `json:"content_hash"`
	PageNo      int     `json:"page_no"`
	OriginURL   string  `json:"origin_url"`
	Filename    string  `json:"filename"`
}

// MissingCell is one empty cell of an input dataset: an indicator row
// crossed with a year column.
type MissingCell struct {
	Dataset   string `json:"dataset"`
	RowIdx    int    `json:"row_idx"`
	Indicator string `json:"indicator"`
	Category  string `json:"category,omitempty"`
	Year      int    `json:"year"`
}

// CellStatus is the terminal state of one cell's extraction cascade.
type CellStatus string

const (
	CellAccepted CellStatus = "ACCEPTED"
	CellNotFound CellStatus = "NOT_FOUND"
)

// CellResolution is the orchestrator's outcome for one missing cell.
type CellResolution struct {
	Cell   MissingCell `json:"cell"`
	Status CellStatus  `json:"status"`
	Result *Result     `json:"result,omitempty"`
}

// SourceRow is one line of the source-traceability output. One row is
// written per attempted (candidate, strategy) pair, accepted or not.
type SourceRow struct {
	Indicator   string  `csv:"indicator"`
	Year        int     `csv:"year"`
	Value       string  `csv:"value"`
	Unit        string  `csv:"unit"`
	Confidence  float64 `csv:"confidence"`
	Method      string  `csv:"method"`
	Accepted    bool    `csv:"accepted"`
	OriginURL   string  `csv:"origin_url"`
	Filename    string  `csv:"filename"`
	ContentHash string  `csv:"content_hash"`
	PageNo      int     `csv:"page_no"`
	Evidence    string  `csv:"evidence_snippet"`
}

// QueryRow is one line of the query audit output.
type QueryRow struct {
	Indicator      string `csv:"indicator"`
	Year           int    `csv:"year"`
	CanonicalQuery string `csv:"canonical_query"`
	VariantQuery   string `csv:"variant_query"`
}
