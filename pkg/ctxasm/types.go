package ctxasm

import "time"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// ReadyResponse is the body of GET /ready.
type ReadyResponse struct {
	Status   string `json:"status"`
	Encoding string `json:"encoding,omitempty"`
}

// Config is a placement configuration. Keys are the camelCase names the
// server accepts, such as tokenBudget or trimDirection; omitted keys keep
// the server's defaults.
type Config map[string]any

// Match locates activation evidence in an entry's text, or in the text of
// the entry named by Source.
type Match struct {
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Start  int    `json:"start" yaml:"start"`
	End    int    `json:"end" yaml:"end"`
}

// Entry is one candidate for assembly.
type Entry struct {
	Identifier  string             `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Type        string             `json:"type,omitempty" yaml:"type,omitempty"`
	Text        string             `json:"text" yaml:"text"`
	Config      Config             `json:"config,omitempty" yaml:"config,omitempty"`
	Activations map[string][]Match `json:"activations,omitempty" yaml:"activations,omitempty"`
}

// Group collects the entries of one category into a single insertion.
type Group struct {
	Identifier string `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Category   string `json:"category" yaml:"category"`
	Config     Config `json:"config,omitempty" yaml:"config,omitempty"`
}

// AssembleRequest asks the server to build a context. Entries are listed
// in insertion order, highest priority first.
type AssembleRequest struct {
	TokenBudget int     `json:"tokenBudget,omitempty" yaml:"tokenBudget,omitempty"`
	Entries     []Entry `json:"entries" yaml:"entries"`
	Groups      []Group `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// Location is where an insertion landed.
type Location struct {
	Index       int  `json:"index"`
	Target      int  `json:"target"`
	Offset      int  `json:"offset"`
	KeyRelative bool `json:"keyRelative"`
}

// InsertionResult describes how an entry was placed, or why it was not.
type InsertionResult struct {
	Type       string   `json:"type"`
	Reason     string   `json:"reason,omitempty"`
	TokensUsed int      `json:"tokensUsed"`
	Shunted    int      `json:"shunted"`
	Location   Location `json:"location"`
}

// EntryReport is the outcome for one requested entry.
type EntryReport struct {
	Identifier string           `json:"identifier"`
	Type       string           `json:"type"`
	Result     *InsertionResult `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Included reports whether the entry made it into the context.
func (r EntryReport) Included() bool {
	return r.Result != nil && r.Result.Type != "rejected"
}

// OutputEntry is one contiguous piece of the assembled context.
type OutputEntry struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
	Text       string `json:"text"`
}

// AssembledContext is the server's answer to an AssembleRequest.
type AssembledContext struct {
	ID           string        `json:"id"`
	Content      string        `json:"content"`
	Tokens       []int         `json:"tokens"`
	TokenCount   int           `json:"tokenCount"`
	TokenBudget  int           `json:"tokenBudget"`
	Report       []EntryReport `json:"report"`
	Output       []OutputEntry `json:"output"`
	AssemblyTime time.Duration `json:"assemblyTime"`
}

// TrimRequest asks the server to fit one text into a budget.
type TrimRequest struct {
	Text        string `json:"text" yaml:"text"`
	TokenBudget int    `json:"tokenBudget" yaml:"tokenBudget"`
	Config      Config `json:"config,omitempty" yaml:"config,omitempty"`
}

// TrimResult is the server's answer to a TrimRequest.
type TrimResult struct {
	Text       string `json:"text"`
	Tokens     []int  `json:"tokens"`
	TokenCount int    `json:"tokenCount"`
	Fits       bool   `json:"fits"`
}

// TokensResult holds the encoding of a text.
type TokensResult struct {
	Encoding string `json:"encoding"`
	Tokens   []int  `json:"tokens,omitempty"`
	Count    int    `json:"count"`
}

// CacheStats describes the server's token cache.
type CacheStats struct {
	Encoding         string `json:"encoding"`
	Records          int    `json:"records"`
	StorageSizeBytes int64  `json:"storage_size_bytes"`
}
