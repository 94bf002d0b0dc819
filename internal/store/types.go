package store

import "time"

// SearchID is a type-safe identifier for search history entries.
type SearchID string

// SearchMode records how a search was started.
type SearchMode string

const (
	SearchModeMethod     SearchMode = "method"     // Upstream search from a method
	SearchModeClass      SearchMode = "class"      // Class impact analysis
	SearchModeReference  SearchMode = "reference"  // Re-rooted at a reference's enclosing method
	SearchModeExhaustive SearchMode = "exhaustive" // Re-search of one node with the file scan forced
)

// SearchRecord is one entry of the search history.
type SearchRecord struct {
	ID         SearchID      `json:"id"`
	Symbol     string        `json:"symbol"`
	Namespace  string        `json:"namespace,omitempty"`
	File       string        `json:"file,omitempty"`
	Line       int           `json:"line"`
	Mode       SearchMode    `json:"mode"`
	Strategy   string        `json:"strategy,omitempty"` // Strategy label of the top-level resolution
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Methods    int           `json:"methods"`
	References int           `json:"references"`
	Cancelled  bool          `json:"cancelled,omitempty"`
}

// Stats holds counts of the persisted session.
type Stats struct {
	TreeCount   int       `json:"tree_count"`
	StateCount  int       `json:"state_count"`
	SearchCount int       `json:"search_count"`
	SavedAt     time.Time `json:"saved_at"`
	Root        string    `json:"root,omitempty"`
	Strategies  []string  `json:"strategies,omitempty"`
}
