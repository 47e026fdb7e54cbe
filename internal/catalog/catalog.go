package catalog

import (
	"time"

	"github.com/starford/wedecode/internal/models"
)

// Catalog defines the catalog operations. Consumers depend on this interface
// rather than the concrete *DB type.
type Catalog interface {
	RecordRun(id string, at time.Time, out models.RunOutcome, modules []ModuleRow) error
	DeleteRun(id string) error
	Run(id string) (*RunRow, error)
	Runs(limit int) ([]RunRow, error)
	LatestRun(output string) (*RunRow, error)
	Files(runID string) ([]models.FileSummary, error)
	Modules(f ModuleFilter) ([]ModuleRow, int, error)
	Module(runID, path string) (*ModuleRow, error)
	Search(runID, query string, limit int) ([]SearchResult, error)
	Dependents(runID, path string) ([]string, error)
	Graph(runID string) ([]GraphNode, []GraphLink, error)
	Close() error
}

// Verify *DB satisfies Catalog at compile time.
var _ Catalog = (*DB)(nil)
