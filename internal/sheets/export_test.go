package sheets

// Exported for tests.
var (
	NewWithService = newWithService
	ColumnLetter   = columnLetter
)
