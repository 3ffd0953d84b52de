package credits

import "github.com/xraph/credits/types"

// Re-export common types for convenience so users don't have to import types package.

// Credits is re-exported from types package.
type Credits = types.Credits

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Credits constructors and helpers
var (
	FromInt   = types.FromInt
	FromParts = types.FromParts
	Sum       = types.Sum
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
