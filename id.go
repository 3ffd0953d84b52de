package credits

import "github.com/xraph/credits/id"

// ID is the primary identifier type for all credit engine entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
