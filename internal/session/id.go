package session

import "github.com/bwmarrin/snowflake"

// newFamilyID mints a new refresh-token family id from the injected
// snowflake node, the same id scheme used for other primary keys.
func newFamilyID(node *snowflake.Node) int64 {
	return node.Generate().Int64()
}
