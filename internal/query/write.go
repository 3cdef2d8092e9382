package query

// Op is a relation write operation.
type Op string

const (
	Connect    Op = "Connect"
	Create     Op = "Create"
	Update     Op = "Update"
	Disconnect Op = "Disconnect"
	Delete     Op = "Delete"
)

// Ops lists every relation operation in payload-suffix order.
var Ops = []Op{Connect, Create, Update, Disconnect, Delete}

// Write is a nested write instruction for one row.
type Write struct {
	Table     string
	ID        string
	Data      map[string]any
	Relations []*RelationWrite
}

// RelationWrite applies one operation to one relation of a Write.
type RelationWrite struct {
	Name string
	Link Link
	Op   Op
	// IDs targets Connect, Disconnect, and Delete. A one-to-one Disconnect
	// carries no ids.
	IDs []string
	// Writes carries the nested rows for Create and Update.
	Writes []*Write
}
