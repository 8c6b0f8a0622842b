package types

import "time"

// a room is the durable system-of-record document binding an external name
// to the identifier issued when it was first created
// resource_name is unique and acts as the primary key
type Room struct {
	Name      string    `json:"resource_name"`
	ID        string    `json:"resource_id"`
	CreatedAt time.Time `json:"created_at"`
}

// selects documents by name
// the zero filter matches every document
type Filter struct {
	Name  string
	Names []string
}

// true when the filter places no constraint on names
func (f Filter) IsZero() bool {
	return f.Name == "" && len(f.Names) == 0
}

// reports whether a document name passes the filter
func (f Filter) Match(name string) bool {
	if f.IsZero() {
		return true
	}
	if f.Name != "" && f.Name == name {
		return true
	}
	for _, n := range f.Names {
		if n == name {
			return true
		}
	}
	return false
}

// projection selects which document fields a scan populates
// the name is always populated
type Projection struct {
	ID        bool
	CreatedAt bool
}

// every field
var FullProjection = Projection{ID: true, CreatedAt: true}

// applies the projection to a copy of the room
func (p Projection) Apply(r Room) Room {
	out := Room{Name: r.Name}
	if p.ID {
		out.ID = r.ID
	}
	if p.CreatedAt {
		out.CreatedAt = r.CreatedAt
	}
	return out
}
