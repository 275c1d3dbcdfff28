package land

import (
	"time"

	"github.com/gmliao/landnet/internal/transport"
	"github.com/gmliao/landnet/pkg/auth"
)

// ID uniquely names a room instance: the land type plus an instance id.
type ID struct {
	Type     string
	Instance string
}

// DefaultInstance is the instance id used when a join names only a land type.
const DefaultInstance = "default"

func (id ID) String() string {
	return id.Type + "/" + id.Instance
}

// PlayerSession is the merged identity a session joins with. It is built by
// layering, in priority order: explicit join fields, the connection's
// AuthenticatedInfo, and a guest identity derived from the session id.
// Metadata is union-merged with join-provided keys winning.
type PlayerSession struct {
	PlayerID transport.PlayerID
	DeviceID string
	Metadata map[string]interface{}
}

// Stats is the per-land summary exposed by the manager.
type Stats struct {
	LandID      ID        `json:"land_id"`
	PlayerCount int       `json:"player_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// connContext is the pre-join connection state the router holds until the
// session's first join selects a land.
type connContext struct {
	clientID transport.ClientID
	authInfo *auth.AuthenticatedInfo
}
